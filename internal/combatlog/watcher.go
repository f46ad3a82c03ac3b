// Package combatlog is a minimal log watcher. It tails the newest combat
// log in a directory and turns encounter start and end markers into
// activities.
package combatlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/laurencee/wow-recorder/internal/video"
	"github.com/laurencee/wow-recorder/internal/videoqueue"
	"github.com/laurencee/wow-recorder/internal/watcher"
)

// DefaultTestLength is how long a synthetic test activity lasts.
const DefaultTestLength = 5 * time.Second

const logPrefix = "WoWCombatLog"

type activity struct {
	start     time.Time
	category  video.Category
	encounter string
	hash      string
	test      bool

	ended   bool
	endAt   time.Time
	success bool
}

// Watcher implements watcher.LogWatcher over a combat log directory.
type Watcher struct {
	// ctx outlives any request; timer-driven activity ends run under it.
	ctx        context.Context
	cfg        watcher.Config
	log        *slog.Logger
	fsw        *fsnotify.Watcher
	now        func() time.Time
	testLength time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	file      string
	offset    int64
	partial   []byte
	act       *activity
	timer     *time.Timer
	subs      map[int]func()
	nextSubID int
}

// NewFactory returns a watcher.Factory building combat log watchers.
func NewFactory(log *slog.Logger) watcher.Factory {
	return func(ctx context.Context, cfg watcher.Config) (watcher.LogWatcher, error) {
		return New(ctx, log, cfg)
	}
}

// New starts watching cfg.LogDir. Lines already in the log are ignored.
func New(ctx context.Context, log *slog.Logger, cfg watcher.Config) (*Watcher, error) {
	info, err := os.Stat(cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("log dir %s is not a directory", cfg.LogDir)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.LogDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.LogDir, err)
	}

	w := &Watcher{
		ctx:        ctx,
		cfg:        cfg,
		log:        log.With("flavour", string(cfg.Flavour)),
		fsw:        fsw,
		now:        time.Now,
		testLength: DefaultTestLength,
		done:       make(chan struct{}),
		subs:       make(map[int]func()),
	}
	if path, size, ok := newestLog(cfg.LogDir); ok {
		w.file, w.offset = path, size
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isLog(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.read(ctx, ev.Name); err != nil {
				w.log.Warn("read combat log", "file", filepath.Base(ev.Name), "error", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("combat log watch error", "error", err)
		}
	}
}

func isLog(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, logPrefix) && strings.HasSuffix(base, ".txt")
}

func newestLog(dir string) (string, int64, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, false
	}
	var best string
	var bestInfo os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !isLog(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if bestInfo == nil || info.ModTime().After(bestInfo.ModTime()) {
			best, bestInfo = filepath.Join(dir, e.Name()), info
		}
	}
	if bestInfo == nil {
		return "", 0, false
	}
	return best, bestInfo.Size(), true
}

// read consumes whatever was appended to path since the last read. A new
// log file replaces the one being tailed and is read from the start.
func (w *Watcher) read(ctx context.Context, path string) error {
	w.mu.Lock()
	if path != w.file {
		w.file, w.offset, w.partial = path, 0, nil
	}
	offset := w.offset
	w.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.offset = offset + int64(len(chunk))
	data := append(w.partial, chunk...)
	cut := bytes.LastIndexByte(data, '\n')
	var lines []byte
	if cut >= 0 {
		lines, w.partial = data[:cut+1], append([]byte(nil), data[cut+1:]...)
	} else {
		w.partial = data
	}
	w.mu.Unlock()

	for _, line := range strings.Split(string(lines), "\n") {
		if m, ok := ParseLine(line); ok {
			w.handle(ctx, m)
		}
	}
	return nil
}

func (w *Watcher) handle(ctx context.Context, m Marker) {
	switch m.Kind {
	case encounterStart:
		w.begin(ctx, &activity{
			category:  video.CategoryRaids,
			encounter: m.Encounter,
			hash:      m.Hash(),
		})
	case encounterEnd:
		w.end(ctx, m.Success)
	}
}

// begin starts a. An activity still in its overrun is saved first.
func (w *Watcher) begin(ctx context.Context, a *activity) bool {
	w.mu.Lock()
	if cur := w.act; cur != nil {
		if !cur.ended {
			w.mu.Unlock()
			w.log.Debug("activity already in progress", "encounter", cur.encounter)
			return false
		}
		w.mu.Unlock()
		_ = w.finish(ctx, false)
		w.mu.Lock()
	}
	a.start = w.now()
	w.act = a
	w.mu.Unlock()

	w.log.Info("activity started", "category", a.category, "encounter", a.encounter)
	w.notify()
	return true
}

// end marks the activity ended and keeps recording for the overrun, which
// finishes under the watcher's own context.
func (w *Watcher) end(ctx context.Context, success bool) {
	w.mu.Lock()
	a := w.act
	if a == nil || a.ended {
		w.mu.Unlock()
		return
	}
	a.ended, a.success, a.endAt = true, success, w.now()
	overrun := w.cfg.Overrun
	if overrun > 0 {
		w.timer = time.AfterFunc(overrun, func() { _ = w.finish(w.ctx, true) })
	}
	w.mu.Unlock()

	w.log.Info("activity ended", "encounter", a.encounter, "success", success, "overrun", overrun)
	if overrun <= 0 {
		_ = w.finish(ctx, true)
		return
	}
	w.notify()
}

// finish closes the current activity: the engine is stopped so the buffer
// is flushed, a save job is queued, and when restart is set the engine
// resumes buffering.
func (w *Watcher) finish(ctx context.Context, restart bool) error {
	w.mu.Lock()
	a := w.act
	if a == nil {
		w.mu.Unlock()
		return watcher.ErrNoActivity
	}
	w.act = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	end := a.endAt
	if !a.ended {
		end = w.now()
	}
	w.mu.Unlock()
	w.notify()

	if err := w.cfg.Engine.Stop(ctx); err != nil {
		w.log.Error("stop engine at activity end", "error", err)
	}

	duration := end.Sub(a.start)
	var err error
	if !a.test && duration < w.cfg.MinDuration {
		w.log.Info("activity too short, discarded", "encounter", a.encounter, "duration", duration)
	} else {
		err = w.enqueue(a, duration)
	}

	if restart {
		if serr := w.cfg.Engine.Start(ctx); serr != nil {
			w.log.Error("restart engine after activity", "error", serr)
		}
	}
	return err
}

func (w *Watcher) enqueue(a *activity, duration time.Duration) error {
	if w.cfg.Queue == nil {
		return nil
	}
	start := a.start
	_, err := w.cfg.Queue.Enqueue(videoqueue.Job{
		Flavour: string(w.cfg.Flavour),
		Since:   a.start,
		Metadata: video.Metadata{
			Category:   a.category,
			Start:      &start,
			UniqueHash: a.hash,
			Player:     w.cfg.Player,
			Flavour:    string(w.cfg.Flavour),
			Encounter:  a.encounter,
			Duration:   duration.Seconds(),
			Success:    a.success,
		},
	})
	if err != nil {
		w.log.Error("queue activity", "encounter", a.encounter, "error", err)
	}
	return err
}

func (w *Watcher) Flavour() watcher.Flavour { return w.cfg.Flavour }

func (w *Watcher) Activity() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.act != nil
}

func (w *Watcher) Overrunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.act != nil && w.act.ended
}

// ForceEndActivity saves the current activity without restarting the
// engine.
func (w *Watcher) ForceEndActivity(ctx context.Context) error {
	return w.finish(ctx, false)
}

// Test starts a synthetic activity that ends successfully after the test
// length. Its hash is unique so it never correlates with real videos. ctx
// only covers starting it; the end runs after the caller has returned.
func (w *Watcher) Test(ctx context.Context, category video.Category) error {
	a := &activity{category: category, encounter: "Test", hash: "test-" + uuid.NewString(), test: true}
	if !w.begin(ctx, a) {
		return errors.New("cannot test while an activity is in progress")
	}
	w.mu.Lock()
	w.timer = time.AfterFunc(w.testLength, func() { w.end(w.ctx, true) })
	w.mu.Unlock()
	return nil
}

func (w *Watcher) Subscribe(fn func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSubID
	w.nextSubID++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Destroy stops the watcher. An activity in progress is dropped.
func (w *Watcher) Destroy() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.wg.Wait()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.act = nil
		clear(w.subs)
		w.mu.Unlock()
	})
}

func (w *Watcher) notify() {
	w.mu.Lock()
	subs := make([]func(), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
