package orchestrator

import (
	"context"
	"sync"

	"github.com/laurencee/wow-recorder/internal/poller"
	"github.com/laurencee/wow-recorder/internal/settings"
	"github.com/laurencee/wow-recorder/internal/storage/cloud"
	"github.com/laurencee/wow-recorder/internal/video"
	"github.com/laurencee/wow-recorder/internal/watcher"
)

type fakeSettings struct {
	mu   sync.Mutex
	st   settings.Settings
	err  error
	subs []func()
}

func (s *fakeSettings) Current() (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, s.err
}

func (s *fakeSettings) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// update edits the settings and notifies subscribers.
func (s *fakeSettings) update(fn func(*settings.Settings)) {
	s.mu.Lock()
	fn(&s.st)
	subs := append([]func(){}, s.subs...)
	s.mu.Unlock()
	for _, f := range subs {
		f()
	}
}

type fakePoller struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	flavour settings.FlavourConfig
	subs    map[int]func(poller.Event)
	next    int
}

func newFakePoller() *fakePoller { return &fakePoller{subs: make(map[int]func(poller.Event))} }

func (p *fakePoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
}

func (p *fakePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakePoller) ReconfigureFlavour(cfg settings.FlavourConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flavour = cfg
}

func (p *fakePoller) Subscribe(fn func(poller.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *fakePoller) counts() (starts, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

// set flips the running state and emits the edge.
func (p *fakePoller) set(running bool) {
	p.mu.Lock()
	p.running = running
	subs := make([]func(poller.Event), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	ev := poller.ProcessStop
	if running {
		ev = poller.ProcessStart
	}
	for _, fn := range subs {
		fn(ev)
	}
}

type fakeWatcher struct {
	cfg watcher.Config

	mu          sync.Mutex
	activity    bool
	overrunning bool
	panicking   bool
	forceEnded  int
	destroyed   bool
	tests       []video.Category
	subs        map[int]func()
	next        int
}

func (w *fakeWatcher) Flavour() watcher.Flavour { return w.cfg.Flavour }

func (w *fakeWatcher) Activity() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.panicking {
		panic("watcher state corrupted")
	}
	return w.activity
}

func (w *fakeWatcher) Overrunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.overrunning
}

func (w *fakeWatcher) ForceEndActivity(ctx context.Context) error {
	w.mu.Lock()
	if !w.activity {
		w.mu.Unlock()
		return watcher.ErrNoActivity
	}
	w.activity, w.overrunning = false, false
	w.forceEnded++
	w.mu.Unlock()
	return w.cfg.Engine.Stop(ctx)
}

func (w *fakeWatcher) Test(ctx context.Context, category video.Category) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tests = append(w.tests, category)
	return nil
}

func (w *fakeWatcher) Subscribe(fn func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subs == nil {
		w.subs = make(map[int]func())
	}
	id := w.next
	w.next++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

func (w *fakeWatcher) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.destroyed = true
}

func (w *fakeWatcher) isDestroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

func (w *fakeWatcher) subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func (w *fakeWatcher) forced() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.forceEnded
}

// set changes the activity flags and notifies subscribers.
func (w *fakeWatcher) set(activity, overrunning bool) {
	w.mu.Lock()
	w.activity, w.overrunning = activity, overrunning
	subs := make([]func(), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

type watcherFactory struct {
	mu    sync.Mutex
	built []*fakeWatcher
}

func (f *watcherFactory) build(ctx context.Context, cfg watcher.Config) (watcher.LogWatcher, error) {
	w := &fakeWatcher{cfg: cfg}
	f.mu.Lock()
	f.built = append(f.built, w)
	f.mu.Unlock()
	return w, nil
}

func (f *watcherFactory) all() []*fakeWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeWatcher(nil), f.built...)
}

// latest returns the most recently built watcher for flavour.
func (f *watcherFactory) latest(flavour watcher.Flavour) *fakeWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.built) - 1; i >= 0; i-- {
		if f.built[i].cfg.Flavour == flavour {
			return f.built[i]
		}
	}
	return nil
}

// hangingStore never answers a ping until released.
type hangingStore struct {
	*cloud.Memory
	release chan struct{}
}

func (s *hangingStore) Ping(ctx context.Context) error {
	<-s.release
	return nil
}

// stopEmitter reports a burst of edges from inside Stop, the way the poll
// goroutine can while Stop waits for it to exit.
type stopEmitter struct {
	*fakePoller
	burst int
}

func (p *stopEmitter) Stop() {
	p.fakePoller.Stop()
	for i := 0; i < p.burst; i++ {
		p.set(false)
	}
}
