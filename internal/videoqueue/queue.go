// Package videoqueue saves finished activities: it moves the engine's
// buffer output into the storage directory, writes the metadata sidecar,
// uploads to the cloud when configured and prunes old videos.
package videoqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laurencee/wow-recorder/internal/storage/disk"
	"github.com/laurencee/wow-recorder/internal/video"
)

// ErrFull is returned by Enqueue when the backlog is full.
var ErrFull = errors.New("videoqueue: backlog full")

// errNoOutput marks jobs with no buffer output to save.
var errNoOutput = errors.New("no buffer output since activity start")

// CloudUploader is the part of the cloud store the queue needs.
type CloudUploader interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
}

// Pruner trims a storage directory down to a size.
type Pruner interface {
	Prune(ctx context.Context, dir string, maxBytes int64) ([]string, error)
}

// Queue runs save jobs one at a time, in order.
type Queue struct {
	log    *slog.Logger
	repo   Repository
	pruner Pruner
	jobs   chan JobID
	now    func() time.Time

	mu      sync.RWMutex
	target  Target
	pending map[JobID]Job
	onSaved []func(Job)
}

// New returns a Queue holding at most backlog unprocessed jobs.
func New(log *slog.Logger, repo Repository, pruner Pruner, backlog int) *Queue {
	if backlog <= 0 {
		backlog = 16
	}
	return &Queue{
		log:     log,
		repo:    repo,
		pruner:  pruner,
		jobs:    make(chan JobID, backlog),
		now:     time.Now,
		pending: make(map[JobID]Job),
	}
}

// Configure replaces the save target. Jobs already queued use the target
// current when they run.
func (q *Queue) Configure(t Target) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.target = t
}

// OnSaved registers fn to run after every job reaches a final state.
func (q *Queue) OnSaved(fn func(Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSaved = append(q.onSaved, fn)
}

// Enqueue assigns j an ID and queues it.
func (q *Queue) Enqueue(j Job) (JobID, error) {
	j.ID = JobID(uuid.NewString())
	j.EnqueuedAt = q.now()
	if err := q.repo.Add(j); err != nil {
		return "", err
	}
	q.mu.Lock()
	q.pending[j.ID] = j
	q.mu.Unlock()

	select {
	case q.jobs <- j.ID:
		q.log.Info("save job queued", "job", j.ID, "flavour", j.Flavour, "category", j.Metadata.Category)
		return j.ID, nil
	default:
		q.mu.Lock()
		delete(q.pending, j.ID)
		q.mu.Unlock()
		_ = q.repo.Finish(j.ID, JobFailed, "", ErrFull)
		return "", ErrFull
	}
}

// Jobs returns every tracked job, oldest first.
func (q *Queue) Jobs() []Job { return q.repo.Snapshot() }

// Run processes jobs until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			q.mu.Lock()
			j := q.pending[id]
			delete(q.pending, id)
			target := q.target
			q.mu.Unlock()
			q.process(ctx, target, j)
		}
	}
}

func (q *Queue) process(ctx context.Context, t Target, j Job) {
	path, err := q.save(ctx, t, j)
	state := JobSaved
	switch {
	case errors.Is(err, errNoOutput):
		state = JobSkipped
		q.log.Warn("save job skipped", "job", j.ID, "reason", err)
	case err != nil:
		state = JobFailed
		q.log.Error("save job failed", "job", j.ID, "error", err)
	default:
		q.log.Info("video saved", "job", j.ID, "path", path)
	}
	if ferr := q.repo.Finish(j.ID, state, path, err); ferr != nil {
		q.log.Error("record job result", "job", j.ID, "error", ferr)
	}

	j.State, j.Path = state, path
	q.mu.RLock()
	subs := append([]func(Job){}, q.onSaved...)
	q.mu.RUnlock()
	for _, fn := range subs {
		fn(j)
	}
}

func (q *Queue) save(ctx context.Context, t Target, j Job) (string, error) {
	if t.StorageDir == "" {
		return "", errors.New("no storage directory configured")
	}
	src, err := newestSince(t.BufferDir, j.Since)
	if err != nil {
		return "", err
	}

	start := j.Since
	if j.Metadata.Start != nil {
		start = *j.Metadata.Start
	} else {
		j.Metadata.Start = &start
	}
	name := video.FileName(start, j.Metadata.Category, j.Metadata.Encounter)
	dst, err := disk.Import(src, t.StorageDir, name)
	if err != nil {
		return "", fmt.Errorf("import buffer output: %w", err)
	}
	if err := disk.WriteMetadata(t.StorageDir, name, j.Metadata); err != nil {
		return dst, fmt.Errorf("write metadata: %w", err)
	}

	if t.Upload && t.Cloud != nil {
		if err := upload(ctx, t.Cloud, dst, name, j.Metadata); err != nil {
			return dst, fmt.Errorf("upload: %w", err)
		}
	}

	if t.MaxBytes > 0 && q.pruner != nil {
		pruned, err := q.pruner.Prune(ctx, t.StorageDir, t.MaxBytes)
		if err != nil {
			q.log.Warn("prune storage", "error", err)
		}
		for _, p := range pruned {
			q.log.Info("pruned video", "name", p)
		}
	}
	return dst, nil
}

func upload(ctx context.Context, c CloudUploader, path, name string, md video.Metadata) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := c.Put(ctx, name+video.MediaExt, f, "video/mp4"); err != nil {
		return err
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return c.Put(ctx, name+video.MetadataExt, bytes.NewReader(raw), "application/json")
}

// newestSince returns the most recently modified media file in dir whose
// modification time is not before since.
func newestSince(dir string, since time.Time) (string, error) {
	if dir == "" {
		return "", errNoOutput
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", errNoOutput
	}
	if err != nil {
		return "", fmt.Errorf("read buffer dir: %w", err)
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != video.MediaExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if mod.Before(since) {
			continue
		}
		if best == "" || mod.After(bestMod) {
			best, bestMod = filepath.Join(dir, e.Name()), mod
		}
	}
	if best == "" {
		return "", errNoOutput
	}
	return best, nil
}
