package videoqueue

import (
	"errors"
	"sort"
	"sync"
)

// Repository is the concurrency-safe record of save jobs.
type Repository interface {
	// Add records a queued job. Adding an existing ID is a no-op.
	Add(j Job) error
	// Finish moves a queued job to a final state.
	Finish(id JobID, state JobState, path string, err error) error
	// Snapshot returns every job, oldest first.
	Snapshot() []Job
	// Pending returns the number of queued jobs.
	Pending() int
}

var (
	// ErrUnknownJob is returned when finishing a job that was never added.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobFinished is returned when finishing a job twice.
	ErrJobFinished = errors.New("job already finished")
)

// InMemoryRepository keeps at most limit finished jobs; older finished
// jobs are forgotten first.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	limit int
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository(limit int) *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore(), limit)
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store, limit int) *InMemoryRepository {
	if limit <= 0 {
		limit = 100
	}
	return &InMemoryRepository{store: store, limit: limit}
}

func (r *InMemoryRepository) Add(j Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetJob(j.ID); exists {
		return nil
	}
	j.State = JobQueued
	r.store.SetJob(&j)
	return nil
}

func (r *InMemoryRepository) Finish(id JobID, state JobState, path string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.store.GetJob(id)
	if !ok {
		return ErrUnknownJob
	}
	if j.State != JobQueued {
		return ErrJobFinished
	}
	j.State = state
	j.Path = path
	if err != nil {
		j.Error = err.Error()
	}
	r.trimLocked()
	return nil
}

func (r *InMemoryRepository) Snapshot() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *InMemoryRepository) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListJobIDs() {
		if j, ok := r.store.GetJob(id); ok && j.State == JobQueued {
			n++
		}
	}
	return n
}

// sortedLocked returns copies of all jobs ordered by enqueue time.
// Caller must hold r.mu.
func (r *InMemoryRepository) sortedLocked() []Job {
	ids := r.store.ListJobIDs()
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := r.store.GetJob(id); ok {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].EnqueuedAt.Equal(jobs[j].EnqueuedAt) {
			return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// trimLocked forgets the oldest finished jobs beyond the limit.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) trimLocked() {
	jobs := r.sortedLocked()
	finished := 0
	for _, j := range jobs {
		if j.State != JobQueued {
			finished++
		}
	}
	for _, j := range jobs {
		if finished <= r.limit {
			return
		}
		if j.State != JobQueued {
			r.store.DeleteJob(j.ID)
			finished--
		}
	}
}
