package videoqueue

// Store is the persistence abstraction for job state. The Repository uses
// Store for all reads and writes.
type Store interface {
	GetJob(id JobID) (*Job, bool)
	SetJob(j *Job)
	DeleteJob(id JobID)
	ListJobIDs() []JobID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	jobs map[JobID]*Job
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{jobs: make(map[JobID]*Job)}
}

func (s *InMemoryStore) GetJob(id JobID) (*Job, bool) {
	j, ok := s.jobs[id]
	return j, ok
}

func (s *InMemoryStore) SetJob(j *Job) {
	s.jobs[j.ID] = j
}

func (s *InMemoryStore) DeleteJob(id JobID) {
	delete(s.jobs, id)
}

func (s *InMemoryStore) ListJobIDs() []JobID {
	ids := make([]JobID, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
