package videoqueue

import (
	"time"

	"github.com/laurencee/wow-recorder/internal/video"
)

// JobID uniquely identifies a save job.
type JobID string

// JobState is the lifecycle of a save job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobSaved   JobState = "saved"
	JobSkipped JobState = "skipped"
	JobFailed  JobState = "failed"
)

// Job asks the queue to turn the engine's latest buffer output into a
// stored video. This also matches the JSON shape exposed by the status API.
type Job struct {
	ID       JobID          `json:"id"`
	Flavour  string         `json:"flavour"`
	Metadata video.Metadata `json:"metadata"`
	// Since bounds the buffer files considered: only output written at or
	// after Since belongs to this job.
	Since time.Time `json:"since"`

	// Managed by the queue.
	State      JobState  `json:"state"`
	Error      string    `json:"error,omitempty"`
	Path       string    `json:"path,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Target is where saved videos go. It follows the base storage settings.
type Target struct {
	StorageDir string
	BufferDir  string
	// MaxBytes of zero disables pruning.
	MaxBytes int64
	// Upload sends saved videos to Cloud when both are set.
	Upload bool
	Cloud  CloudUploader
}
