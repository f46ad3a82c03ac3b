// Package watcher defines the log watcher capability: one watcher per game
// flavour, reporting activities as they start, overrun and end.
package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/laurencee/wow-recorder/internal/engine"
	"github.com/laurencee/wow-recorder/internal/video"
	"github.com/laurencee/wow-recorder/internal/videoqueue"
)

// Flavour is a game client flavour.
type Flavour string

const (
	Retail  Flavour = "retail"
	Classic Flavour = "classic"
)

// ErrNoActivity is returned by ForceEndActivity when nothing is in progress.
var ErrNoActivity = errors.New("watcher: no activity in progress")

// LogWatcher follows one flavour's combat log.
type LogWatcher interface {
	Flavour() Flavour
	// Activity reports whether an activity is in progress, including its
	// overrun.
	Activity() bool
	// Overrunning reports whether the activity has ended in the log but is
	// still being recorded.
	Overrunning() bool
	// ForceEndActivity ends the activity now and queues what was captured.
	ForceEndActivity(ctx context.Context) error
	// Test runs a short synthetic activity of the given category.
	Test(ctx context.Context, category video.Category) error
	// Subscribe registers fn for every activity state change; the returned
	// func detaches it.
	Subscribe(fn func()) (unsubscribe func())
	// Destroy stops watching and detaches every subscriber.
	Destroy()
}

// Enqueuer accepts save jobs.
type Enqueuer interface {
	Enqueue(j videoqueue.Job) (videoqueue.JobID, error)
}

// Config is everything a watcher needs.
type Config struct {
	Flavour Flavour
	LogDir  string
	Engine  engine.Engine
	Queue   Enqueuer
	// Player is stamped on saved videos as the point of view name.
	Player string
	// MinDuration discards shorter activities.
	MinDuration time.Duration
	// Overrun keeps recording after the end marker.
	Overrun time.Duration
}

// Factory builds a watcher and starts it.
type Factory func(ctx context.Context, cfg Config) (LogWatcher, error)
