// Package engine defines the recording engine capability consumed by the
// orchestrator. The native engine lives outside this module; Simulated
// implements the same contract without capturing anything.
package engine

import (
	"context"

	"github.com/laurencee/wow-recorder/internal/settings"
)

// State is the engine's output state.
type State int

const (
	Offline State = iota
	Starting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MicState reports the microphone capture state.
type MicState int

const (
	MicInactive MicState = iota
	MicMuted
	MicListening
)

func (m MicState) String() string {
	switch m {
	case MicMuted:
		return "muted"
	case MicListening:
		return "listening"
	default:
		return "inactive"
	}
}

// EventKind enumerates engine notifications.
type EventKind int

const (
	// EventStateChange fires after every State transition.
	EventStateChange EventKind = iota
	// EventCrash fires once when the engine process dies.
	EventCrash
)

// Event is delivered to subscribers.
type Event struct {
	Kind       EventKind
	State      State
	Diagnostic string
}

// Engine is the recording engine. Calls that mutate it must not overlap;
// the orchestrator serialises them.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ConfigureBase(ctx context.Context, cfg settings.BaseConfig) error
	ConfigureVideo(ctx context.Context, cfg settings.VideoConfig) error
	ConfigureAudio(ctx context.Context, cfg settings.AudioConfig) error
	ConfigureOverlay(ctx context.Context, cfg settings.OverlayConfig) error
	ConfigureAudioSources(ctx context.Context, cfg settings.AudioConfig) error
	RemoveAudioSources()
	// Shutdown releases the engine for good. The handle is unusable after.
	Shutdown(ctx context.Context) error
	// Cleanup removes stale buffer files left by earlier recordings.
	Cleanup(ctx context.Context) error
	State() State
	MicState() MicState
	// Subscribe registers fn for every event; the returned func detaches it.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Factory builds a fresh engine handle. Called once at startup and again
// after every crash.
type Factory func() (Engine, error)
