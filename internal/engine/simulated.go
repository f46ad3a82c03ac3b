package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/laurencee/wow-recorder/internal/settings"
)

// ErrShutdown is returned by calls on an engine that has been shut down.
var ErrShutdown = errors.New("engine: shut down")

// Simulated walks through the engine state machine without capturing any
// media. It backs the dry-run mode of the binary and the orchestrator tests.
type Simulated struct {
	log *slog.Logger

	mu        sync.Mutex
	state     State
	mic       MicState
	shutdown  bool
	audio     bool
	bufferDir string
	startErr  error
	calls     map[string]int
	nextSubID int
	subs      map[int]func(Event)
}

// NewSimulated returns an Offline simulated engine.
func NewSimulated(log *slog.Logger) *Simulated {
	return &Simulated{
		log:   log,
		calls: make(map[string]int),
		subs:  make(map[int]func(Event)),
	}
}

// SimulatedFactory returns a Factory producing Simulated engines. Every
// engine it built is appended to *built when built is non-nil.
func SimulatedFactory(log *slog.Logger, built *[]*Simulated) Factory {
	var mu sync.Mutex
	return func() (Engine, error) {
		e := NewSimulated(log)
		if built != nil {
			mu.Lock()
			*built = append(*built, e)
			mu.Unlock()
		}
		return e, nil
	}
}

// FailStart makes subsequent Start calls fail with err until cleared with nil.
func (s *Simulated) FailStart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// Crash emits a crash event carrying diagnostic.
func (s *Simulated) Crash(diagnostic string) {
	s.mu.Lock()
	s.state = Offline
	s.mu.Unlock()
	s.emit(Event{Kind: EventCrash, State: Offline, Diagnostic: diagnostic})
}

// Calls returns how many times the named method ran.
func (s *Simulated) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// HasAudioSources reports whether audio sources are attached.
func (s *Simulated) HasAudioSources() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// Subscribers returns the number of attached subscribers.
func (s *Simulated) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// IsShutdown reports whether Shutdown was called.
func (s *Simulated) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Simulated) Start(ctx context.Context) error {
	if err := s.begin("Start"); err != nil {
		return err
	}
	s.mu.Lock()
	if s.startErr != nil {
		err := s.startErr
		s.mu.Unlock()
		return fmt.Errorf("start: %w", err)
	}
	if s.state == Recording {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.transition(Starting)
	s.transition(Recording)
	s.log.Debug("simulated engine recording")
	return nil
}

func (s *Simulated) Stop(ctx context.Context) error {
	if err := s.begin("Stop"); err != nil {
		return err
	}
	if s.State() == Offline {
		return nil
	}
	s.transition(Stopping)
	s.writeBuffer()
	s.transition(Offline)
	return nil
}

// writeBuffer leaves a stand-in for the media file a real engine would
// have flushed into the buffer directory.
func (s *Simulated) writeBuffer() {
	s.mu.Lock()
	dir := s.bufferDir
	s.mu.Unlock()
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("simulated buffer dir", "error", err)
		return
	}
	name := time.Now().Format("2006-01-02 15-04-05.000") + ".mp4"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("simulated"), 0o644); err != nil {
		s.log.Warn("simulated buffer write", "error", err)
	}
}

func (s *Simulated) ConfigureBase(ctx context.Context, cfg settings.BaseConfig) error {
	if err := s.configure("ConfigureBase"); err != nil {
		return err
	}
	s.mu.Lock()
	s.bufferDir = cfg.BufferPath()
	s.mu.Unlock()
	return nil
}

func (s *Simulated) ConfigureVideo(ctx context.Context, cfg settings.VideoConfig) error {
	return s.configure("ConfigureVideo")
}

func (s *Simulated) ConfigureAudio(ctx context.Context, cfg settings.AudioConfig) error {
	return s.begin("ConfigureAudio")
}

func (s *Simulated) ConfigureOverlay(ctx context.Context, cfg settings.OverlayConfig) error {
	return s.begin("ConfigureOverlay")
}

func (s *Simulated) ConfigureAudioSources(ctx context.Context, cfg settings.AudioConfig) error {
	if err := s.begin("ConfigureAudioSources"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = true
	if len(cfg.InputDevices) > 0 {
		s.mic = MicListening
		if cfg.PushToTalk {
			s.mic = MicMuted
		}
	}
	return nil
}

func (s *Simulated) RemoveAudioSources() {
	_ = s.begin("RemoveAudioSources")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = false
	s.mic = MicInactive
}

func (s *Simulated) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Shutdown"]++
	s.shutdown = true
	s.state = Offline
	return nil
}

func (s *Simulated) Cleanup(ctx context.Context) error {
	return s.begin("Cleanup")
}

func (s *Simulated) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulated) MicState() MicState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mic
}

func (s *Simulated) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// configure rejects reconfiguration of outputs while recording, matching
// the native engine which requires a stopped output.
func (s *Simulated) configure(method string) error {
	if err := s.begin(method); err != nil {
		return err
	}
	if st := s.State(); st != Offline {
		return fmt.Errorf("%s: engine is %s", method, st)
	}
	return nil
}

func (s *Simulated) begin(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if s.shutdown {
		return ErrShutdown
	}
	return nil
}

func (s *Simulated) transition(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChange, State: to})
}

func (s *Simulated) emit(ev Event) {
	s.mu.Lock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
