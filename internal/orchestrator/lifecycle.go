package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/laurencee/wow-recorder/internal/engine"
	"github.com/laurencee/wow-recorder/internal/reconcile"
	"github.com/laurencee/wow-recorder/internal/settings"
	"github.com/laurencee/wow-recorder/internal/status"
	"github.com/laurencee/wow-recorder/internal/video"
	"github.com/laurencee/wow-recorder/internal/watcher"
)

// onProcessStart starts the buffer once configuration has been applied.
// A failure leaves the recorder waiting; the next process start retries.
func (m *Manager) onProcessStart(ctx context.Context) {
	if m.ConfigErr() != nil || m.rec.Initial(StageBase) {
		m.log.Info("game started but configuration is not applied, not recording")
		return
	}
	m.startBuffer(ctx)
}

func (m *Manager) startBuffer(ctx context.Context) {
	m.mu.Lock()
	audio := m.audio
	m.mu.Unlock()

	err := m.withEngine(func(e engine.Engine) error {
		if e.State() != engine.Offline {
			return nil
		}
		if err := e.ConfigureAudioSources(ctx, audio); err != nil {
			return fmt.Errorf("attach audio sources: %w", err)
		}
		m.mu.Lock()
		m.sources = true
		m.mu.Unlock()
		return e.Start(ctx)
	})
	if err != nil {
		m.log.Error("engine start failed", "error", err)
		return
	}
	m.log.Info("buffer recording started")
}

// stopRecording handles the game closing or the system going to sleep. An
// activity in progress is ended and saved before audio is detached.
func (m *Manager) stopRecording(ctx context.Context) {
	forced := false
	for _, w := range m.watcherList() {
		if !w.Activity() {
			continue
		}
		m.log.Info("force ending activity", "flavour", string(w.Flavour()))
		m.metrics.IncForceEnded(string(w.Flavour()))
		if err := w.ForceEndActivity(ctx); err != nil && !errors.Is(err, watcher.ErrNoActivity) {
			m.log.Error("force end activity", "flavour", string(w.Flavour()), "error", err)
		}
		forced = true
	}

	_ = m.withEngine(func(e engine.Engine) error {
		if !forced || e.State() != engine.Offline {
			if err := stopIfActive(ctx, e); err != nil {
				m.log.Error("stop engine", "error", err)
			}
		}
		e.RemoveAudioSources()
		m.mu.Lock()
		m.sources = false
		m.mu.Unlock()
		return nil
	})
}

// recoverFromCrash replaces a crashed engine. Every stage is applied again
// to the new engine because it holds none of the old configuration.
func (m *Manager) recoverFromCrash(ctx context.Context, diagnostic string) error {
	m.log.Error("engine crashed", "diagnostic", diagnostic)
	m.metrics.IncEngineCrashes()
	m.pub.PushCrash(diagnostic)

	_ = m.withEngine(func(old engine.Engine) error {
		m.mu.Lock()
		unsub := m.unsubEngine
		m.mu.Unlock()
		unsub()
		if err := old.Shutdown(ctx); err != nil {
			m.log.Warn("shut down crashed engine", "error", err)
		}
		return nil
	})

	m.destroyWatchers()

	m.engMu.Lock()
	eng, err := m.opts.Engines()
	if err != nil {
		m.engMu.Unlock()
		return fmt.Errorf("recreate engine after crash: %w", err)
	}
	m.attachEngine(eng)
	m.mu.Lock()
	m.sources = false
	m.mu.Unlock()
	m.engMu.Unlock()

	m.rec.Reset()
	m.rec.Reconcile(ctx)
	m.log.Info("engine recreated, reconfiguring")
	return nil
}

// restartIfSafe restarts a buffer that has been recording for a full
// interval, unless a watcher is inside or overrunning an activity.
func (m *Manager) restartIfSafe(ctx context.Context) {
	skip := func(reason string) {
		m.log.Info("periodic engine restart skipped", "reason", reason)
		m.metrics.IncRestartsSkipped()
	}
	if st := m.currentEngine().State(); st != engine.Recording {
		skip("engine is " + st.String())
		return
	}
	for _, w := range m.watcherList() {
		if w.Activity() || w.Overrunning() {
			skip(string(w.Flavour()) + " activity in progress")
			return
		}
	}

	err := m.withEngine(func(e engine.Engine) error {
		if e.State() != engine.Recording {
			return nil
		}
		if err := e.Stop(ctx); err != nil {
			return fmt.Errorf("stop: %w", err)
		}
		if err := e.Cleanup(ctx); err != nil {
			m.log.Warn("engine cleanup", "error", err)
		}
		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("start: %w", err)
		}
		return nil
	})
	if err != nil {
		m.log.Error("periodic engine restart failed", "error", err)
		return
	}
	m.metrics.IncEngineRestarts()
	m.log.Info("periodic engine restart done")
}

// onReconciled records the outcome of a pass and starts the buffer when
// the game is already running. A failed apply is reported like invalid
// configuration and the pass is tried again after the retry delay.
func (m *Manager) onReconciled(ctx context.Context, res reconcile.Result) {
	var (
		verr   *reconcile.ValidationError
		aerr   *reconcile.ApplyError
		cfgErr error
	)
	switch {
	case errors.Is(res.Err, errActivityInProgress):
		m.deferredApply = true
	case errors.As(res.Err, &verr):
		cfgErr = verr
	case errors.As(res.Err, &aerr):
		cfgErr = aerr
		m.scheduleApplyRetry()
	}
	m.mu.Lock()
	m.cfgErr = cfgErr
	m.mu.Unlock()

	if res.Valid && m.opts.Poller.IsRunning() {
		m.startBuffer(ctx)
	}
}

// retryDeferred reruns a pass that was postponed by an activity once no
// activity remains.
func (m *Manager) retryDeferred(ctx context.Context) {
	if !m.deferredApply || m.anyActivity() {
		return
	}
	m.deferredApply = false
	m.log.Info("activity over, applying deferred configuration")
	m.rec.Reconcile(ctx)
}

func (m *Manager) scheduleApplyRetry() {
	if m.retryPending {
		return
	}
	m.retryPending = true
	m.log.Warn("configuration apply failed, will retry", "after", m.opts.ApplyRetry)
	time.AfterFunc(m.opts.ApplyRetry, func() { m.send(event{kind: evRetryApply}) })
}

type statusInputs struct {
	cfgErr      error
	activity    bool
	overrunning bool
	engine      engine.State
}

// deriveStatus picks the status by precedence: invalid configuration,
// overrun, activity, buffering, waiting.
func deriveStatus(in statusInputs) (status.Status, string) {
	switch {
	case in.cfgErr != nil:
		return status.InvalidConfig, in.cfgErr.Error()
	case in.overrunning:
		return status.Overrunning, ""
	case in.activity:
		return status.Recording, ""
	case in.engine == engine.Recording:
		return status.ReadyToRecord, ""
	default:
		return status.WaitingForWoW, ""
	}
}

func (m *Manager) statusInputs() statusInputs {
	in := statusInputs{cfgErr: m.ConfigErr(), engine: m.currentEngine().State()}
	for _, w := range m.watcherList() {
		in.activity = in.activity || w.Activity()
		in.overrunning = in.overrunning || w.Overrunning()
	}
	return in
}

func (m *Manager) publishStatus() {
	st, msg := deriveStatus(m.statusInputs())
	if m.published && st == m.lastStatus && msg == m.lastMessage {
		return
	}
	m.published, m.lastStatus, m.lastMessage = true, st, msg
	m.metrics.SetStatus(int(st))
	m.pub.PushStatus(st, msg)
	m.log.Info("status changed", "status", st.String())
}

// Status returns the current derived status.
func (m *Manager) Status() (status.Status, string) {
	return deriveStatus(m.statusInputs())
}

// Test starts a synthetic activity on the named flavour's watcher.
func (m *Manager) Test(ctx context.Context, flavour string, category video.Category) error {
	if !category.Valid() {
		return fmt.Errorf("unknown category %q: %w", category, status.ErrBadRequest)
	}
	f := watcher.Flavour(flavour)
	if f != watcher.Retail && f != watcher.Classic {
		return fmt.Errorf("unknown flavour %q: %w", flavour, status.ErrBadRequest)
	}
	m.mu.Lock()
	wl, ok := m.watchers[f]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s recording is not enabled: %w", f, status.ErrBadRequest)
	}
	m.log.Info("test activity requested", "flavour", flavour, "category", string(category))
	return wl.w.Test(ctx, category)
}

// lockedEngine hands watchers the current engine with every mutating call
// serialised against the control loop and stage applies.
type lockedEngine struct{ m *Manager }

func (l lockedEngine) call(fn func(engine.Engine) error) error { return l.m.withEngine(fn) }

func (l lockedEngine) Start(ctx context.Context) error {
	return l.call(func(e engine.Engine) error { return e.Start(ctx) })
}

func (l lockedEngine) Stop(ctx context.Context) error {
	return l.call(func(e engine.Engine) error { return e.Stop(ctx) })
}

func (l lockedEngine) ConfigureBase(ctx context.Context, cfg settings.BaseConfig) error {
	return l.call(func(e engine.Engine) error { return e.ConfigureBase(ctx, cfg) })
}

func (l lockedEngine) ConfigureVideo(ctx context.Context, cfg settings.VideoConfig) error {
	return l.call(func(e engine.Engine) error { return e.ConfigureVideo(ctx, cfg) })
}

func (l lockedEngine) ConfigureAudio(ctx context.Context, cfg settings.AudioConfig) error {
	return l.call(func(e engine.Engine) error { return e.ConfigureAudio(ctx, cfg) })
}

func (l lockedEngine) ConfigureOverlay(ctx context.Context, cfg settings.OverlayConfig) error {
	return l.call(func(e engine.Engine) error { return e.ConfigureOverlay(ctx, cfg) })
}

func (l lockedEngine) ConfigureAudioSources(ctx context.Context, cfg settings.AudioConfig) error {
	return l.call(func(e engine.Engine) error { return e.ConfigureAudioSources(ctx, cfg) })
}

func (l lockedEngine) RemoveAudioSources() {
	_ = l.call(func(e engine.Engine) error { e.RemoveAudioSources(); return nil })
}

func (l lockedEngine) Shutdown(ctx context.Context) error {
	return l.call(func(e engine.Engine) error { return e.Shutdown(ctx) })
}

func (l lockedEngine) Cleanup(ctx context.Context) error {
	return l.call(func(e engine.Engine) error { return e.Cleanup(ctx) })
}

func (l lockedEngine) State() engine.State       { return l.m.currentEngine().State() }
func (l lockedEngine) MicState() engine.MicState { return l.m.currentEngine().MicState() }

func (l lockedEngine) Subscribe(fn func(engine.Event)) func() {
	return l.m.currentEngine().Subscribe(fn)
}
