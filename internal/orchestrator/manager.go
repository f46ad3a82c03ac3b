// Package orchestrator is the recorder core. A Manager owns the recording
// engine, the log watchers, the process poller and the cloud client, keeps
// them reconciled with the user's settings, and reacts to game process,
// power and engine events from a single control loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/laurencee/wow-recorder/internal/correlate"
	"github.com/laurencee/wow-recorder/internal/engine"
	"github.com/laurencee/wow-recorder/internal/platform/metrics"
	"github.com/laurencee/wow-recorder/internal/poller"
	"github.com/laurencee/wow-recorder/internal/reconcile"
	"github.com/laurencee/wow-recorder/internal/settings"
	"github.com/laurencee/wow-recorder/internal/status"
	"github.com/laurencee/wow-recorder/internal/storage/cloud"
	"github.com/laurencee/wow-recorder/internal/storage/disk"
	"github.com/laurencee/wow-recorder/internal/videoqueue"
	"github.com/laurencee/wow-recorder/internal/watcher"
)

// Stage names, in reconciliation order.
const (
	StageBase    = "base"
	StageVideo   = "video"
	StageAudio   = "audio"
	StageFlavour = "flavour"
	StageOverlay = "overlay"
)

const (
	defaultRestartInterval = 90 * time.Minute
	defaultCloudTimeout    = 2 * time.Second
	defaultCloudPoll       = 30 * time.Second
	defaultMinFreeBytes    = 1 << 30
	defaultApplyRetry      = 10 * time.Second
	diskDebounce           = 500 * time.Millisecond
)

// SettingsSource supplies the desired configuration.
type SettingsSource interface {
	Current() (settings.Settings, error)
	Subscribe(fn func())
}

// ProcessPoller reports the game client process.
type ProcessPoller interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
	ReconfigureFlavour(cfg settings.FlavourConfig)
	Subscribe(fn func(poller.Event)) (unsubscribe func())
}

// SaveQueue accepts save jobs and follows the storage settings.
type SaveQueue interface {
	watcher.Enqueuer
	Configure(t videoqueue.Target)
	Jobs() []videoqueue.Job
}

// CloudFactory opens the cloud store described by base settings.
type CloudFactory func(ctx context.Context, cfg settings.BaseConfig) (cloud.Store, error)

// FreeSpaceFunc returns the free bytes on the volume holding path.
type FreeSpaceFunc func(ctx context.Context, path string) (uint64, error)

// Options are the collaborators and tunables of a Manager. Zero durations
// take defaults.
type Options struct {
	Log       *slog.Logger
	Metrics   *metrics.Metrics
	Settings  SettingsSource
	Engines   engine.Factory
	Watchers  watcher.Factory
	Poller    ProcessPoller
	Publisher status.Publisher
	Queue     SaveQueue
	Disk      *disk.Store
	Loader    *correlate.Loader
	// Cloud is nil when cloud storage is unsupported.
	Cloud     CloudFactory
	FreeSpace FreeSpaceFunc

	RestartInterval time.Duration
	CloudTimeout    time.Duration
	CloudPoll       time.Duration
	MinFreeBytes    uint64
	// ApplyRetry is how long a failed apply waits before the next pass.
	ApplyRetry time.Duration
}

type eventKind int

const (
	evProcessStart eventKind = iota
	evProcessStop
	evSuspend
	evResume
	evEngineCrash
	evReconciled
	evRestartTick
	evRefresh
	evRetryApply
)

func (k eventKind) String() string {
	switch k {
	case evProcessStart:
		return "process-start"
	case evProcessStop:
		return "process-stop"
	case evSuspend:
		return "suspend"
	case evResume:
		return "resume"
	case evEngineCrash:
		return "engine-crash"
	case evReconciled:
		return "reconciled"
	case evRestartTick:
		return "restart-tick"
	case evRefresh:
		return "refresh"
	case evRetryApply:
		return "retry-apply"
	default:
		return "unknown"
	}
}

type event struct {
	kind       eventKind
	diagnostic string
	result     reconcile.Result
}

// Manager is the orchestration core.
type Manager struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
	pub     status.Publisher
	rec     *reconcile.Reconciler

	events  chan event
	refresh chan struct{}
	edgeC   chan struct{}
	done    chan struct{}
	closed  sync.Once

	// engMu serialises mutating engine calls.
	engMu sync.Mutex

	mu            sync.Mutex
	runCtx        context.Context
	eng           engine.Engine
	unsubEngine   func()
	watchers      map[watcher.Flavour]*watchedLog
	base          settings.BaseConfig
	audio         settings.AudioConfig
	sources       bool
	cloud         cloud.Store
	storageCancel context.CancelFunc
	cfgErr        error
	edges         []poller.Event

	// Owned by the control loop.
	deferredApply bool
	retryPending  bool
	lastStatus    status.Status
	lastMessage   string
	published     bool
}

type watchedLog struct {
	w     watcher.LogWatcher
	unsub func()
}

// errActivityInProgress defers a stage whose apply would cut an activity.
var errActivityInProgress = errors.New("activity in progress, will apply when it ends")

// New builds a Manager and its first engine. Call Run to start it.
func New(opts Options) (*Manager, error) {
	if opts.RestartInterval <= 0 {
		opts.RestartInterval = defaultRestartInterval
	}
	if opts.CloudTimeout <= 0 {
		opts.CloudTimeout = defaultCloudTimeout
	}
	if opts.CloudPoll <= 0 {
		opts.CloudPoll = defaultCloudPoll
	}
	if opts.MinFreeBytes == 0 {
		opts.MinFreeBytes = defaultMinFreeBytes
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = FreeSpace
	}
	if opts.ApplyRetry <= 0 {
		opts.ApplyRetry = defaultApplyRetry
	}

	m := &Manager{
		opts:     opts,
		log:      opts.Log,
		metrics:  opts.Metrics,
		pub:      opts.Publisher,
		events:   make(chan event, 64),
		refresh:  make(chan struct{}, 1),
		edgeC:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		runCtx:   context.Background(),
		watchers: make(map[watcher.Flavour]*watchedLog),
	}

	eng, err := opts.Engines()
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	m.attachEngine(eng)

	m.rec = reconcile.New(opts.Log, opts.Metrics, m.stages()...)
	m.rec.OnResult(func(res reconcile.Result) {
		m.send(event{kind: evReconciled, result: res})
	})
	opts.Settings.Subscribe(m.Reconcile)
	opts.Poller.Subscribe(m.queueEdge)
	return m, nil
}

// Run drives the control loop until ctx is cancelled, then shuts the engine
// down. A panic while handling an event, or an engine that cannot be
// rebuilt after a crash, is reported as a fatal status and returned.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
	defer m.closed.Do(func() { close(m.done) })

	m.pub.PushStatus(status.WaitingForWoW, "")
	m.opts.Poller.Start(ctx)
	m.rec.Reconcile(ctx)

	ticker := time.NewTicker(m.opts.RestartInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case ev := <-m.events:
			if err := m.dispatch(ctx, ev); err != nil {
				m.shutdown()
				return err
			}
		case <-m.refresh:
			if err := m.dispatch(ctx, event{kind: evRefresh}); err != nil {
				m.shutdown()
				return err
			}
		case <-m.edgeC:
			for _, edge := range m.takeEdges() {
				kind := evProcessStop
				if edge == poller.ProcessStart {
					kind = evProcessStart
				}
				if err := m.dispatch(ctx, event{kind: kind}); err != nil {
					m.shutdown()
					return err
				}
			}
		case <-ticker.C:
			if err := m.dispatch(ctx, event{kind: evRestartTick}); err != nil {
				m.shutdown()
				return err
			}
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, ev event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fatal error handling %s: %v", ev.kind, r)
			m.log.Error("control loop panic", "event", ev.kind.String(), "panic", r, "stack", string(debug.Stack()))
			m.pub.PushStatus(status.Fatal, err.Error())
		}
	}()

	switch ev.kind {
	case evProcessStart:
		m.onProcessStart(ctx)
	case evProcessStop:
		m.stopRecording(ctx)
	case evSuspend:
		m.log.Info("system suspending")
		m.opts.Poller.Stop()
		m.stopRecording(ctx)
	case evResume:
		m.log.Info("system resumed")
		m.opts.Poller.Start(ctx)
	case evEngineCrash:
		if err := m.recoverFromCrash(ctx, ev.diagnostic); err != nil {
			m.pub.PushStatus(status.Fatal, err.Error())
			return err
		}
	case evReconciled:
		m.onReconciled(ctx, ev.result)
	case evRestartTick:
		m.restartIfSafe(ctx)
	case evRetryApply:
		m.retryPending = false
		m.log.Info("retrying failed configuration apply")
		m.rec.Reconcile(ctx)
	}

	m.retryDeferred(ctx)
	m.publishStatus()
	return nil
}

// send queues ev for the control loop. It gives up once the loop has
// exited.
func (m *Manager) send(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// queueEdge records a game start or stop without blocking. It runs on the
// poll goroutine, which the loop may be waiting on inside Poller.Stop.
func (m *Manager) queueEdge(ev poller.Event) {
	m.mu.Lock()
	m.edges = append(m.edges, ev)
	m.mu.Unlock()
	select {
	case m.edgeC <- struct{}{}:
	default:
	}
}

// takeEdges returns the queued edges in arrival order.
func (m *Manager) takeEdges() []poller.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	edges := m.edges
	m.edges = nil
	return edges
}

// poke asks the loop to re-derive the status.
func (m *Manager) poke() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

func (m *Manager) baseContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCtx
}

// Reconcile requests a reconciliation pass. A stage that has never been
// applied is validated again even when unchanged, so a storage directory or
// cloud store that has since become available is picked up.
func (m *Manager) Reconcile() {
	m.rec.Reconcile(m.baseContext())
}

// Suspend reports that the system is about to sleep.
func (m *Manager) Suspend() { m.send(event{kind: evSuspend}) }

// Resume reports that the system woke up.
func (m *Manager) Resume() { m.send(event{kind: evResume}) }

// Wait blocks until no reconciliation pass is running.
func (m *Manager) Wait() { m.rec.Wait() }

// ConfigErr returns the validation or apply failure of the last pass, if
// any. An apply deferred by an activity is not a failure.
func (m *Manager) ConfigErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfgErr
}

// Jobs returns the save jobs seen so far.
func (m *Manager) Jobs() []videoqueue.Job { return m.opts.Queue.Jobs() }

// attachEngine makes eng current and subscribes to it.
func (m *Manager) attachEngine(eng engine.Engine) {
	unsub := eng.Subscribe(func(ev engine.Event) {
		switch ev.Kind {
		case engine.EventCrash:
			go m.send(event{kind: evEngineCrash, diagnostic: ev.Diagnostic})
		case engine.EventStateChange:
			m.poke()
		}
	})
	m.mu.Lock()
	m.eng, m.unsubEngine = eng, unsub
	m.mu.Unlock()
}

func (m *Manager) currentEngine() engine.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eng
}

// withEngine runs fn with exclusive use of the current engine.
func (m *Manager) withEngine(fn func(e engine.Engine) error) error {
	m.engMu.Lock()
	defer m.engMu.Unlock()
	return fn(m.currentEngine())
}

// watcherList returns the active watchers, retail first.
func (m *Manager) watcherList() []watcher.LogWatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []watcher.LogWatcher
	for _, f := range []watcher.Flavour{watcher.Retail, watcher.Classic} {
		if wl, ok := m.watchers[f]; ok {
			out = append(out, wl.w)
		}
	}
	return out
}

func (m *Manager) anyActivity() bool {
	for _, w := range m.watcherList() {
		if w.Activity() {
			return true
		}
	}
	return false
}

// destroyWatchers detaches from and destroys every watcher.
func (m *Manager) destroyWatchers() {
	m.mu.Lock()
	old := m.watchers
	m.watchers = make(map[watcher.Flavour]*watchedLog)
	m.mu.Unlock()
	for f, wl := range old {
		wl.unsub()
		wl.w.Destroy()
		m.log.Debug("watcher destroyed", "flavour", string(f))
	}
}

func (m *Manager) shutdown() {
	m.log.Info("orchestrator shutting down")
	m.closed.Do(func() { close(m.done) })
	m.opts.Poller.Stop()
	m.rec.Wait()
	m.destroyWatchers()

	m.mu.Lock()
	if m.storageCancel != nil {
		m.storageCancel()
		m.storageCancel = nil
	}
	cl := m.cloud
	m.cloud = nil
	m.mu.Unlock()
	if cl != nil {
		_ = cl.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = m.withEngine(func(e engine.Engine) error {
		if err := e.Stop(ctx); err != nil {
			m.log.Warn("stop engine on shutdown", "error", err)
		}
		e.RemoveAudioSources()
		m.mu.Lock()
		unsub := m.unsubEngine
		m.mu.Unlock()
		unsub()
		return e.Shutdown(ctx)
	})
}
