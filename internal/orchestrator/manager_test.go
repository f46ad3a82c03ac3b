package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurencee/wow-recorder/internal/correlate"
	"github.com/laurencee/wow-recorder/internal/engine"
	"github.com/laurencee/wow-recorder/internal/platform/logger"
	"github.com/laurencee/wow-recorder/internal/platform/metrics"
	"github.com/laurencee/wow-recorder/internal/reconcile"
	"github.com/laurencee/wow-recorder/internal/settings"
	"github.com/laurencee/wow-recorder/internal/status"
	"github.com/laurencee/wow-recorder/internal/storage/cloud"
	"github.com/laurencee/wow-recorder/internal/storage/disk"
	"github.com/laurencee/wow-recorder/internal/video"
	"github.com/laurencee/wow-recorder/internal/videoqueue"
	"github.com/laurencee/wow-recorder/internal/watcher"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// engineLog records every engine the Manager builds.
type engineLog struct {
	mu    sync.Mutex
	built []*engine.Simulated
	next  engine.Factory
}

func (l *engineLog) factory() (engine.Engine, error) {
	e, err := l.next()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.built = append(l.built, e.(*engine.Simulated))
	l.mu.Unlock()
	return e, nil
}

func (l *engineLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.built)
}

func (l *engineLog) at(i int) *engine.Simulated {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.built[i]
}

func (l *engineLog) latest() *engine.Simulated {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.built[len(l.built)-1]
}

type harness struct {
	t        *testing.T
	m        *Manager
	settings *fakeSettings
	poller   *fakePoller
	watchers *watcherFactory
	engines  *engineLog
	hub      *status.Hub
	storage  string
	logDir   string

	cancel context.CancelFunc
	runErr chan error
}

func validSettings(storage, logDir string) settings.Settings {
	st := settings.Default()
	st.Base.StoragePath = storage
	st.Flavour.RecordRetail = true
	st.Flavour.RetailLogPath = logDir
	return st
}

// newHarness builds a Manager over fakes. mutate may adjust the options and
// initial settings before the Manager is created.
func newHarness(t *testing.T, mutate ...func(*Options, *settings.Settings)) *harness {
	t.Helper()
	log := logger.Discard()
	storage, logDir := t.TempDir(), t.TempDir()
	st := validSettings(storage, logDir)

	h := &harness{
		t:        t,
		settings: &fakeSettings{},
		poller:   newFakePoller(),
		watchers: &watcherFactory{},
		engines:  &engineLog{next: engine.SimulatedFactory(log, nil)},
		hub:      status.NewHub(),
		storage:  storage,
		logDir:   logDir,
		runErr:   make(chan error, 1),
	}
	store := disk.New(log)
	m := metrics.New()
	opts := Options{
		Log:       log,
		Metrics:   m,
		Settings:  h.settings,
		Engines:   h.engines.factory,
		Watchers:  h.watchers.build,
		Poller:    h.poller,
		Publisher: h.hub,
		Queue:     videoqueue.New(log, videoqueue.NewInMemoryRepository(16), store, 8),
		Disk:      store,
		Loader:    correlate.NewLoader(log, m, store, 4),
		FreeSpace: func(context.Context, string) (uint64, error) { return 1 << 40, nil },
	}
	for _, fn := range mutate {
		fn(&opts, &st)
	}
	h.settings.st = st

	mgr, err := New(opts)
	require.NoError(t, err)
	h.m = mgr
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.m.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.runErr:
		case <-time.After(waitFor):
			h.t.Error("manager did not stop")
		}
	})
}

// configured waits for the first pass to apply every stage.
func (h *harness) configured() *engine.Simulated {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.engines.latest().Calls("ConfigureOverlay") > 0 && h.m.ConfigErr() == nil
	}, waitFor, tick)
	h.m.Wait()
	return h.engines.latest()
}

func (h *harness) waitStatus(want status.Status) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.hub.Snapshot().Status == want },
		waitFor, tick, "want status %s, have %s", want, h.hub.Snapshot().Status)
}

func (h *harness) recording() *engine.Simulated {
	h.t.Helper()
	eng := h.configured()
	h.poller.set(true)
	h.waitStatus(status.ReadyToRecord)
	return eng
}

func TestManager_applies_every_stage_on_start(t *testing.T) {
	h := newHarness(t)
	h.start()
	eng := h.configured()

	for _, method := range []string{"ConfigureBase", "ConfigureVideo", "ConfigureAudio", "ConfigureOverlay"} {
		assert.Equal(t, 1, eng.Calls(method), method)
	}
	assert.DirExists(t, filepath.Join(h.storage, ".temp"))

	w := h.watchers.latest(watcher.Retail)
	require.NotNil(t, w)
	assert.Equal(t, h.logDir, w.cfg.LogDir)
	assert.Equal(t, 15*time.Second, w.cfg.MinDuration)
	assert.Equal(t, 3*time.Second, w.cfg.Overrun)
	assert.Nil(t, h.watchers.latest(watcher.Classic))

	h.poller.mu.Lock()
	assert.True(t, h.poller.flavour.RecordRetail)
	h.poller.mu.Unlock()

	h.waitStatus(status.WaitingForWoW)
	assert.Equal(t, engine.Offline, eng.State())
}

func TestManager_invalid_config_blocks_later_stages(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	h := newHarness(t, func(_ *Options, st *settings.Settings) { st.Base.StoragePath = missing })
	h.start()

	h.waitStatus(status.InvalidConfig)
	h.m.Wait()
	var verr *reconcile.ValidationError
	require.ErrorAs(t, h.m.ConfigErr(), &verr)
	assert.Equal(t, StageBase, verr.Stage)
	assert.Contains(t, h.hub.Snapshot().Message, "does not exist")

	eng := h.engines.latest()
	assert.Zero(t, eng.Calls("ConfigureBase"))
	assert.Zero(t, eng.Calls("ConfigureVideo"))
	assert.Empty(t, h.watchers.all())

	// The game starting with a broken configuration does not record.
	h.poller.set(true)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, eng.Calls("Start"))

	// Creating the directory is not an edit; an explicit reconcile picks it up.
	require.NoError(t, os.MkdirAll(missing, 0o755))
	h.m.Reconcile()

	require.Eventually(t, func() bool { return eng.State() == engine.Recording }, waitFor, tick)
	h.waitStatus(status.ReadyToRecord)
	assert.NoError(t, h.m.ConfigErr())
	assert.Equal(t, 1, eng.Calls("ConfigureOverlay"))
}

func TestManager_settings_edit_reapplies_changed_stage_only(t *testing.T) {
	h := newHarness(t)
	h.start()
	eng := h.configured()

	h.settings.update(func(st *settings.Settings) { st.Video.FPS = 30 })
	h.m.Wait()

	assert.Equal(t, 1, eng.Calls("ConfigureBase"))
	assert.Equal(t, 2, eng.Calls("ConfigureVideo"))
	assert.Equal(t, 1, eng.Calls("ConfigureAudio"))
	assert.Len(t, h.watchers.all(), 1)
}

func TestManager_process_start_and_stop(t *testing.T) {
	h := newHarness(t)
	h.start()
	eng := h.recording()

	assert.Equal(t, engine.Recording, eng.State())
	assert.True(t, eng.HasAudioSources())

	h.poller.set(false)
	h.waitStatus(status.WaitingForWoW)
	require.Eventually(t, func() bool { return !eng.HasAudioSources() }, waitFor, tick)
	assert.Equal(t, engine.Offline, eng.State())
}

func TestManager_starts_buffer_when_game_already_running(t *testing.T) {
	h := newHarness(t)
	h.poller.running = true
	h.start()

	h.waitStatus(status.ReadyToRecord)
	assert.Equal(t, engine.Recording, h.engines.latest().State())
}

func TestManager_start_failure_keeps_waiting(t *testing.T) {
	h := newHarness(t)
	h.start()
	eng := h.configured()
	eng.FailStart(errors.New("encoder unavailable"))

	h.poller.set(true)
	require.Eventually(t, func() bool { return eng.Calls("Start") == 1 }, waitFor, tick)
	assert.Equal(t, status.WaitingForWoW, h.hub.Snapshot().Status)

	eng.FailStart(nil)
	h.poller.set(false)
	h.poller.set(true)
	h.waitStatus(status.ReadyToRecord)
}

func TestManager_force_ends_activity_when_game_closes(t *testing.T) {
	h := newHarness(t)
	h.start()
	eng := h.recording()
	w := h.watchers.latest(watcher.Retail)

	w.set(true, false)
	h.waitStatus(status.Recording)

	h.poller.set(false)
	h.waitStatus(status.WaitingForWoW)
	assert.Equal(t, 1, w.forced())
	assert.Equal(t, 1, eng.Calls("Stop"))
	assert.Equal(t, engine.Offline, eng.State())
	assert.False(t, eng.HasAudioSources())
}

func TestManager_overrun_outranks_recording(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.recording()
	w := h.watchers.latest(watcher.Retail)

	w.set(true, true)
	h.waitStatus(status.Overrunning)

	w.set(false, false)
	h.waitStatus(status.ReadyToRecord)
}

func TestManager_recovers_from_engine_crash(t *testing.T) {
	h := newHarness(t)
	h.start()
	old := h.recording()
	oldWatcher := h.watchers.latest(watcher.Retail)

	old.Crash("obs64.exe exited with code 3")

	require.Eventually(t, func() bool { return h.engines.count() == 2 }, waitFor, tick)
	fresh := h.engines.at(1)
	require.Eventually(t, func() bool { return fresh.State() == engine.Recording }, waitFor, tick)
	h.m.Wait()

	for _, method := range []string{"ConfigureBase", "ConfigureVideo", "ConfigureAudio", "ConfigureOverlay"} {
		assert.Equal(t, 1, fresh.Calls(method), method)
	}
	assert.True(t, fresh.HasAudioSources())

	assert.True(t, old.IsShutdown())
	assert.Zero(t, old.Subscribers())

	assert.True(t, oldWatcher.isDestroyed())
	assert.Zero(t, oldWatcher.subscribers())
	newWatcher := h.watchers.latest(watcher.Retail)
	require.NotSame(t, oldWatcher, newWatcher)
	assert.False(t, newWatcher.isDestroyed())

	crashes := h.hub.Snapshot().Crashes
	require.Len(t, crashes, 1)
	assert.Equal(t, "obs64.exe exited with code 3", crashes[0].Diagnostic)
	h.waitStatus(status.ReadyToRecord)
}

func TestManager_crash_with_failing_factory_is_fatal(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	h := newHarness(t)
	inner := h.engines.next
	h.engines.next = func() (engine.Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("engine binary missing")
		}
		return inner()
	}
	h.start()
	eng := h.configured()

	mu.Lock()
	fail = true
	mu.Unlock()
	eng.Crash("gone")

	select {
	case err := <-h.runErr:
		require.ErrorContains(t, err, "engine binary missing")
		h.runErr <- err
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, status.Fatal, h.hub.Snapshot().Status)
}

func TestManager_restart_governor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start()
	eng := h.recording()
	w := h.watchers.latest(watcher.Retail)

	w.set(true, false)
	h.m.restartIfSafe(ctx)
	assert.Zero(t, eng.Calls("Cleanup"), "activity in progress")

	w.set(false, true)
	h.m.restartIfSafe(ctx)
	assert.Zero(t, eng.Calls("Cleanup"), "overrunning")

	w.set(false, false)
	h.m.restartIfSafe(ctx)
	assert.Equal(t, 1, eng.Calls("Cleanup"))
	assert.Equal(t, 2, eng.Calls("Start"))
	assert.Equal(t, engine.Recording, eng.State())

	h.poller.set(false)
	require.Eventually(t, func() bool { return eng.State() == engine.Offline }, waitFor, tick)
	h.m.restartIfSafe(ctx)
	assert.Equal(t, 1, eng.Calls("Cleanup"), "not recording")
}

func TestManager_restart_runs_on_interval(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *settings.Settings) { o.RestartInterval = 20 * time.Millisecond })
	h.start()
	eng := h.recording()

	require.Eventually(t, func() bool { return eng.Calls("Cleanup") >= 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return eng.State() == engine.Recording }, waitFor, tick)
}

func TestManager_suspend_and_resume(t *testing.T) {
	h := newHarness(t)
	h.start()
	eng := h.recording()

	h.m.Suspend()
	require.Eventually(t, func() bool { _, stops := h.poller.counts(); return stops == 1 }, waitFor, tick)
	h.waitStatus(status.WaitingForWoW)
	assert.False(t, eng.HasAudioSources())

	h.m.Resume()
	require.Eventually(t, func() bool { starts, _ := h.poller.counts(); return starts == 2 }, waitFor, tick)
}

func TestManager_suspend_with_edges_during_poller_stop(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *settings.Settings) {
		o.Poller = &stopEmitter{fakePoller: o.Poller.(*fakePoller), burst: 200}
	})
	h.start()
	eng := h.recording()

	h.m.Suspend()
	h.waitStatus(status.WaitingForWoW)
	h.m.Resume()
	require.Eventually(t, func() bool { starts, _ := h.poller.counts(); return starts == 2 }, waitFor, tick)

	h.poller.set(true)
	h.waitStatus(status.ReadyToRecord)
	assert.Equal(t, engine.Recording, eng.State())
}

func TestManager_panic_in_loop_is_fatal(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.configured()
	w := h.watchers.latest(watcher.Retail)

	w.mu.Lock()
	w.panicking = true
	w.mu.Unlock()
	h.m.poke()

	select {
	case err := <-h.runErr:
		require.ErrorContains(t, err, "watcher state corrupted")
		h.runErr <- err
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, status.Fatal, h.hub.Snapshot().Status)
	assert.True(t, h.engines.latest().IsShutdown())
}

func TestManager_shutdown_releases_everything(t *testing.T) {
	h := newHarness(t)
	h.start()
	eng := h.recording()
	w := h.watchers.latest(watcher.Retail)

	h.cancel()
	select {
	case err := <-h.runErr:
		require.NoError(t, err)
		h.runErr <- err
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}

	assert.True(t, eng.IsShutdown())
	assert.Zero(t, eng.Subscribers())
	assert.False(t, eng.HasAudioSources())
	assert.True(t, w.isDestroyed())
	_, stops := h.poller.counts()
	assert.GreaterOrEqual(t, stops, 1)
}

func TestManager_Test(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start()
	h.configured()

	assert.ErrorIs(t, h.m.Test(ctx, "retail", "Pet Battles"), status.ErrBadRequest)
	assert.ErrorIs(t, h.m.Test(ctx, "tbc", video.CategoryRaids), status.ErrBadRequest)
	assert.ErrorIs(t, h.m.Test(ctx, "classic", video.CategoryRaids), status.ErrBadRequest)

	require.NoError(t, h.m.Test(ctx, "retail", video.CategoryMythicPlus))
	w := h.watchers.latest(watcher.Retail)
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, []video.Category{video.CategoryMythicPlus}, w.tests)
}

func TestManager_defers_apply_during_activity(t *testing.T) {
	h := newHarness(t)
	h.start()
	eng := h.recording()
	w := h.watchers.latest(watcher.Retail)

	w.set(true, false)
	h.waitStatus(status.Recording)

	h.settings.update(func(st *settings.Settings) { st.Video.BitrateMbps = 40 })
	h.m.Wait()
	assert.Equal(t, 1, eng.Calls("ConfigureVideo"))
	assert.Equal(t, 1, eng.Calls("Start"))
	assert.NoError(t, h.m.ConfigErr())

	w.set(false, false)
	require.Eventually(t, func() bool { return eng.Calls("ConfigureVideo") == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return eng.State() == engine.Recording }, waitFor, tick)
	h.waitStatus(status.ReadyToRecord)
}

func TestManager_cloud_timeout_is_invalid_config(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	creds := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))

	h := newHarness(t, func(o *Options, st *settings.Settings) {
		o.CloudTimeout = 50 * time.Millisecond
		o.Cloud = func(context.Context, settings.BaseConfig) (cloud.Store, error) {
			return &hangingStore{Memory: cloud.NewMemory(), release: release}, nil
		}
		st.Base.CloudStorage = true
		st.Base.CloudBucket = "recordings"
		st.Base.CloudCredentials = creds
	})
	h.start()

	h.waitStatus(status.InvalidConfig)
	assert.Contains(t, h.hub.Snapshot().Message, "did not respond within 50ms")
	assert.Zero(t, h.engines.latest().Calls("ConfigureBase"))
}

func TestManager_failed_apply_is_reported_and_retried(t *testing.T) {
	creds := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))

	var opened atomic.Int32
	h := newHarness(t, func(o *Options, st *settings.Settings) {
		o.ApplyRetry = 300 * time.Millisecond
		o.Cloud = func(context.Context, settings.BaseConfig) (cloud.Store, error) {
			// Validation opens the store first, then apply; only the first apply fails.
			if opened.Add(1) == 2 {
				return nil, errors.New("bucket locked")
			}
			return cloud.NewMemory(), nil
		}
		st.Base.CloudStorage = true
		st.Base.CloudBucket = "recordings"
		st.Base.CloudCredentials = creds
	})
	h.start()

	h.waitStatus(status.InvalidConfig)
	assert.Contains(t, h.hub.Snapshot().Message, "open cloud store: bucket locked")
	var aerr *reconcile.ApplyError
	require.ErrorAs(t, h.m.ConfigErr(), &aerr)
	assert.Equal(t, StageBase, aerr.Stage)
	assert.Zero(t, h.engines.latest().Calls("ConfigureBase"))

	eng := h.configured()
	h.waitStatus(status.WaitingForWoW)
	assert.Equal(t, 1, eng.Calls("ConfigureBase"))
	assert.EqualValues(t, 4, opened.Load())
}

func TestManager_cloud_requires_factory(t *testing.T) {
	creds := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))
	h := newHarness(t, func(_ *Options, st *settings.Settings) {
		st.Base.CloudStorage = true
		st.Base.CloudBucket = "recordings"
		st.Base.CloudCredentials = creds
	})
	h.start()

	h.waitStatus(status.InvalidConfig)
	assert.Contains(t, h.hub.Snapshot().Message, "not supported")
}

func TestManager_low_disk_space_is_invalid_config(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *settings.Settings) {
		o.FreeSpace = func(context.Context, string) (uint64, error) { return 10 << 20, nil }
	})
	h.start()

	h.waitStatus(status.InvalidConfig)
	assert.Contains(t, h.hub.Snapshot().Message, "insufficient disk space")
}

func putCloudVideo(t *testing.T, s cloud.Store, name string, md video.Metadata) {
	t.Helper()
	ctx := context.Background()
	raw, err := json.Marshal(md)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, name+video.MediaExt, bytes.NewReader([]byte("media")), "video/mp4"))
	require.NoError(t, s.Put(ctx, name+video.MetadataExt, bytes.NewReader(raw), "application/json"))
}

func putDiskVideo(t *testing.T, dir, name string, md video.Metadata) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+video.MediaExt), []byte("media"), 0o644))
	require.NoError(t, disk.WriteMetadata(dir, name, md))
}

func TestManager_videos_across_disk_and_cloud(t *testing.T) {
	ctx := context.Background()
	bucket := cloud.NewMemory()
	creds := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))

	h := newHarness(t, func(o *Options, st *settings.Settings) {
		o.Cloud = func(context.Context, settings.BaseConfig) (cloud.Store, error) { return bucket, nil }
		st.Base.CloudStorage = true
		st.Base.CloudBucket = "recordings"
		st.Base.CloudCredentials = creds
	})

	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	later := start.Add(time.Hour)
	putDiskVideo(t, h.storage, "local", video.Metadata{Category: video.CategoryRaids, Start: &start, UniqueHash: "aa", Player: "Alice"})
	putCloudVideo(t, bucket, "remote", video.Metadata{Category: video.CategoryRaids, Start: &later, UniqueHash: "bb", Player: "Bob"})

	h.start()
	h.configured()

	videos, err := h.m.Videos(ctx)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "remote", videos[0].Name)
	assert.Equal(t, video.OriginCloud, videos[0].Origin)
	assert.Equal(t, "local", videos[1].Name)

	require.NoError(t, h.m.Protect(ctx, "local", true))
	md, err := disk.ReadMetadata(h.storage, "local")
	require.NoError(t, err)
	assert.True(t, md.Protected)

	require.NoError(t, h.m.Tag(ctx, "remote", "best pull"))
	raw, err := bucket.Get(ctx, "remote"+video.MetadataExt)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &md))
	assert.Equal(t, "best pull", md.Tag)

	assert.ErrorIs(t, h.m.Protect(ctx, "ghost", true), status.ErrNotFound)
	assert.ErrorIs(t, h.m.Tag(ctx, "../escape", "x"), status.ErrBadRequest)

	require.NoError(t, h.m.Delete(ctx, "remote"))
	_, err = bucket.Head(ctx, "remote"+video.MediaExt)
	assert.ErrorIs(t, err, cloud.ErrNotFound)
	_, err = bucket.Head(ctx, "remote"+video.MetadataExt)
	assert.ErrorIs(t, err, cloud.ErrNotFound)

	require.NoError(t, h.m.Delete(ctx, "local"))
	assert.NoFileExists(t, filepath.Join(h.storage, "local"+video.MediaExt))
	assert.ErrorIs(t, h.m.Delete(ctx, "local"), status.ErrNotFound)

	usage := h.hub.Snapshot().Usage
	assert.Contains(t, usage, status.DiskUsage)
	assert.Contains(t, usage, status.CloudUsage)
}

func TestManager_videos_before_configuration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	videos, err := h.m.Videos(ctx)
	require.NoError(t, err)
	assert.Empty(t, videos)
	assert.ErrorIs(t, h.m.Delete(ctx, "anything"), status.ErrBadRequest)
}

func TestDeriveStatus(t *testing.T) {
	cfgErr := errors.New("storage path is required")
	tests := []struct {
		name string
		in   statusInputs
		want status.Status
	}{
		{"nothing running", statusInputs{}, status.WaitingForWoW},
		{"buffering", statusInputs{engine: engine.Recording}, status.ReadyToRecord},
		{"activity", statusInputs{activity: true, engine: engine.Recording}, status.Recording},
		{"overrun beats activity", statusInputs{activity: true, overrunning: true, engine: engine.Recording}, status.Overrunning},
		{"invalid config beats all", statusInputs{cfgErr: cfgErr, activity: true, overrunning: true, engine: engine.Recording}, status.InvalidConfig},
		{"starting engine is still waiting", statusInputs{engine: engine.Starting}, status.WaitingForWoW},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := deriveStatus(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.in.cfgErr != nil {
				assert.Equal(t, tt.in.cfgErr.Error(), msg)
			} else {
				assert.Empty(t, msg)
			}
		})
	}
}

func TestCheckName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../x"} {
		assert.ErrorIs(t, checkName(name), status.ErrBadRequest, name)
	}
	assert.NoError(t, checkName("2026-03-01 20-00-00 - Raid"))
}
