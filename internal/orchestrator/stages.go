package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	psdisk "github.com/shirou/gopsutil/v4/disk"

	"github.com/laurencee/wow-recorder/internal/engine"
	"github.com/laurencee/wow-recorder/internal/reconcile"
	"github.com/laurencee/wow-recorder/internal/settings"
	"github.com/laurencee/wow-recorder/internal/status"
	"github.com/laurencee/wow-recorder/internal/storage/cloud"
	"github.com/laurencee/wow-recorder/internal/storage/disk"
	"github.com/laurencee/wow-recorder/internal/videoqueue"
	"github.com/laurencee/wow-recorder/internal/watcher"
)

const gb = int64(1) << 30

// FreeSpace reports free bytes on the volume holding path.
func FreeSpace(ctx context.Context, path string) (uint64, error) {
	u, err := psdisk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// stages declares the reconciliation order: storage first because the
// later stages write into it.
func (m *Manager) stages() []reconcile.Stage {
	current := func() (settings.Settings, error) { return m.opts.Settings.Current() }
	return []reconcile.Stage{
		reconcile.NewStage(StageBase,
			func() (settings.BaseConfig, error) { st, err := current(); return st.Base, err },
			m.validateBase, m.applyBase),
		reconcile.NewStage(StageVideo,
			func() (settings.VideoConfig, error) { st, err := current(); return st.Video, err },
			checkSection[settings.VideoConfig], m.applyVideo),
		reconcile.NewStage(StageAudio,
			func() (settings.AudioConfig, error) { st, err := current(); return st.Audio, err },
			checkSection[settings.AudioConfig], m.applyAudio),
		reconcile.NewStage(StageFlavour,
			func() (settings.FlavourConfig, error) { st, err := current(); return st.Flavour, err },
			validateFlavour, m.applyFlavour),
		reconcile.NewStage(StageOverlay,
			func() (settings.OverlayConfig, error) { st, err := current(); return st.Overlay, err },
			checkSection[settings.OverlayConfig], m.applyOverlay),
	}
}

func checkSection[T any](_ context.Context, cfg T) error {
	return settings.Check(cfg)
}

func requireDir(label, path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s %q does not exist", label, path)
	}
	if err != nil {
		return fmt.Errorf("%s %q: %w", label, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q is not a directory", label, path)
	}
	return nil
}

func (m *Manager) validateBase(ctx context.Context, cfg settings.BaseConfig) error {
	if err := settings.Check(cfg); err != nil {
		return err
	}
	if err := requireDir("storage path", cfg.StoragePath); err != nil {
		return err
	}
	if cfg.SeparateBufferPath {
		if filepath.Clean(cfg.BufferStoragePath) == filepath.Clean(cfg.StoragePath) {
			return errors.New("buffer path must differ from the storage path")
		}
		if err := requireDir("buffer path", cfg.BufferStoragePath); err != nil {
			return err
		}
	}

	free, err := m.opts.FreeSpace(ctx, cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("check free space: %w", err)
	}
	if free < m.opts.MinFreeBytes {
		return fmt.Errorf("insufficient disk space: %d MiB free, need %d MiB", free>>20, m.opts.MinFreeBytes>>20)
	}

	if cfg.CloudStorage {
		return m.checkCloud(ctx, cfg)
	}
	return nil
}

// checkCloud connects to the cloud store and pings it, failing after the
// cloud timeout even if the client does not honour cancellation.
func (m *Manager) checkCloud(ctx context.Context, cfg settings.BaseConfig) error {
	if m.opts.Cloud == nil {
		return errors.New("cloud storage is not supported by this build")
	}
	if _, err := os.Stat(cfg.CloudCredentials); err != nil {
		return fmt.Errorf("cloud credentials: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.CloudTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		store, err := m.opts.Cloud(ctx, cfg)
		if err != nil {
			errc <- err
			return
		}
		defer store.Close()
		errc <- store.Ping(ctx)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("cloud store unreachable: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cloud store did not respond within %s", m.opts.CloudTimeout)
	}
}

func (m *Manager) applyBase(ctx context.Context, cfg settings.BaseConfig) error {
	if m.anyActivity() {
		return errActivityInProgress
	}

	var store cloud.Store
	if cfg.CloudStorage {
		var err error
		store, err = m.opts.Cloud(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open cloud store: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.BufferPath(), 0o755); err != nil {
		if store != nil {
			store.Close()
		}
		return fmt.Errorf("create buffer dir: %w", err)
	}

	err := m.withEngine(func(e engine.Engine) error {
		if err := stopIfActive(ctx, e); err != nil {
			return err
		}
		return e.ConfigureBase(ctx, cfg)
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return err
	}

	m.mu.Lock()
	old, oldCancel := m.cloud, m.storageCancel
	m.base, m.cloud = cfg, store
	watchCtx, cancel := context.WithCancel(m.runCtx)
	m.storageCancel = cancel
	m.mu.Unlock()
	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		_ = old.Close()
	}

	var uploader videoqueue.CloudUploader
	if store != nil {
		uploader = store
	}
	m.opts.Queue.Configure(videoqueue.Target{
		StorageDir: cfg.StoragePath,
		BufferDir:  cfg.BufferPath(),
		MaxBytes:   int64(cfg.MaxStorageGB) * gb,
		Upload:     cfg.CloudUpload,
		Cloud:      uploader,
	})
	m.opts.Loader.SetCloud(store)

	if n, err := m.opts.Disk.PurgeMarked(cfg.StoragePath); err != nil {
		m.log.Warn("purge deleted videos", "error", err)
	} else if n > 0 {
		m.log.Info("purged deleted videos", "files", n)
	}
	m.watchStorage(watchCtx, cfg, store)
	m.storageChanged(ctx)
	return nil
}

// watchStorage refreshes listings when the storage directory or the
// cloud bucket changes, until ctx is cancelled.
func (m *Manager) watchStorage(ctx context.Context, cfg settings.BaseConfig, store cloud.Store) {
	go func() {
		err := disk.Watch(ctx, m.log, cfg.StoragePath, diskDebounce, func() { m.storageChanged(ctx) })
		if err != nil {
			m.log.Warn("storage watch stopped", "error", err)
		}
	}()
	if store != nil {
		go cloud.Poll(ctx, m.log, store, m.opts.CloudPoll, func([]cloud.Object) { m.storageChanged(ctx) })
	}
}

// storageChanged pushes usage and asks consumers to list videos again.
func (m *Manager) storageChanged(ctx context.Context) {
	m.mu.Lock()
	cfg, store := m.base, m.cloud
	m.mu.Unlock()

	if cfg.StoragePath != "" {
		if used, err := m.opts.Disk.Usage(cfg.StoragePath); err == nil {
			m.pub.PushUsage(status.DiskUsage, used, int64(cfg.MaxStorageGB)*gb)
		}
	}
	if store != nil {
		if objects, err := store.List(ctx, ""); err == nil {
			m.pub.PushUsage(status.CloudUsage, cloud.Usage(objects), int64(cfg.CloudMaxStorageGB)*gb)
		}
	}
	m.pub.RefreshState()
}

func (m *Manager) applyVideo(ctx context.Context, cfg settings.VideoConfig) error {
	if m.anyActivity() {
		return errActivityInProgress
	}
	return m.withEngine(func(e engine.Engine) error {
		if err := stopIfActive(ctx, e); err != nil {
			return err
		}
		return e.ConfigureVideo(ctx, cfg)
	})
}

func (m *Manager) applyAudio(ctx context.Context, cfg settings.AudioConfig) error {
	m.mu.Lock()
	m.audio = cfg
	attached := m.sources
	m.mu.Unlock()
	return m.withEngine(func(e engine.Engine) error {
		if err := e.ConfigureAudio(ctx, cfg); err != nil {
			return err
		}
		if !attached {
			return nil
		}
		e.RemoveAudioSources()
		return e.ConfigureAudioSources(ctx, cfg)
	})
}

func validateFlavour(_ context.Context, cfg settings.FlavourConfig) error {
	if err := settings.Check(cfg); err != nil {
		return err
	}
	if cfg.RecordRetail {
		if err := requireDir("retail log path", cfg.RetailLogPath); err != nil {
			return err
		}
	}
	if cfg.RecordClassic {
		if err := requireDir("classic log path", cfg.ClassicLogPath); err != nil {
			return err
		}
	}
	if cfg.RecordRetail && cfg.RecordClassic &&
		filepath.Clean(cfg.RetailLogPath) == filepath.Clean(cfg.ClassicLogPath) {
		return errors.New("retail and classic log paths must differ")
	}
	return nil
}

// applyFlavour rebuilds the log watchers and tells the poller which game
// clients to look for.
func (m *Manager) applyFlavour(ctx context.Context, cfg settings.FlavourConfig) error {
	if m.anyActivity() {
		return errActivityInProgress
	}
	m.destroyWatchers()

	m.mu.Lock()
	player := m.base.POVName
	runCtx := m.runCtx
	m.mu.Unlock()

	build := func(f watcher.Flavour, dir string) error {
		w, err := m.opts.Watchers(runCtx, watcher.Config{
			Flavour:     f,
			LogDir:      dir,
			Engine:      lockedEngine{m},
			Queue:       m.opts.Queue,
			Player:      player,
			MinDuration: secs(cfg.MinEncounterSeconds),
			Overrun:     secs(cfg.OverrunSeconds),
		})
		if err != nil {
			return fmt.Errorf("%s watcher: %w", f, err)
		}
		unsub := w.Subscribe(m.poke)
		m.mu.Lock()
		m.watchers[f] = &watchedLog{w: w, unsub: unsub}
		m.mu.Unlock()
		return nil
	}
	if cfg.RecordRetail {
		if err := build(watcher.Retail, cfg.RetailLogPath); err != nil {
			return err
		}
	}
	if cfg.RecordClassic {
		if err := build(watcher.Classic, cfg.ClassicLogPath); err != nil {
			return err
		}
	}
	m.opts.Poller.ReconfigureFlavour(cfg)
	return nil
}

func (m *Manager) applyOverlay(ctx context.Context, cfg settings.OverlayConfig) error {
	return m.withEngine(func(e engine.Engine) error {
		return e.ConfigureOverlay(ctx, cfg)
	})
}

// stopIfActive stops e unless it is already offline. Outputs can only be
// reconfigured on a stopped engine; the buffer restarts once the pass
// completes.
func stopIfActive(ctx context.Context, e engine.Engine) error {
	if e.State() == engine.Offline {
		return nil
	}
	return e.Stop(ctx)
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
