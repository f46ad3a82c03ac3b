package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/laurencee/wow-recorder/internal/combatlog"
	"github.com/laurencee/wow-recorder/internal/correlate"
	"github.com/laurencee/wow-recorder/internal/engine"
	"github.com/laurencee/wow-recorder/internal/orchestrator"
	"github.com/laurencee/wow-recorder/internal/platform/config"
	"github.com/laurencee/wow-recorder/internal/platform/logger"
	"github.com/laurencee/wow-recorder/internal/platform/metrics"
	"github.com/laurencee/wow-recorder/internal/poller"
	"github.com/laurencee/wow-recorder/internal/settings"
	"github.com/laurencee/wow-recorder/internal/status"
	"github.com/laurencee/wow-recorder/internal/storage/cloud"
	"github.com/laurencee/wow-recorder/internal/storage/disk"
	"github.com/laurencee/wow-recorder/internal/videoqueue"
)

const (
	shutdownTimeout = 10 * time.Second
	jobHistory      = 100
	jobBacklog      = 16
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the recorder and its local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts.runtime())
		},
	}
}

func openCloud(ctx context.Context, cfg settings.BaseConfig) (cloud.Store, error) {
	return cloud.NewGCS(ctx, cfg.CloudBucket, cfg.CloudCredentials)
}

func run(rt config.Runtime) error {
	log := logger.New(rt.LogLevel, rt.LogFormat)
	met := metrics.New()
	hub := status.NewHub()

	src := settings.NewSource(rt.SettingsPath, log)
	if _, err := src.Load(); err != nil {
		// The reconciler reports it as invalid configuration.
		log.Warn("settings not loaded", "path", rt.SettingsPath, "error", err)
	}

	store := disk.New(log)
	queue := videoqueue.New(log, videoqueue.NewInMemoryRepository(jobHistory), store, jobBacklog)
	queue.OnSaved(func(j videoqueue.Job) {
		log.Info("save job finished", "job", j.ID, "state", j.State, "path", j.Path)
		hub.RefreshState()
	})

	var openStore orchestrator.CloudFactory
	if rt.CloudEnabled {
		openStore = openCloud
	}

	// The native capture engine is linked by the desktop build; this binary
	// drives the simulated one.
	mgr, err := orchestrator.New(orchestrator.Options{
		Log:             log,
		Metrics:         met,
		Settings:        src,
		Engines:         engine.SimulatedFactory(log, nil),
		Watchers:        combatlog.NewFactory(log),
		Poller:          poller.New(log, rt.PollInterval),
		Publisher:       hub,
		Queue:           queue,
		Disk:            store,
		Loader:          correlate.NewLoader(log, met, store, rt.ListConcurrency),
		Cloud:           openStore,
		RestartInterval: rt.RestartInterval,
		CloudPoll:       rt.CloudPoll,
	})
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			st, _ := mgr.Status()
			met.SetStatus(int(st))
		}).ServeHTTP(w, r)
	})
	status.NewHandler(mgr, hub, log).Routes(r)

	srv := &http.Server{Addr: rt.HTTPAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := src.Watch(ctx); err != nil {
			log.Error("settings watch stopped", "error", err)
		}
	}()
	go queue.Run(ctx)

	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(ctx) }()

	log.Info("recorder starting",
		"addr", rt.HTTPAddr,
		"settings", rt.SettingsPath,
		"log_level", rt.LogLevel,
		"restart_interval", rt.RestartInterval.String(),
		"cloud", rt.CloudEnabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var fatal error
	select {
	case <-sigCh:
		log.Info("shutdown signal received")
		cancel()
		fatal = <-runErr
	case fatal = <-runErr:
		log.Error("recorder stopped", "error", fatal)
		cancel()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("recorder stopped")
	return fatal
}
