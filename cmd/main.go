package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/gridwatch/internal/adapters/http/api"
	"github.com/okian/gridwatch/internal/adapters/ranking"
	"github.com/okian/gridwatch/internal/adapters/storage"
	app "github.com/okian/gridwatch/internal/app"
	"github.com/okian/gridwatch/internal/config"
	"github.com/okian/gridwatch/internal/domain/event"
	"github.com/okian/gridwatch/internal/domain/projection"
	"github.com/okian/gridwatch/pkg/logger"
	"github.com/okian/gridwatch/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	schedule, err := event.ParseSchedule(cfg.Event.ID, event.BoundaryStrings{
		Preliminaries: cfg.Event.Preliminaries,
		Interlude:     cfg.Event.Interlude,
		Day1:          cfg.Event.Day1,
		Day2:          cfg.Event.Day2,
		Day3:          cfg.Event.Day3,
		Day4:          cfg.Event.Day4,
		Day5:          cfg.Event.Day5,
		End:           cfg.Event.End,
	})
	if err != nil {
		os.Stderr.WriteString("invalid event schedule: " + err.Error() + "\n")
		return
	}

	remote, err := storage.NewDirStore(cfg.ArchiveDir)
	if err != nil {
		os.Stderr.WriteString("failed to open archive store: " + err.Error() + "\n")
		return
	}
	stores, err := storage.NewManager(cfg.DataDir, remote)
	if err != nil {
		os.Stderr.WriteString("failed to open generation manager: " + err.Error() + "\n")
		return
	}

	pages := ranking.NewClient(cfg.RankingBaseURL,
		ranking.WithPageRetries(cfg.PageRetries),
		ranking.WithRetryBackoff(time.Duration(cfg.RetryBackoffMS)*time.Millisecond),
	)

	// Create and start the service with configuration options
	opts := []app.Option{
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithBatchSize(cfg.BatchSize),
		app.WithCadence(time.Duration(cfg.HarvestCadenceMin) * time.Minute),
		app.WithDeadline(time.Duration(cfg.HarvestDeadlineMin) * time.Minute),
	}
	if cfg.CurveURL != "" {
		var src projection.CurveSource = ranking.NewCurveClient(cfg.CurveURL)
		opts = append(opts, app.WithCurveSource(src))
	}

	svc := app.New(schedule, stores, pages, opts...)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// HTTP mux and routes.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	api.NewServer(svc).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}
