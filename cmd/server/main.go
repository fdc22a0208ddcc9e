package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AngelCh415/workdays-etl/internal/checkpoint"
	"github.com/AngelCh415/workdays-etl/internal/config"
	"github.com/AngelCh415/workdays-etl/internal/crm"
	"github.com/AngelCh415/workdays-etl/internal/httpx"
	"github.com/AngelCh415/workdays-etl/internal/ingest"
	"github.com/AngelCh415/workdays-etl/internal/metrics"
	"github.com/AngelCh415/workdays-etl/internal/sink"
	"github.com/AngelCh415/workdays-etl/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", slog.String("err", err.Error()))
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(true); err != nil {
		logger.Error("invalid configuration", slog.String("err", err.Error()))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.NewRecorder()
	hc := crm.NewHTTPClient(cfg.HTTPTimeout)
	crmClient := crm.NewClient(hc, cfg.CRMBaseURL, cfg.CRMToken, rec)
	sinkClient := sink.NewClient(hc, cfg.SinkURL, cfg.SinkToken, cfg.SinkSecret)

	dumps := checkpoint.Multi{checkpoint.Files{Dir: cfg.DumpDir}}
	var snaps httpx.Snapshots
	if cfg.CheckpointDB != "" {
		db, err := checkpoint.NewSQLite(cfg.CheckpointDB)
		if err != nil {
			logger.Error("checkpoint db", slog.String("err", err.Error()))
			return 1
		}
		defer db.Close()
		dumps = append(dumps, db)
		snaps = db
	}

	etl := ingest.NewETL(crmClient, sinkClient, logger, cfg,
		ingest.WithCheckpoint(dumps),
		ingest.WithRecorder(rec))
	runs := store.NewMemoryStore(50)
	runner := ingest.NewRunner(ctx, etl, runs, logger)

	if cfg.RunSchedule != "" {
		c, err := ingest.Schedule(cfg.RunSchedule, cfg.Calendar.Location(), runner, logger)
		if err != nil {
			logger.Error("invalid RUN_SCHEDULE", slog.String("err", err.Error()))
			return 2
		}
		c.Start()
		defer c.Stop()
		logger.Info("scheduled runs enabled", slog.String("schedule", cfg.RunSchedule))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpx.NewRouter(logger, runner, runs, snaps, rec.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("err", err.Error()))
		return 1
	}
	runner.Wait()
	return 0
}
