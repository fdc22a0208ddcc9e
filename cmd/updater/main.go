package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AngelCh415/workdays-etl/internal/checkpoint"
	"github.com/AngelCh415/workdays-etl/internal/config"
	"github.com/AngelCh415/workdays-etl/internal/crm"
	"github.com/AngelCh415/workdays-etl/internal/ingest"
	"github.com/AngelCh415/workdays-etl/internal/progress"
	"github.com/AngelCh415/workdays-etl/internal/sink"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code.
func run() int {
	resume := flag.Int("resume", 0, "start after the snapshot of phase N (1-5) instead of fetching")
	dryRun := flag.Bool("dry-run", false, "derive and dump everything but send nothing to the sink")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", slog.String("err", err.Error()))
		return 2
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(!*dryRun); err != nil {
		logger.Error("invalid configuration", slog.String("err", err.Error()))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dumps := checkpoint.Multi{checkpoint.Files{Dir: cfg.DumpDir}}
	var snapshots checkpoint.Reader = checkpoint.Files{Dir: cfg.DumpDir}
	if cfg.CheckpointDB != "" {
		db, err := checkpoint.NewSQLite(cfg.CheckpointDB)
		if err != nil {
			logger.Error("checkpoint db", slog.String("err", err.Error()))
			return 1
		}
		defer db.Close()
		dumps = append(dumps, db)
		snapshots = db
	}

	hc := crm.NewHTTPClient(cfg.HTTPTimeout)
	crmClient := crm.NewClient(hc, cfg.CRMBaseURL, cfg.CRMToken, nil)
	sinkClient := sink.NewClient(hc, cfg.SinkURL, cfg.SinkToken, cfg.SinkSecret)
	etl := ingest.NewETL(crmClient, sinkClient, logger, cfg,
		ingest.WithCheckpoint(dumps),
		ingest.WithProgress(progress.Bars{W: os.Stderr}))

	opts := ingest.RunOptions{DryRun: *dryRun, ResumeFrom: *resume}
	if *resume > 0 {
		opts.Resume = snapshots
	}
	if _, err := etl.Run(ctx, opts); err != nil {
		logger.Error("update failed", slog.String("err", err.Error()))
		return 1
	}
	return 0
}
