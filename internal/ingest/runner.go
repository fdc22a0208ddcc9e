package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/AngelCh415/workdays-etl/internal/store"
)

var ErrRunning = errors.New("a run is already in progress")

// Runner starts ETL runs in the background, one at a time, and records their reports.
type Runner struct {
	ctx  context.Context
	etl  *ETL
	runs *store.MemoryStore
	log  *slog.Logger
	wg   sync.WaitGroup
}

// NewRunner ties background runs to ctx; cancelling it aborts an active run.
func NewRunner(ctx context.Context, etl *ETL, runs *store.MemoryStore, log *slog.Logger) *Runner {
	return &Runner{ctx: ctx, etl: etl, runs: runs, log: log}
}

// Trigger starts a run and returns its id without waiting for it.
func (r *Runner) Trigger(opts RunOptions) (string, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if !r.runs.Begin(opts.RunID) {
		return "", ErrRunning
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(opts)
	}()
	return opts.RunID, nil
}

func (r *Runner) run(opts RunOptions) {
	report, err := r.etl.Run(r.ctx, opts)
	if err != nil {
		r.log.Error("run failed", slog.String("run_id", opts.RunID), slog.String("err", err.Error()))
	}
	report.RunID = opts.RunID
	r.runs.Finish(report)
}

// Wait blocks until background runs have returned.
func (r *Runner) Wait() { r.wg.Wait() }

// Schedule triggers a run on every tick of the cron expression, evaluated in loc.
// The caller starts and stops the returned scheduler.
func Schedule(spec string, loc *time.Location, r *Runner, log *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		id, err := r.Trigger(RunOptions{})
		if err != nil {
			log.Warn("scheduled run skipped", slog.String("err", err.Error()))
			return
		}
		log.Info("scheduled run started", slog.String("run_id", id))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
