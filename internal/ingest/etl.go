package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AngelCh415/workdays-etl/internal/aggregate"
	"github.com/AngelCh415/workdays-etl/internal/checkpoint"
	"github.com/AngelCh415/workdays-etl/internal/config"
	"github.com/AngelCh415/workdays-etl/internal/crm"
	"github.com/AngelCh415/workdays-etl/internal/models"
	"github.com/AngelCh415/workdays-etl/internal/progress"
	"github.com/AngelCh415/workdays-etl/internal/workdays"
)

// CRM is the part of the CRM API the updater reads.
type CRM interface {
	ListDeals(ctx context.Context, page, limit int, statuses []crm.StatusFilter) ([]models.Deal, error)
	GetContact(ctx context.Context, id int64, fields crm.FieldMap) (models.Contact, error)
	StatusChanges(ctx context.Context, dealID int64, dir crm.Direction, stage []crm.StatusFilter) ([]time.Time, error)
}

// Sink is the analytics destination.
type Sink interface {
	SetProfile(ctx context.Context, c models.Customer) error
	ImportEvents(ctx context.Context, facts []models.Fact) (int, error)
}

// Recorder receives run metrics.
type Recorder interface {
	PhaseItems(phase string, n int)
	ItemFailed(phase string)
	Imported(kind string, n int)
	RunFinished(d time.Duration, err error)
}

// errMissingData drops an item from a phase without counting it as a failure.
var errMissingData = errors.New("missing data")

type ETL struct {
	crm  CRM
	sink Sink
	log  *slog.Logger
	cfg  config.Config

	dump     checkpoint.Writer
	rec      Recorder
	progress progress.Reporter
	now      func() time.Time
}

type Option func(*ETL)

func WithCheckpoint(w checkpoint.Writer) Option { return func(e *ETL) { e.dump = w } }
func WithRecorder(r Recorder) Option            { return func(e *ETL) { e.rec = r } }
func WithProgress(p progress.Reporter) Option   { return func(e *ETL) { e.progress = p } }
func WithClock(now func() time.Time) Option     { return func(e *ETL) { e.now = now } }

func NewETL(c CRM, s Sink, log *slog.Logger, cfg config.Config, opts ...Option) *ETL {
	e := &ETL{
		crm:      c,
		sink:     s,
		log:      log,
		cfg:      cfg,
		rec:      nopRecorder{},
		progress: progress.Nop{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RunOptions tune a single run.
type RunOptions struct {
	// RunID names the run; a random one is generated when empty.
	RunID string
	// DryRun derives and dumps everything but sends nothing to the sink.
	DryRun bool
	// ResumeFrom loads the snapshot of that phase from Resume and starts after it.
	ResumeFrom int
	Resume     checkpoint.Reader
}

type phase struct {
	num  int
	name string
	run  func(ctx context.Context, in []models.Record) ([]models.Record, error)
}

// Run executes one full update: fetch, derive, aggregate and import.
func (e *ETL) Run(ctx context.Context, opts RunOptions) (report models.RunReport, err error) {
	now := e.now()
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	report = models.RunReport{
		RunID:     opts.RunID,
		StartedAt: now,
		Phases:    map[string]int{},
		DryRun:    opts.DryRun,
	}
	log := e.log.With(slog.String("run_id", report.RunID))
	log.Info("run started",
		slog.Any("work_days", e.cfg.Rules.WorkDays.Days()),
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("resume_from", opts.ResumeFrom))
	defer func() {
		report.FinishedAt = e.now()
		if err != nil {
			report.Err = err.Error()
		}
		e.rec.RunFinished(report.FinishedAt.Sub(report.StartedAt), err)
		log.Info("run finished",
			slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
			slog.Int("customers", report.Customers),
			slog.Int("facts", report.Facts),
			slog.Any("err", err))
	}()

	contacts := crm.NewContactCache(func(ctx context.Context, id int64) (models.Contact, error) {
		return e.crm.GetContact(ctx, id, e.cfg.ContactFields)
	})
	expander := workdays.NewExpander(e.cfg.Calendar, e.cfg.Rules, now)

	phases := []phase{
		{1, "leads", func(ctx context.Context, _ []models.Record) ([]models.Record, error) {
			return e.fetchDeals(ctx, log)
		}},
		{2, "customers", func(ctx context.Context, in []models.Record) ([]models.Record, error) {
			out, err := e.fanOut(ctx, log, "customers", in, func(ctx context.Context, r *models.Record) error {
				return e.addContact(ctx, contacts, r)
			})
			if err == nil {
				log.Debug("contacts looked up", slog.Int("distinct", contacts.Len()))
			}
			return out, err
		}},
		{3, "events", func(ctx context.Context, in []models.Record) ([]models.Record, error) {
			return e.fanOut(ctx, log, "events", in, e.addEvents)
		}},
		{4, "periods", func(_ context.Context, in []models.Record) ([]models.Record, error) {
			return e.buildPeriods(in), nil
		}},
		{5, "work_dates", func(_ context.Context, in []models.Record) ([]models.Record, error) {
			for i := range in {
				in[i].WorkDates = expander.ExpandAll(in[i].Periods)
			}
			return in, nil
		}},
	}

	var records []models.Record
	if opts.ResumeFrom > 0 {
		if opts.ResumeFrom > len(phases) || opts.Resume == nil {
			return report, fmt.Errorf("cannot resume from phase %d", opts.ResumeFrom)
		}
		p := phases[opts.ResumeFrom-1]
		if err := opts.Resume.Read(ctx, p.num, p.name, &records); err != nil {
			return report, fmt.Errorf("resume from %d_%s: %w", p.num, p.name, err)
		}
		log.Info("resumed from snapshot", slog.String("phase", p.name), slog.Int("items", len(records)))
	}

	for _, p := range phases {
		if p.num <= opts.ResumeFrom {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("before phase %s: %w", p.name, err)
		}
		records, err = p.run(ctx, records)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			return report, fmt.Errorf("phase %s: %w", p.name, err)
		}
		report.Phases[p.name] = len(records)
		e.rec.PhaseItems(p.name, len(records))
		log.Info("phase complete", slog.String("phase", p.name), slog.Int("items", len(records)))

		if p.num == 1 && len(records) == 0 {
			log.Info("no deals to process")
			return report, nil
		}
		if e.dump != nil {
			if err := e.dump.Write(ctx, report.RunID, p.num, p.name, records); err != nil {
				log.Warn("dump failed", slog.String("phase", p.name), slog.String("err", err.Error()))
			}
		}
	}

	return e.export(ctx, log, records, &report, opts.DryRun)
}

// fetchDeals pages through the deal listing strictly one page after another until
// a page comes back empty or fails.
func (e *ETL) fetchDeals(ctx context.Context, log *slog.Logger) ([]models.Record, error) {
	var out []models.Record
	skipped := 0
	for page := e.cfg.PageStart; ; page++ {
		deals, err := e.crm.ListDeals(ctx, page, e.cfg.PageLimit, e.cfg.DealStatuses())
		if err != nil {
			if errors.Is(err, crm.ErrUnauthorized) || ctx.Err() != nil {
				return nil, err
			}
			e.rec.ItemFailed("leads")
			log.Warn("deal page failed", slog.Int("page", page), slog.String("err", err.Error()))
			break
		}
		if len(deals) == 0 {
			break
		}
		for _, d := range deals {
			if len(d.CustomerIDs) == 0 {
				skipped++
				continue
			}
			out = append(out, models.Record{Deal: d})
		}
		log.Debug("deal page fetched", slog.Int("page", page), slog.Int("deals", len(deals)))
	}
	if skipped > 0 {
		log.Info("deals without contacts skipped", slog.Int("count", skipped))
	}
	return out, nil
}

func (e *ETL) addContact(ctx context.Context, cache *crm.ContactCache, r *models.Record) error {
	id, ok := r.Deal.PrimaryCustomerID()
	if !ok {
		return errMissingData
	}
	c, err := cache.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("contact %d: %w", id, err)
	}
	r.Contact = &c
	return nil
}

// addEvents attaches the deal's stage entries and exits. Deals with a corner-case
// override skip the lookup entirely.
func (e *ETL) addEvents(ctx context.Context, r *models.Record) error {
	if _, ok := e.cfg.CornerCases[r.Deal.ID]; ok {
		return nil
	}
	stage := e.cfg.StageChange()
	starts, err := e.crm.StatusChanges(ctx, r.Deal.ID, crm.Entered, stage)
	if err != nil {
		return fmt.Errorf("stage entries: %w", err)
	}
	if len(starts) == 0 {
		return errMissingData
	}
	ends, err := e.crm.StatusChanges(ctx, r.Deal.ID, crm.Left, stage)
	if err != nil {
		return fmt.Errorf("stage exits: %w", err)
	}
	r.Starts = e.localize(starts)
	r.Ends = e.localize(ends)
	return nil
}

func (e *ETL) localize(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = e.cfg.Calendar.In(t)
	}
	return out
}

func (e *ETL) buildPeriods(in []models.Record) []models.Record {
	for i := range in {
		if periods, ok := e.cfg.CornerCases.Periods(in[i].Deal.ID); ok {
			in[i].Periods = periods
			continue
		}
		in[i].Periods = workdays.BuildPeriods(in[i].Starts, in[i].Ends)
	}
	return in
}

// fanOut runs fn for every record concurrently and keeps the records it succeeded
// on, in input order. Item failures are logged and dropped; only an unauthorized
// answer cancels the phase.
func (e *ETL) fanOut(ctx context.Context, log *slog.Logger, name string, in []models.Record, fn func(context.Context, *models.Record) error) ([]models.Record, error) {
	out := make([]models.Record, len(in))
	copy(out, in)
	keep := make([]bool, len(in))

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.FetchConcurrency > 0 {
		g.SetLimit(e.cfg.FetchConcurrency)
	}
	tr := e.progress.Phase(name, len(in))
	for i := range out {
		i := i
		g.Go(func() error {
			defer tr.Step()
			err := fn(gctx, &out[i])
			switch {
			case err == nil:
				keep[i] = true
			case errors.Is(err, crm.ErrUnauthorized):
				return err
			case errors.Is(err, errMissingData), gctx.Err() != nil:
			default:
				e.rec.ItemFailed(name)
				log.Warn("item dropped", slog.String("phase", name), slog.Int64("deal_id", out[i].Deal.ID), slog.String("err", err.Error()))
			}
			return nil
		})
	}
	err := g.Wait()
	tr.Done()
	if err != nil {
		return nil, err
	}
	// Items cut short by cancellation were dropped silently above.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kept := out[:0]
	for i, r := range out {
		if keep[i] {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func (e *ETL) export(ctx context.Context, log *slog.Logger, records []models.Record, report *models.RunReport, dryRun bool) (models.RunReport, error) {
	customers := aggregate.Customers(records)
	report.Customers = len(customers)

	target := e.cfg.TargetDate
	if target == "" {
		target = e.cfg.Calendar.Yesterday(e.now())
	}
	report.TargetDate = target
	splitter := aggregate.Splitter{
		Calendar:  e.cfg.Calendar,
		EventName: e.cfg.SinkEventName,
		Funnels:   e.cfg.Funnels,
	}
	facts, err := splitter.Split(records, target)
	if err != nil {
		return *report, err
	}
	report.Facts = len(facts)
	log.Info("export prepared", slog.Int("customers", len(customers)), slog.Int("facts", len(facts)), slog.String("date", target))

	if dryRun {
		return *report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.FetchConcurrency > 0 {
		g.SetLimit(e.cfg.FetchConcurrency)
	}
	set := make([]bool, len(customers))
	for i := range customers {
		i := i
		g.Go(func() error {
			if err := e.sink.SetProfile(gctx, customers[i]); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.rec.ItemFailed("profiles")
				log.Warn("profile update failed", slog.Int64("contact_id", customers[i].ID), slog.String("err", err.Error()))
				return nil
			}
			set[i] = true
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	profiles := 0
	for _, ok := range set {
		if ok {
			profiles++
		}
	}
	e.rec.Imported("profiles", profiles)
	if err != nil {
		return *report, fmt.Errorf("set profiles: %w", err)
	}

	if len(facts) == 0 {
		return *report, nil
	}
	n, err := e.sink.ImportEvents(ctx, facts)
	e.rec.Imported("facts", n)
	if err != nil {
		return *report, fmt.Errorf("import facts: %w", err)
	}
	return *report, nil
}

type nopRecorder struct{}

func (nopRecorder) PhaseItems(string, int)           {}
func (nopRecorder) ItemFailed(string)                {}
func (nopRecorder) Imported(string, int)             {}
func (nopRecorder) RunFinished(time.Duration, error) {}
