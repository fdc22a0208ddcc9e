package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/workdays-etl/internal/aggregate"
	"github.com/AngelCh415/workdays-etl/internal/calendar"
	"github.com/AngelCh415/workdays-etl/internal/checkpoint"
	"github.com/AngelCh415/workdays-etl/internal/config"
	"github.com/AngelCh415/workdays-etl/internal/crm"
	"github.com/AngelCh415/workdays-etl/internal/models"
	"github.com/AngelCh415/workdays-etl/internal/workdays"
)

type fakeCRM struct {
	mu         sync.Mutex
	pages      map[int][]models.Deal
	contacts   map[int64]models.Contact
	contactErr error
	starts     map[int64][]time.Time
	ends       map[int64][]time.Time

	pageCalls    []int
	contactCalls map[int64]int
	eventCalls   map[int64]int
}

func (f *fakeCRM) ListDeals(_ context.Context, page, _ int, _ []crm.StatusFilter) ([]models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = append(f.pageCalls, page)
	return f.pages[page], nil
}

func (f *fakeCRM) GetContact(_ context.Context, id int64, _ crm.FieldMap) (models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contactCalls == nil {
		f.contactCalls = map[int64]int{}
	}
	f.contactCalls[id]++
	if f.contactErr != nil {
		return models.Contact{}, f.contactErr
	}
	c, ok := f.contacts[id]
	if !ok {
		return models.Contact{}, &crm.StatusError{Code: 500, Body: "boom"}
	}
	return c, nil
}

func (f *fakeCRM) StatusChanges(_ context.Context, dealID int64, dir crm.Direction, _ []crm.StatusFilter) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventCalls == nil {
		f.eventCalls = map[int64]int{}
	}
	f.eventCalls[dealID]++
	if dir == crm.Entered {
		return f.starts[dealID], nil
	}
	return f.ends[dealID], nil
}

type fakeSink struct {
	mu       sync.Mutex
	profiles []models.Customer
	facts    []models.Fact
}

func (s *fakeSink) SetProfile(_ context.Context, c models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append(s.profiles, c)
	return nil
}

func (s *fakeSink) ImportEvents(_ context.Context, facts []models.Fact) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, facts...)
	return len(facts), nil
}

// failingCRM fails the test on any call.
type failingCRM struct{ t *testing.T }

func (f failingCRM) ListDeals(context.Context, int, int, []crm.StatusFilter) ([]models.Deal, error) {
	f.t.Error("unexpected ListDeals")
	return nil, errors.New("unexpected")
}

func (f failingCRM) GetContact(context.Context, int64, crm.FieldMap) (models.Contact, error) {
	f.t.Error("unexpected GetContact")
	return models.Contact{}, errors.New("unexpected")
}

func (f failingCRM) StatusChanges(context.Context, int64, crm.Direction, []crm.StatusFilter) ([]time.Time, error) {
	f.t.Error("unexpected StatusChanges")
	return nil, errors.New("unexpected")
}

var prague = mustCalendar()

func mustCalendar() calendar.Calendar {
	cal, err := calendar.Load("Europe/Prague")
	if err != nil {
		panic(err)
	}
	return cal
}

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, prague.Location())
	if err != nil {
		panic(err)
	}
	return t
}

func testConfig() config.Config {
	return config.Config{
		PageStart:  1,
		PageLimit:  2,
		PipelineID: 10,
		StatusFull: 141,
		StatusDemo: 142,
		Funnels:    aggregate.Funnels{"main": 10},
		Calendar:   prague,
		Rules: workdays.Rules{
			StartingTimecut: 12 * time.Hour,
			StoppingTimecut: 12 * time.Hour,
			EventsTimeGap:   5 * time.Minute,
			WorkDays:        workdays.NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
		},
		CornerCases: workdays.Overrides{
			5: {at("2024-01-08 08:00"), at("2024-01-09 14:00")},
		},
		SinkEventName:    "Vyroba",
		FetchConcurrency: 4,
	}
}

func deal(id int64, contacts ...int64) models.Deal {
	return models.Deal{ID: id, PipelineID: 10, StatusID: 141, CustomerIDs: contacts}
}

// standardCRM serves three pages: deal 2 has no contact, deal 4's contact fails,
// deal 5 is a corner case and deal 6 never entered production.
func standardCRM() *fakeCRM {
	return &fakeCRM{
		pages: map[int][]models.Deal{
			1: {deal(1, 100), deal(2)},
			2: {deal(3, 100), deal(4, 200)},
			3: {deal(5, 100), deal(6, 100)},
		},
		contacts: map[int64]models.Contact{
			100: {ID: 100, FirstName: "Jana", LastName: "Nováková", Email: "jana@example.com"},
		},
		starts: map[int64][]time.Time{
			1: {at("2024-01-08 08:00").UTC()},
			3: {at("2024-01-09 09:00").UTC()},
		},
		ends: map[int64][]time.Time{
			1: {at("2024-01-09 14:00").UTC()},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func clock() time.Time { return at("2024-01-10 09:00") }

func insertIDs(facts []models.Fact) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, f.Properties.InsertID)
	}
	sort.Strings(out)
	return out
}

func TestRunEndToEnd(t *testing.T) {
	c := standardCRM()
	sk := &fakeSink{}
	dir := t.TempDir()
	etl := NewETL(c, sk, quietLogger(), testConfig(),
		WithClock(clock),
		WithCheckpoint(checkpoint.Files{Dir: dir}))

	report, err := etl.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "2024-01-09", report.TargetDate)
	assert.Equal(t, map[string]int{
		"leads":      5,
		"customers":  4,
		"events":     3,
		"periods":    3,
		"work_dates": 3,
	}, report.Phases)
	assert.Equal(t, 1, report.Customers)
	assert.Equal(t, 3, report.Facts)
	assert.Empty(t, report.Err)

	assert.Equal(t, []int{1, 2, 3, 4}, c.pageCalls)
	assert.Equal(t, 1, c.contactCalls[100])
	assert.Equal(t, 1, c.contactCalls[200])
	assert.Zero(t, c.eventCalls[5])

	require.Len(t, sk.profiles, 1)
	require.NotNil(t, sk.profiles[0].LastWorkDate)
	assert.Equal(t, "2024-01-10", *sk.profiles[0].LastWorkDate)

	assert.Equal(t, []string{"1-2024-01-09", "3-2024-01-09", "5-2024-01-09"}, insertIDs(sk.facts))
	for _, f := range sk.facts {
		assert.Equal(t, "Vyroba", f.Event)
		assert.Equal(t, "100", f.Properties.DistinctID)
		assert.Equal(t, "main", f.Properties.Pipeline)
		assert.Equal(t, at("2024-01-09 00:01").UnixMilli(), f.Properties.Time)
	}

	for _, name := range []string{"1_leads", "2_customers", "3_events", "4_periods", "5_work_dates"} {
		assert.FileExists(t, filepath.Join(dir, name+".json"))
	}
}

func TestRunTargetDateOverride(t *testing.T) {
	cfg := testConfig()
	cfg.TargetDate = "2024-01-10"
	sk := &fakeSink{}

	report, err := NewETL(standardCRM(), sk, quietLogger(), cfg, WithClock(clock)).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-10", report.TargetDate)
	assert.Equal(t, []string{"3-2024-01-10"}, insertIDs(sk.facts))
}

func TestRunUnauthorizedAborts(t *testing.T) {
	c := standardCRM()
	c.contactErr = crm.ErrUnauthorized
	sk := &fakeSink{}

	report, err := NewETL(c, sk, quietLogger(), testConfig(), WithClock(clock)).Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, crm.ErrUnauthorized)
	assert.NotEmpty(t, report.Err)
	assert.Empty(t, sk.profiles)
	assert.Empty(t, sk.facts)
}

func TestRunWithoutDealsStopsEarly(t *testing.T) {
	dir := t.TempDir()
	sk := &fakeSink{}
	etl := NewETL(&fakeCRM{}, sk, quietLogger(), testConfig(),
		WithClock(clock),
		WithCheckpoint(checkpoint.Files{Dir: dir}))

	report, err := etl.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"leads": 0}, report.Phases)
	assert.Empty(t, report.TargetDate)
	assert.Empty(t, sk.profiles)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunDryRun(t *testing.T) {
	sk := &fakeSink{}
	report, err := NewETL(standardCRM(), sk, quietLogger(), testConfig(), WithClock(clock)).
		Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Facts)
	assert.Empty(t, sk.profiles)
	assert.Empty(t, sk.facts)
}

func TestRunResumesFromSnapshot(t *testing.T) {
	dumps := checkpoint.Files{Dir: t.TempDir()}
	_, err := NewETL(standardCRM(), &fakeSink{}, quietLogger(), testConfig(),
		WithClock(clock), WithCheckpoint(dumps)).Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)

	sk := &fakeSink{}
	report, err := NewETL(failingCRM{t}, sk, quietLogger(), testConfig(), WithClock(clock)).
		Run(context.Background(), RunOptions{ResumeFrom: 3, Resume: dumps})
	require.NoError(t, err)

	assert.NotContains(t, report.Phases, "events")
	assert.Equal(t, 3, report.Phases["work_dates"])
	assert.Equal(t, []string{"1-2024-01-09", "3-2024-01-09", "5-2024-01-09"}, insertIDs(sk.facts))
}

func TestRunResumeErrors(t *testing.T) {
	etl := NewETL(failingCRM{t}, &fakeSink{}, quietLogger(), testConfig(), WithClock(clock))

	_, err := etl.Run(context.Background(), RunOptions{ResumeFrom: 2, Resume: checkpoint.Files{Dir: t.TempDir()}})
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	_, err = etl.Run(context.Background(), RunOptions{ResumeFrom: 9, Resume: checkpoint.Files{Dir: t.TempDir()}})
	assert.Error(t, err)

	_, err = etl.Run(context.Background(), RunOptions{ResumeFrom: 1})
	assert.Error(t, err)
}

type countingRecorder struct {
	mu       sync.Mutex
	failures map[string]int
	imported map[string]int
	runs     int
}

func (r *countingRecorder) PhaseItems(string, int) {}

func (r *countingRecorder) ItemFailed(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[phase]++
}

func (r *countingRecorder) Imported(kind string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imported[kind] += n
}

func (r *countingRecorder) RunFinished(time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func TestRunRecordsMetrics(t *testing.T) {
	rec := &countingRecorder{failures: map[string]int{}, imported: map[string]int{}}
	_, err := NewETL(standardCRM(), &fakeSink{}, quietLogger(), testConfig(),
		WithClock(clock), WithRecorder(rec)).Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// deal 4's contact failed; deal 6 simply has no production events
	assert.Equal(t, map[string]int{"customers": 1}, rec.failures)
	assert.Equal(t, map[string]int{"profiles": 1, "facts": 3}, rec.imported)
	assert.Equal(t, 1, rec.runs)
}

// cancelingCRM cancels the run from inside the contact lookups.
type cancelingCRM struct {
	*fakeCRM
	cancel context.CancelFunc
}

func (c cancelingCRM) GetContact(ctx context.Context, _ int64, _ crm.FieldMap) (models.Contact, error) {
	c.cancel()
	<-ctx.Done()
	return models.Contact{}, ctx.Err()
}

func TestRunCancelledMidPhaseFailsAndKeepsSnapshots(t *testing.T) {
	dir := t.TempDir()
	previous := []byte(`[{"lead":{"lead_id":42}}]`)
	for _, name := range []string{"2_customers", "3_events", "4_periods", "5_work_dates"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), previous, 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sk := &fakeSink{}
	rec := &countingRecorder{failures: map[string]int{}, imported: map[string]int{}}
	etl := NewETL(cancelingCRM{fakeCRM: standardCRM(), cancel: cancel}, sk, quietLogger(), testConfig(),
		WithClock(clock),
		WithRecorder(rec),
		WithCheckpoint(checkpoint.Files{Dir: dir}))

	report, err := etl.Run(ctx, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, report.Err)
	assert.Equal(t, map[string]int{"leads": 5}, report.Phases)
	assert.Empty(t, rec.failures)
	assert.Empty(t, sk.profiles)
	assert.Empty(t, sk.facts)

	for _, name := range []string{"2_customers", "3_events", "4_periods", "5_work_dates"} {
		b, err := os.ReadFile(filepath.Join(dir, name+".json"))
		require.NoError(t, err)
		assert.Equal(t, previous, b, name)
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := standardCRM()

	_, err := NewETL(c, &fakeSink{}, quietLogger(), testConfig(), WithClock(clock)).Run(ctx, RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.pageCalls)
}

// cancelingSink cancels the run while profiles are being sent.
type cancelingSink struct {
	fakeSink
	cancel context.CancelFunc
}

func (s *cancelingSink) SetProfile(ctx context.Context, _ models.Customer) error {
	s.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestRunCancelledDuringProfilesSkipsImport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sk := &cancelingSink{cancel: cancel}
	rec := &countingRecorder{failures: map[string]int{}, imported: map[string]int{}}

	_, err := NewETL(standardCRM(), sk, quietLogger(), testConfig(), WithClock(clock), WithRecorder(rec)).
		Run(ctx, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sk.facts)
	assert.Zero(t, rec.failures["profiles"])
	assert.Zero(t, rec.imported["facts"])
}
