package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/AngelCh415/workdays-etl/internal/aggregate"
	"github.com/AngelCh415/workdays-etl/internal/calendar"
	"github.com/AngelCh415/workdays-etl/internal/crm"
	"github.com/AngelCh415/workdays-etl/internal/workdays"
)

type Config struct {
	CRMBaseURL string
	CRMToken   string
	PageStart  int
	PageLimit  int

	PipelineID    int64
	StatusFull    int64
	StatusDemo    int64
	ExtraStatuses []int64

	ContactFields crm.FieldMap
	Funnels       aggregate.Funnels

	Timezone    string
	Calendar    calendar.Calendar
	Rules       workdays.Rules
	CornerCases workdays.Overrides
	TargetDate  string

	SinkURL       string
	SinkToken     string
	SinkSecret    string
	SinkEventName string

	DumpDir          string
	CheckpointDB     string
	FetchConcurrency int

	HTTPTimeout time.Duration
	Port        string
	RunSchedule string
	LogLevel    slog.Level
}

// FromEnv loads .env (if present) and reads the configuration from the environment.
func FromEnv() (Config, error) {
	_ = godotenv.Load()
	return parse(os.Getenv)
}

func parse(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	to := 15 * time.Second
	if v := getenv("HTTP_TIMEOUT_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			to = d
		}
	}
	lvl := slog.LevelInfo
	if getenv("LOG_LEVEL") == "debug" {
		lvl = slog.LevelDebug
	}

	cfg := Config{
		CRMBaseURL:       getenv("CRM_BASE_URL"),
		CRMToken:         getenv("CRM_ACCESS_TOKEN"),
		PageStart:        p.num("CRM_PAGE_START", 1),
		PageLimit:        p.num("CRM_PAGE_LIMIT", 250),
		PipelineID:       p.id("CRM_PIPELINE_ID"),
		StatusFull:       p.id("CRM_STATUS_FULL"),
		StatusDemo:       p.id("CRM_STATUS_DEMO"),
		ExtraStatuses:    p.ids("CRM_STATUS_EXTRA"),
		Timezone:         envOr(getenv, "TIMEZONE", "Europe/Prague"),
		TargetDate:       getenv("TARGET_DATE"),
		SinkURL:          envOr(getenv, "SINK_URL", "https://api.mixpanel.com"),
		SinkToken:        getenv("SINK_TOKEN"),
		SinkSecret:       getenv("SINK_SECRET"),
		SinkEventName:    envOr(getenv, "SINK_EVENT_NAME", "Vyroba"),
		DumpDir:          envOr(getenv, "DUMP_DIR", "./temp/dump"),
		CheckpointDB:     getenv("CHECKPOINT_DB"),
		FetchConcurrency: p.num("FETCH_CONCURRENCY", 0),
		HTTPTimeout:      to,
		Port:             envOr(getenv, "PORT", "8080"),
		RunSchedule:      getenv("RUN_SCHEDULE"),
		LogLevel:         lvl,
	}

	cfg.ContactFields = crm.FieldMap{}
	for slot, key := range map[crm.Slot]string{
		crm.SlotEmail:   "CONTACT_FIELD_EMAIL",
		crm.SlotPhone:   "CONTACT_FIELD_PHONE",
		crm.SlotAddress: "CONTACT_FIELD_ADDRESS",
	} {
		if id := p.id(key); id != 0 {
			cfg.ContactFields[id] = slot
		}
	}
	cfg.Funnels = p.funnels("FUNNELS")

	cal, calErr := calendar.Load(cfg.Timezone)
	if calErr != nil {
		p.errs = append(p.errs, calErr)
	}
	cfg.Calendar = cal

	cfg.Rules = workdays.Rules{
		StartingTimecut: p.timeOfDay("STARTING_TIMECUT", "12:00"),
		StoppingTimecut: p.timeOfDay("STOPPING_TIMECUT", "12:00"),
		EventsTimeGap:   p.duration("EVENTS_TIME_GAP", 5*time.Minute),
	}
	days, err := workdays.ParseWeekdaySet(envOr(getenv, "WORK_DAYS", "1,2,3,4,5"))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("WORK_DAYS: %w", err))
	}
	cfg.Rules.WorkDays = days

	if path := getenv("CORNER_CASES_FILE"); path != "" && calErr == nil {
		cc, err := LoadCornerCases(path, cfg.Calendar)
		if err != nil {
			p.errs = append(p.errs, err)
		}
		cfg.CornerCases = cc
	}

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	return cfg, nil
}

// Validate checks that the CRM side is usable and, unless only deriving, the sink too.
func (c Config) Validate(requireSink bool) error {
	var errs []error
	if c.CRMBaseURL == "" {
		errs = append(errs, errors.New("CRM_BASE_URL is required"))
	}
	if c.CRMToken == "" {
		errs = append(errs, errors.New("CRM_ACCESS_TOKEN is required"))
	}
	if c.PipelineID == 0 || c.StatusFull == 0 || c.StatusDemo == 0 {
		errs = append(errs, errors.New("CRM_PIPELINE_ID, CRM_STATUS_FULL and CRM_STATUS_DEMO are required"))
	}
	if c.PageLimit <= 0 {
		errs = append(errs, errors.New("CRM_PAGE_LIMIT must be positive"))
	}
	if c.Rules.WorkDays == 0 {
		errs = append(errs, errors.New("WORK_DAYS must name at least one weekday"))
	}
	if c.TargetDate != "" {
		if _, err := time.Parse(calendar.DateLayout, c.TargetDate); err != nil {
			errs = append(errs, fmt.Errorf("TARGET_DATE: %w", err))
		}
	}
	if requireSink && (c.SinkToken == "" || c.SinkSecret == "") {
		errs = append(errs, errors.New("SINK_TOKEN and SINK_SECRET are required"))
	}
	return errors.Join(errs...)
}

// StageChange is the production stage rule: entering one of these statuses opens
// a period and leaving it closes one.
func (c Config) StageChange() []crm.StatusFilter {
	return []crm.StatusFilter{
		{PipelineID: c.PipelineID, StatusID: c.StatusFull},
		{PipelineID: c.PipelineID, StatusID: c.StatusDemo},
	}
}

// DealStatuses is the listing allow-list.
func (c Config) DealStatuses() []crm.StatusFilter {
	out := c.StageChange()
	for _, s := range c.ExtraStatuses {
		out = append(out, crm.StatusFilter{PipelineID: c.PipelineID, StatusID: s})
	}
	return out
}

// LoadCornerCases reads a JSON object of deal id to a list of datetimes. Every
// list must hold start/end pairs, so an odd length is rejected.
func LoadCornerCases(path string, cal calendar.Calendar) (workdays.Overrides, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corner cases: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse corner cases: %w", err)
	}

	out := make(workdays.Overrides, len(raw))
	for key, list := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corner case %q: invalid deal id", key)
		}
		if len(list)%2 != 0 {
			return nil, fmt.Errorf("corner case %d: %d timestamps, want start/end pairs", id, len(list))
		}
		ts := make([]time.Time, 0, len(list))
		for _, s := range list {
			t, err := cal.ParseDateTime(s)
			if err != nil {
				return nil, fmt.Errorf("corner case %d: %w", id, err)
			}
			ts = append(ts, t)
		}
		out[id] = ts
	}
	return out, nil
}

func envOr(getenv func(string) string, k, def string) string {
	v := getenv(k)
	if v == "" {
		return def
	}
	return v
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) num(k string, def int) int {
	v := p.getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (p *parser) id(k string) int64 {
	v := p.getenv(k)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
	}
	return n
}

func (p *parser) ids(k string) []int64 {
	var out []int64
	for _, part := range strings.Split(p.getenv(k), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		out = append(out, n)
	}
	return out
}

func (p *parser) funnels(k string) aggregate.Funnels {
	out := aggregate.Funnels{}
	for _, part := range strings.Split(p.getenv(k), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, id, ok := strings.Cut(part, "=")
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if !ok || strings.TrimSpace(name) == "" || err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: invalid entry %q, want name=pipelineID", k, part))
			continue
		}
		out[strings.TrimSpace(name)] = n
	}
	return out
}

func (p *parser) timeOfDay(k, def string) time.Duration {
	d, err := calendar.ParseTimeOfDay(envOr(p.getenv, k, def))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
	}
	return d
}

func (p *parser) duration(k string, def time.Duration) time.Duration {
	v := p.getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}
