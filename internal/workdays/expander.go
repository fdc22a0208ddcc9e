package workdays

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AngelCh415/workdays-etl/internal/calendar"
	"github.com/AngelCh415/workdays-etl/internal/models"
)

// WeekdaySet is a bitmask of allowed weekdays.
type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// ParseWeekdaySet reads a comma separated list of weekday numbers (0 = Sunday).
func ParseWeekdaySet(s string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 6 {
			return 0, fmt.Errorf("invalid weekday %q", part)
		}
		set |= 1 << uint(n)
	}
	return set, nil
}

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Rules are the cutoffs applied when a period is turned into work-dates.
type Rules struct {
	StartingTimecut time.Duration // work starting after this time does not count that day
	StoppingTimecut time.Duration // work ending at or before this time does not count that day
	EventsTimeGap   time.Duration // periods not longer than this are ignored
	WorkDays        WeekdaySet
}

// Expander turns production periods into calendar work-dates. Open periods end
// at 23:59:59 of the day containing now.
type Expander struct {
	cal   calendar.Calendar
	rules Rules
	now   time.Time
}

func NewExpander(cal calendar.Calendar, rules Rules, now time.Time) *Expander {
	return &Expander{cal: cal, rules: rules, now: now}
}

// Expand walks the period one calendar day at a time and returns the dates that
// count as production days, in ascending order.
func (e *Expander) Expand(p models.Period) []string {
	c := e.cal
	begin := p.Start
	end := c.EndOfDay(e.now)
	if p.End != nil {
		end = *p.End
	}

	beginDate := c.DateString(begin)
	endDate := c.DateString(end)
	if beginDate == endDate && c.TimeOfDay(begin) > e.rules.StartingTimecut {
		return nil
	}

	var dates []string
	for day := begin; ; day = c.PlusOneDay(day) {
		date := c.DateString(day)
		if date >= endDate {
			// The terminal day is the last one ever emitted.
			if c.TimeOfDay(end) > e.rules.StoppingTimecut &&
				end.Sub(begin) > e.rules.EventsTimeGap &&
				e.rules.WorkDays.Has(c.Weekday(day)) {
				dates = append(dates, date)
			}
			return dates
		}
		if !e.rules.WorkDays.Has(c.Weekday(day)) {
			continue
		}
		if date == beginDate && c.TimeOfDay(day) >= e.rules.StartingTimecut {
			continue
		}
		dates = append(dates, date)
	}
}

// ExpandAll concatenates the work-dates of every period of one deal.
func (e *Expander) ExpandAll(periods []models.Period) []string {
	var dates []string
	for _, p := range periods {
		dates = append(dates, e.Expand(p)...)
	}
	return dates
}
