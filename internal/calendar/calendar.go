package calendar

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04"
)

// Calendar converts instants against one fixed time zone. The zone is chosen once
// at startup and passed around explicitly.
type Calendar struct {
	loc *time.Location
}

func New(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Load builds a Calendar from an IANA zone name.
func Load(name string) (Calendar, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return New(loc), nil
}

func (c Calendar) Location() *time.Location { return c.location() }

func (c Calendar) location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func (c Calendar) In(t time.Time) time.Time { return t.In(c.location()) }

func (c Calendar) DateString(t time.Time) string { return c.In(t).Format(DateLayout) }

// TimeOfDay is the wall-clock offset from local midnight.
func (c Calendar) TimeOfDay(t time.Time) time.Duration {
	l := c.In(t)
	return time.Duration(l.Hour())*time.Hour +
		time.Duration(l.Minute())*time.Minute +
		time.Duration(l.Second())*time.Second +
		time.Duration(l.Nanosecond())
}

func (c Calendar) Weekday(t time.Time) time.Weekday { return c.In(t).Weekday() }

// PlusOneDay moves to the same wall-clock time on the next calendar day.
func (c Calendar) PlusOneDay(t time.Time) time.Time { return c.In(t).AddDate(0, 0, 1) }

// Timestamp returns epoch milliseconds.
func (c Calendar) Timestamp(t time.Time) int64 { return t.UnixMilli() }

// EndOfDay is 23:59:59 of t's calendar date.
func (c Calendar) EndOfDay(t time.Time) time.Time {
	y, m, d := c.In(t).Date()
	return time.Date(y, m, d, 23, 59, 59, 0, c.location())
}

// Yesterday is the calendar date preceding now, as YYYY-MM-DD.
func (c Calendar) Yesterday(now time.Time) string {
	y, m, d := c.In(now).Date()
	return time.Date(y, m, d-1, 12, 0, 0, 0, c.location()).Format(DateLayout)
}

// At returns the instant of clock time hh:mm on the given YYYY-MM-DD date.
func (c Calendar) At(date string, hh, mm int) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, date, c.location())
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, c.location()), nil
}

// ParseDateTime accepts RFC3339 or "YYYY-MM-DD HH:MM[:SS]" in the calendar's zone.
func (c Calendar) ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return c.In(t), nil
	}
	for _, layout := range []string{DateTimeLayout, "2006-01-02 15:04:05", DateLayout} {
		if t, err := time.ParseInLocation(layout, s, c.location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}
