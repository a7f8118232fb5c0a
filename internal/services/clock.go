package services

import (
	"time"

	"github.com/tahcohcat/studyquest/internal/models"
)

// Clock is the single time source of the engine. Every operation reads it
// once and derives both the timestamp and the calendar day from that value.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// moment is one reading of the clock as seen by a single operation.
type moment struct {
	at  time.Time      // UTC, what gets stored
	loc *time.Location // user-facing timezone
}

func newMoment(t time.Time, loc *time.Location) moment {
	return moment{at: t.UTC(), loc: loc}
}

func (m moment) local() time.Time { return m.at.In(m.loc) }

// day is the calendar day of the moment in the engine timezone.
func (m moment) day() string { return m.local().Format(models.DateLayout) }

// dayBounds returns [start, end) of the moment's calendar day, in UTC.
func (m moment) dayBounds() (time.Time, time.Time) {
	l := m.local()
	start := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, m.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func within(t *time.Time, from, to time.Time) bool {
	return t != nil && !t.Before(from) && t.Before(to)
}

// daysBetween counts calendar days from a to b (both YYYY-MM-DD).
func daysBetween(a, b string) (int, error) {
	from, err := time.Parse(models.DateLayout, a)
	if err != nil {
		return 0, err
	}
	to, err := time.Parse(models.DateLayout, b)
	if err != nil {
		return 0, err
	}
	return int(to.Sub(from).Hours() / 24), nil
}

func shiftDay(day string, n int) string {
	t, err := time.Parse(models.DateLayout, day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, n).Format(models.DateLayout)
}
