// Package session decides whether the trading day is open.
//
// A schedule is a daily [start, end) window in a configured timezone.
// Windows may cross midnight (start after end, e.g. 18:00–02:00). When
// enforcement is off the market never closes and day orders behave like
// good-till-cancelled.
package session

import (
	"fmt"
	"time"

	"enertrade/internal/config"
)

// Schedule is an immutable daily trading window.
type Schedule struct {
	startMin int // minutes since midnight, local to loc
	endMin   int
	loc      *time.Location
	enforce  bool
}

// New parses the configured trading hours. Start and end are "HH:MM" in
// the configured timezone.
func New(cfg config.TradingConfig) (*Schedule, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session: load timezone %q: %w", cfg.Timezone, err)
	}

	start, err := parseClock(cfg.SessionStart)
	if err != nil {
		return nil, fmt.Errorf("session: start: %w", err)
	}
	end, err := parseClock(cfg.SessionEnd)
	if err != nil {
		return nil, fmt.Errorf("session: end: %w", err)
	}
	if start == end {
		return nil, fmt.Errorf("session: start and end are both %s", cfg.SessionStart)
	}

	return &Schedule{
		startMin: start,
		endMin:   end,
		loc:      loc,
		enforce:  cfg.EnforceHours,
	}, nil
}

// Enforced reports whether the schedule gates order placement.
func (s *Schedule) Enforced() bool { return s.enforce }

// IsOpen reports whether trading is open at the given instant. Always
// true when enforcement is off.
func (s *Schedule) IsOpen(at time.Time) bool {
	if !s.enforce {
		return true
	}

	local := at.In(s.loc)
	minutes := local.Hour()*60 + local.Minute()

	if s.startMin < s.endMin {
		return minutes >= s.startMin && minutes < s.endMin
	}
	// Overnight window, e.g. 18:00–02:00.
	return minutes >= s.startMin || minutes < s.endMin
}

// NextClose returns the first session end strictly after the given
// instant. Meaningful whether or not the session is currently open: day
// orders placed pre-open still expire at the coming close.
func (s *Schedule) NextClose(after time.Time) time.Time {
	local := after.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(),
		s.endMin/60, s.endMin%60, 0, 0, s.loc)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
