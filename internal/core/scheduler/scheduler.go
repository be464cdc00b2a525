package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a wall clock time of day.
type ClockTime struct {
	// Hour is the hour of day, 0-23.
	Hour int
	// Minute is the minute of the hour, 0-59.
	Minute int
}

// String formats the time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Schedule fires at fixed wall clock times each day. The run loop polls
// ShouldRun; a slot fires once even if the poll lands a little late.
type Schedule struct {
	times   []ClockTime
	lastRun time.Time
}

// Parse builds a Schedule from a comma separated HH:MM list, e.g.
// "06:00,12:00,18:00".
func Parse(spec string) (*Schedule, error) {
	parts := strings.Split(spec, ",")
	times := make([]ClockTime, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hm := strings.Split(part, ":")
		if len(hm) != 2 {
			return nil, fmt.Errorf("invalid schedule time %q", part)
		}
		hour, err := strconv.Atoi(hm[0])
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("invalid schedule hour %q", part)
		}
		minute, err := strconv.Atoi(hm[1])
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid schedule minute %q", part)
		}
		times = append(times, ClockTime{Hour: hour, Minute: minute})
	}

	if len(times) == 0 {
		return nil, fmt.Errorf("schedule %q contains no times", spec)
	}

	return &Schedule{times: times}, nil
}

// Times returns the configured slots.
func (s *Schedule) Times() []ClockTime {
	return s.times
}

// ShouldRun reports whether a slot is due at the given instant. A slot is due
// when now falls inside its minute and that slot has not fired since its
// scheduled instant.
func (s *Schedule) ShouldRun(now time.Time) bool {
	for _, slot := range s.times {
		slotAt := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour, slot.Minute, 0, 0, now.Location())
		if now.Before(slotAt) || now.Sub(slotAt) >= time.Minute {
			continue
		}
		if !s.lastRun.Before(slotAt) {
			continue
		}
		return true
	}
	return false
}

// MarkRun records that a cycle started at the given instant.
func (s *Schedule) MarkRun(now time.Time) {
	s.lastRun = now
}

// NextRun returns the next scheduled instant strictly after now.
func (s *Schedule) NextRun(now time.Time) time.Time {
	var next time.Time
	for dayOffset := 0; dayOffset <= 1; dayOffset++ {
		day := now.AddDate(0, 0, dayOffset)
		for _, slot := range s.times {
			slotAt := time.Date(day.Year(), day.Month(), day.Day(), slot.Hour, slot.Minute, 0, 0, now.Location())
			if !slotAt.After(now) {
				continue
			}
			if next.IsZero() || slotAt.Before(next) {
				next = slotAt
			}
		}
		if !next.IsZero() {
			break
		}
	}
	return next
}
