package model

import (
	"errors"
	"fmt"
	"time"
)

// Schedule is the immutable result of one optimizer run. It is only ever
// replaced as a whole.
type Schedule struct {
	RunID string

	Start   time.Time
	Periods []Period

	TotalCost float64
	TimedOut  bool

	// Degraded lists the causes that made this schedule less than a full
	// optimization result.
	Degraded []error

	// quarter offset -> period index / position inside the period
	periodOf   []int
	positionOf []int
}

// NewSchedule checks that the periods tile [start, ...) without gaps or
// overlaps and builds the quarter index.
func NewSchedule(start time.Time, periods []Period) (*Schedule, error) {
	s := &Schedule{Start: start, Periods: periods}
	next := start
	for i, p := range periods {
		if len(p.Quarters) == 0 {
			return nil, fmt.Errorf("period %d has no quarters", i)
		}
		if !p.Time.Equal(next) {
			return nil, fmt.Errorf("period %d starts at %s, expected %s", i, p.Time.Format(time.RFC3339), next.Format(time.RFC3339))
		}
		if p.Flows != nil && len(p.Flows) != len(p.Quarters) {
			return nil, fmt.Errorf("period %d has %d flows for %d quarters", i, len(p.Flows), len(p.Quarters))
		}
		for j, q := range p.Quarters {
			if !q.Time.Equal(next) {
				return nil, fmt.Errorf("period %d quarter %d starts at %s, expected %s", i, j, q.Time.Format(time.RFC3339), next.Format(time.RFC3339))
			}
			s.periodOf = append(s.periodOf, i)
			s.positionOf = append(s.positionOf, j)
			next = next.Add(QuarterDuration)
		}
	}
	return s, nil
}

// Empty reports whether the schedule carries no periods.
func (s *Schedule) Empty() bool {
	return s == nil || len(s.Periods) == 0
}

// Quarters returns the number of slices covered.
func (s *Schedule) Quarters() int {
	if s == nil {
		return 0
	}
	return len(s.periodOf)
}

func (s *Schedule) End() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.Start.Add(time.Duration(len(s.periodOf)) * QuarterDuration)
}

// At returns the period covering t and the quarter position inside it.
func (s *Schedule) At(t time.Time) (Period, int, bool) {
	if s.Empty() || t.Before(s.Start) {
		return Period{}, 0, false
	}
	idx := int(t.Sub(s.Start) / QuarterDuration)
	if idx >= len(s.periodOf) {
		return Period{}, 0, false
	}
	return s.Periods[s.periodOf[idx]], s.positionOf[idx], true
}

// DegradedBy reports whether target is among the recorded degradation causes.
func (s *Schedule) DegradedBy(target error) bool {
	if s == nil {
		return false
	}
	for _, err := range s.Degraded {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// States returns the state per quarter, in order.
func (s *Schedule) States() []State {
	if s == nil {
		return nil
	}
	out := make([]State, len(s.periodOf))
	for i, p := range s.periodOf {
		out[i] = s.Periods[p].State
	}
	return out
}

// Horizon returns the quarters the schedule was computed over.
func (s *Schedule) Horizon() Horizon {
	h := Horizon{}
	if s == nil {
		return h
	}
	h.Start = s.Start
	for _, p := range s.Periods {
		h.Quarters = append(h.Quarters, p.Quarters...)
	}
	return h
}
