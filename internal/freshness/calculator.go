// Package freshness decides which entities need refetching and over which
// date range.
package freshness

import (
	"errors"
	"fmt"
)

const (
	ReasonNewEntity     = "new entity"
	ReasonCurrent       = "already current"
	ReasonGapCorrection = "gap correction update"
)

// Policy holds the thresholds of the date-range calculation.
type Policy struct {
	// LookbackDays is the window fetched for an entity with no history.
	LookbackDays int
	// MaxIncrementalGap is the largest gap resumed from the day after the
	// last observation. Larger gaps refetch with an overlap.
	MaxIncrementalGap int
	// OverlapDays is how far before the last observation a gap correction
	// starts, to pick up upstream revisions.
	OverlapDays int
}

func DefaultPolicy() Policy {
	return Policy{LookbackDays: 730, MaxIncrementalGap: 7, OverlapDays: 3}
}

// Range is the outcome of a date-range calculation. Start and End are
// inclusive and only meaningful when ShouldFetch is true.
type Range struct {
	Start       Date   `json:"start,omitzero"`
	End         Date   `json:"end,omitzero"`
	ShouldFetch bool   `json:"should_fetch"`
	Reason      string `json:"reason"`
}

var errNoToday = errors.New("today is required")

// Calculate applies the default policy.
func Calculate(last *Date, today Date) (Range, error) {
	return DefaultPolicy().Calculate(last, today)
}

// Calculate returns the range that brings an entity last observed on last up
// to today. A nil last means the entity has never been collected.
func (p Policy) Calculate(last *Date, today Date) (Range, error) {
	if today.IsZero() {
		return Range{}, errNoToday
	}
	if !today.Valid() {
		return Range{}, fmt.Errorf("invalid today %s", today)
	}

	if last == nil {
		return Range{
			Start:       today.AddDays(-p.LookbackDays),
			End:         today,
			ShouldFetch: true,
			Reason:      ReasonNewEntity,
		}, nil
	}
	if !last.Valid() {
		return Range{}, fmt.Errorf("invalid last observed date %s", *last)
	}

	gap := today.DaysSince(*last)
	switch {
	case gap <= 1:
		return Range{ShouldFetch: false, Reason: ReasonCurrent}, nil
	case gap <= p.MaxIncrementalGap:
		return Range{
			Start:       last.AddDays(1),
			End:         today,
			ShouldFetch: true,
			Reason:      fmt.Sprintf("incremental update of %d days", gap),
		}, nil
	default:
		return Range{
			Start:       last.AddDays(-p.OverlapDays),
			End:         today,
			ShouldFetch: true,
			Reason:      ReasonGapCorrection,
		}, nil
	}
}
