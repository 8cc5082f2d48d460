// Package event models the multi-day competitive event timeline.
//
// Everything here is pure: phase resolution and harvest-window decisions are
// functions of a Schedule value and a caller-supplied "now". The scheduler
// owns the Schedule; every other component reads a copy.
package event

import (
	"fmt"
	"time"

	"github.com/okian/gridwatch/internal/domain/model"
)

// Window thresholds, in seconds of the containing phase.
const (
	// windDown flags the tail of a multi-day phase; the remote board is
	// frozen there, so ranking fetches are skipped.
	windDown = 18000 * time.Second // last ~5h of a phase

	// boardSettle skips player fetches right after a day opens, before
	// the board stabilizes.
	boardSettle = 7200 * time.Second // first ~2h of day 1..4

	// prelimsTail and prelimsOpen bound harvesting inside preliminaries:
	// nothing is fetched during its last ~7h, nor beyond its first 25h.
	prelimsTail = 25200 * time.Second
	prelimsOpen = 90000 * time.Second
)

// Phase is the current position inside the event timeline.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhasePreliminaries
	PhaseInterlude
	PhaseDay1
	PhaseDay2
	PhaseDay3
	PhaseDay4
	PhaseFinalRally // day 5
	PhaseEnded
)

// String returns a short status token for display by the command layer.
func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhasePreliminaries:
		return "preliminaries"
	case PhaseInterlude:
		return "interlude"
	case PhaseDay1, PhaseDay2, PhaseDay3, PhaseDay4:
		return fmt.Sprintf("day%d", p.Day())
	case PhaseFinalRally:
		return "final_rally"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

// Day returns 1..5 for day phases and 0 otherwise. The final rally is day 5.
func (p Phase) Day() int {
	switch {
	case p >= PhaseDay1 && p <= PhaseDay4:
		return int(p-PhaseDay1) + 1
	case p == PhaseFinalRally:
		return 5
	}
	return 0
}

// ScoreIndex maps a phase to the crew score column it accumulates into:
// 0 for preliminaries, 1..4 for day 1..4. Phases without a column of
// their own return -1.
func (p Phase) ScoreIndex() int {
	switch {
	case p == PhasePreliminaries:
		return 0
	case p >= PhaseDay1 && p <= PhaseDay4:
		return int(p-PhaseDay1) + 1
	}
	return -1
}

// SkipReason explains why a harvest tick was not legal.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipOutsideEvent  SkipReason = "outside_event"
	SkipWindingDown   SkipReason = "winding_down"
	SkipPrelimsClosed SkipReason = "prelims_closed"
	SkipBoardSettling SkipReason = "board_settling"
	SkipFinalDayCrews SkipReason = "final_day_crews"
)

// BoundaryStrings carries the RFC3339 boundary timestamps as configured.
type BoundaryStrings struct {
	Preliminaries string
	Interlude     string
	Day1          string
	Day2          string
	Day3          string
	Day4          string
	Day5          string
	End           string
}

// Schedule is the explicit event-state value object: one event id plus its
// phase boundaries. A phase is entered the instant its boundary is reached
// and exited the instant the next boundary is reached.
type Schedule struct {
	EventID       int64
	Preliminaries time.Time
	Interlude     time.Time
	Day1          time.Time
	Day2          time.Time
	Day3          time.Time
	Day4          time.Time
	Day5          time.Time
	End           time.Time
}

// ParseSchedule builds a Schedule from RFC3339 boundary strings and checks
// that boundaries are strictly increasing.
func ParseSchedule(eventID int64, b BoundaryStrings) (Schedule, error) {
	s := Schedule{EventID: eventID}

	fields := []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"preliminaries", b.Preliminaries, &s.Preliminaries},
		{"interlude", b.Interlude, &s.Interlude},
		{"day1", b.Day1, &s.Day1},
		{"day2", b.Day2, &s.Day2},
		{"day3", b.Day3, &s.Day3},
		{"day4", b.Day4, &s.Day4},
		{"day5", b.Day5, &s.Day5},
		{"end", b.End, &s.End},
	}
	for _, f := range fields {
		t, err := time.Parse(time.RFC3339, f.raw)
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %s: %w", ErrInvalidSchedule, f.name, err)
		}
		*f.dst = t
	}

	bounds := s.boundaries()
	for i := 1; i < len(bounds); i++ {
		if !bounds[i-1].ts.Before(bounds[i].ts) {
			return Schedule{}, fmt.Errorf("%w: %s must come before %s", ErrInvalidSchedule, bounds[i-1].name, bounds[i].name)
		}
	}
	return s, nil
}

type boundary struct {
	name string
	ts   time.Time
}

func (s Schedule) boundaries() []boundary {
	return []boundary{
		{"preliminaries", s.Preliminaries},
		{"interlude", s.Interlude},
		{"day1", s.Day1},
		{"day2", s.Day2},
		{"day3", s.Day3},
		{"day4", s.Day4},
		{"day5", s.Day5},
		{"end", s.End},
	}
}

// PhaseAt resolves the phase for the given instant.
func (s Schedule) PhaseAt(now time.Time) Phase {
	switch {
	case now.Before(s.Preliminaries):
		return PhaseNotStarted
	case now.Before(s.Interlude):
		return PhasePreliminaries
	case now.Before(s.Day1):
		return PhaseInterlude
	case now.Before(s.Day2):
		return PhaseDay1
	case now.Before(s.Day3):
		return PhaseDay2
	case now.Before(s.Day4):
		return PhaseDay3
	case now.Before(s.Day5):
		return PhaseDay4
	case now.Before(s.End):
		return PhaseFinalRally
	}
	return PhaseEnded
}

// NextBoundary returns the first boundary after now, or false once the
// event has ended.
func (s Schedule) NextBoundary(now time.Time) (time.Time, bool) {
	for _, b := range s.boundaries() {
		if now.Before(b.ts) {
			return b.ts, true
		}
	}
	return time.Time{}, false
}

// TimeUntilNextBoundary returns the remaining time in the current phase,
// or zero once the event has ended.
func (s Schedule) TimeUntilNextBoundary(now time.Time) time.Duration {
	if next, ok := s.NextBoundary(now); ok {
		return next.Sub(now)
	}
	return 0
}

// phaseSpan returns the start and end boundary of the given phase.
func (s Schedule) phaseSpan(p Phase) (time.Time, time.Time) {
	switch p {
	case PhasePreliminaries:
		return s.Preliminaries, s.Interlude
	case PhaseInterlude:
		return s.Interlude, s.Day1
	case PhaseDay1:
		return s.Day1, s.Day2
	case PhaseDay2:
		return s.Day2, s.Day3
	case PhaseDay3:
		return s.Day3, s.Day4
	case PhaseDay4:
		return s.Day4, s.Day5
	case PhaseFinalRally:
		return s.Day5, s.End
	}
	return time.Time{}, time.Time{}
}

// HarvestWindow reports whether a harvest of the given category is legal
// and useful at the given instant, and why not when it is not.
func (s Schedule) HarvestWindow(now time.Time, category model.Category) (bool, SkipReason) {
	phase := s.PhaseAt(now)
	start, end := s.phaseSpan(phase)

	switch phase {
	case PhaseNotStarted, PhaseInterlude, PhaseEnded:
		return false, SkipOutsideEvent

	case PhasePreliminaries:
		if !now.Before(end.Add(-prelimsTail)) {
			return false, SkipWindingDown
		}
		if !now.Before(start.Add(prelimsOpen)) {
			return false, SkipPrelimsClosed
		}
		return true, SkipNone

	case PhaseDay1, PhaseDay2, PhaseDay3, PhaseDay4:
		if !now.Before(end.Add(-windDown)) {
			return false, SkipWindingDown
		}
		if category == model.CategoryPlayer && now.Before(start.Add(boardSettle)) {
			return false, SkipBoardSettling
		}
		return true, SkipNone

	case PhaseFinalRally:
		if category == model.CategoryCrew {
			return false, SkipFinalDayCrews
		}
		if !now.Before(end.Add(-windDown)) {
			return false, SkipWindingDown
		}
		return true, SkipNone
	}
	return false, SkipOutsideEvent
}
