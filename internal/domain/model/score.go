// Package model contains domain models passed between layers.
package model

import "time"

// NumPhases is the number of scored phases a crew accumulates:
// preliminaries plus day 1 through day 4. The final rally day has no
// column of its own; crews are not harvested during it.
const NumPhases = 5

// SchemaVersion is the current generation-file schema. Version 1 files
// predate the rate columns and are decoded with reduced derived fields.
const SchemaVersion = 2

// Category identifies one of the two tracked leaderboards.
type Category string

const (
	CategoryCrew   Category = "crew"
	CategoryPlayer Category = "player"
)

// Table returns the store table name backing the category.
func (c Category) Table() string {
	if c == CategoryCrew {
		return "crews"
	}
	return "players"
}

// Valid reports whether the category is one of the two known kinds.
func (c Category) Valid() bool {
	return c == CategoryCrew || c == CategoryPlayer
}

// Record is one normalized entry of a harvested ranking page.
type Record struct {
	ID    int64
	Rank  int
	Name  string
	Point int64
}

// Crew is a team row with per-phase cumulative totals.
// PhaseTotals is indexed 0=preliminaries, 1..4=day1..day4; nil means the
// phase has not been observed for this crew.
type Crew struct {
	ID          int64
	Name        string
	Rank        int
	PhaseTotals [NumPhases]*int64
	TopRate     *float64
	CurrentRate *float64
}

// CurrentPhase returns the index of the latest observed phase, or -1 when
// no phase total exists.
func (c *Crew) CurrentPhase() int {
	for i := NumPhases - 1; i >= 0; i-- {
		if c.PhaseTotals[i] != nil {
			return i
		}
	}
	return -1
}

// CurrentTotal is the latest non-nil phase total; scores only accumulate,
// so this is the crew's authoritative current figure.
func (c *Crew) CurrentTotal() int64 {
	if i := c.CurrentPhase(); i >= 0 {
		return *c.PhaseTotals[i]
	}
	return 0
}

// PhaseDelta returns the score gained during phase i, i.e. the phase total
// minus the previous phase's total. Nil when phase i was not observed.
func (c *Crew) PhaseDelta(i int) *int64 {
	if i < 0 || i >= NumPhases || c.PhaseTotals[i] == nil {
		return nil
	}
	d := *c.PhaseTotals[i]
	if i > 0 && c.PhaseTotals[i-1] != nil {
		d -= *c.PhaseTotals[i-1]
	}
	return &d
}

// CurrentDayDelta is the delta of the latest observed phase.
func (c *Crew) CurrentDayDelta() *int64 {
	return c.PhaseDelta(c.CurrentPhase())
}

// Player is an individual row with a single cumulative total.
type Player struct {
	ID    int64
	Name  string
	Rank  int
	Total int64
}

// StoreInfo is the single metadata row of one generation file.
type StoreInfo struct {
	EventID       int64
	SchemaVersion int
	UpdatedAt     int64 // epoch seconds of the last committed build
}

// ElapsedMinutes returns whole minutes between the last committed build
// and now. Zero or negative elapsed means rates cannot be derived.
func (s StoreInfo) ElapsedMinutes(now time.Time) float64 {
	if s.UpdatedAt <= 0 {
		return 0
	}
	return now.Sub(time.Unix(s.UpdatedAt, 0)).Minutes()
}

// DecodeCrew normalizes a raw crew row read at schema version v.
// Version-branching lives here and nowhere else: files older than the
// current schema lack the rate columns, so their rates decode to unknown.
func DecodeCrew(v int, id int64, rank int, name string, totals [NumPhases]*int64, topRate, currentRate *float64) Crew {
	c := Crew{
		ID:          id,
		Name:        name,
		Rank:        rank,
		PhaseTotals: totals,
	}
	if v >= SchemaVersion {
		c.TopRate = topRate
		c.CurrentRate = currentRate
	}
	return c
}
