// Package projection estimates end-of-period rank-tier cutoffs by scaling
// historical reference curves with the live progress ratio.
//
// The projection is a rough linear scaling, not a guarantee: it assumes the
// live event tracks the shape of a structurally identical prior event.
package projection

import (
	"context"
	"sync"
	"time"

	"github.com/okian/gridwatch/internal/domain/event"
	"github.com/okian/gridwatch/pkg/logger"
)

// SampleStep is the spacing of historical curve samples. Projections are
// unavailable inside the first step (warm-up).
const SampleStep = 20 * time.Minute

// Horizon selects the target index of a projection.
type Horizon string

const (
	HorizonEndOfDay   Horizon = "end_of_day"
	HorizonEndOfEvent Horizon = "end_of_event"
)

// Valid reports whether the horizon is a known horizon.
func (h Horizon) Valid() bool {
	return h == HorizonEndOfDay || h == HorizonEndOfEvent
}

// CurveSource is the one-shot historical reference: per rank tier, an
// ordered array of scores sampled every SampleStep from the prior event's
// preliminaries start.
type CurveSource interface {
	Fetch(ctx context.Context) (map[string][]int64, error)
}

// Engine caches the historical curves for one event and projects live
// values against them.
type Engine struct {
	mu       sync.RWMutex
	curves   map[string][]int64
	loaded   bool
	schedule event.Schedule

	logger logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an Engine for the given event schedule. Curves are not
// loaded until Reload succeeds; projections degrade to unavailable.
func New(schedule event.Schedule, opts ...Option) *Engine {
	e := &Engine{
		schedule: schedule,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reload fetches the historical curves. Called once at event start; a
// failed fetch leaves the engine unloaded, which is tolerated.
func (e *Engine) Reload(ctx context.Context, src CurveSource) error {
	curves, err := src.Fetch(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.curves = curves
	e.loaded = true
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Info(ctx, "historical curves loaded", logger.Int("tiers", len(curves)))
	}
	return nil
}

// Loaded reports whether a historical dataset is available.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Tiers returns the tier labels with a historical curve.
func (e *Engine) Tiers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tiers := make([]string, 0, len(e.curves))
	for t := range e.curves {
		tiers = append(tiers, t)
	}
	return tiers
}

// Project estimates the tier's score at the horizon given the live value
// observed at the snapshot instant. The second return is false when no
// estimate can be made: curves not loaded, unknown tier, inside warm-up,
// no historical sample at the elapsed index, or a zero historical value.
func (e *Engine) Project(tier string, horizon Horizon, liveValue int64, at time.Time) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return 0, false
	}
	curve, ok := e.curves[tier]
	if !ok || len(curve) == 0 {
		return 0, false
	}

	elapsed := at.Sub(e.schedule.Preliminaries)
	if elapsed < SampleStep {
		return 0, false
	}
	idx := int(elapsed / SampleStep)
	if idx >= len(curve) {
		idx = len(curve) - 1
	}
	hist := curve[idx]
	if hist <= 0 {
		return 0, false
	}

	targetIdx := len(curve) - 1
	if horizon == HorizonEndOfDay {
		// End of the current day is the next phase boundary.
		next, ok := e.schedule.NextBoundary(at)
		if !ok {
			return 0, false
		}
		targetIdx = int(next.Sub(e.schedule.Preliminaries) / SampleStep)
		if targetIdx >= len(curve) {
			targetIdx = len(curve) - 1
		}
	}

	modifier := float64(liveValue) / float64(hist)
	return int64(float64(curve[targetIdx]) * modifier), true
}
