// Package service provides the core tracker service that implements the
// dependencies required by the HTTP API and owns the harvest scheduler.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/gridwatch/internal/adapters/harvest"
	"github.com/okian/gridwatch/internal/adapters/http/api"
	eventqueue "github.com/okian/gridwatch/internal/adapters/mq/queue"
	"github.com/okian/gridwatch/internal/adapters/repository"
	"github.com/okian/gridwatch/internal/adapters/storage"
	"github.com/okian/gridwatch/internal/domain/event"
	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/internal/domain/projection"
	"github.com/okian/gridwatch/pkg/logger"
)

// Defaults matching the remote board's refresh behavior.
const (
	defaultCadence   = 20 * time.Minute
	defaultDeadline  = 18 * time.Minute
	defaultWorkers   = 15
	defaultQueueSize = 100000
	defaultBatchSize = 1000
)

// PageSource is the remote ranking surface the service harvests from.
type PageSource interface {
	harvest.PageFetcher
}

// Service owns the event schedule, the two-generation store, and the
// harvest loop, and answers the read operations the API exposes.
type Service struct {
	mu sync.RWMutex

	// Core components
	schedule   event.Schedule
	stores     *storage.GenerationManager
	pages      PageSource
	curves     projection.CurveSource
	engine     *projection.Engine
	harvesters map[model.Category]*harvest.Harvester

	// Configuration
	cadence   time.Duration
	deadline  time.Duration
	workers   int
	queueSize int
	batchSize int
	now       func() time.Time

	// State
	started   bool
	stopCh    chan struct{}
	loopDone  chan struct{}
	harvestMu sync.Mutex
	last      map[model.Category]api.HarvestSummary

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithCadence sets the scheduler tick interval.
func WithCadence(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cadence = d
		}
	}
}

// WithDeadline caps one harvest pass per category.
func WithDeadline(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.deadline = d
		}
	}
}

// WithWorkerCount sets the number of concurrent page workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workers = count
		}
	}
}

// WithQueueSize sets the harvested-record queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithBatchSize sets the rows per build transaction.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithCurveSource plugs in the historical-curve reference. Absent source
// means projections stay unavailable.
func WithCurveSource(src projection.CurveSource) Option {
	return func(s *Service) {
		s.curves = src
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service over the schedule, generation manager, and page
// source. Call Start to restore durable state and begin the harvest loop.
func New(schedule event.Schedule, stores *storage.GenerationManager, pages PageSource, opts ...Option) *Service {
	s := &Service{
		schedule:  schedule,
		stores:    stores,
		pages:     pages,
		cadence:   defaultCadence,
		deadline:  defaultDeadline,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		batchSize: defaultBatchSize,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
		last:      make(map[model.Category]api.HarvestSummary),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start restores durable generation state and begins the harvest loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("tracker")
	}

	s.logger.Info(ctx, "starting tracker service",
		logger.Int64("event_id", s.schedule.EventID),
		logger.Duration("cadence", s.cadence),
	)

	if err := s.stores.Restore(ctx); err != nil {
		return fmt.Errorf("restoring generations: %w", err)
	}

	s.engine = projection.New(s.schedule, projection.WithLogger(s.logger.Named("projection")))
	s.harvesters = map[model.Category]*harvest.Harvester{
		model.CategoryCrew: harvest.New(s.pages,
			harvest.WithWorkerCount(s.workers),
			harvest.WithDeadline(s.deadline),
			harvest.WithLogger(s.logger.Named("harvester")),
		),
		model.CategoryPlayer: harvest.New(s.pages,
			harvest.WithWorkerCount(s.workers),
			harvest.WithDeadline(s.deadline),
			harvest.WithLogger(s.logger.Named("harvester")),
		),
	}

	go s.run(ctx)

	s.started = true
	s.logger.Info(ctx, "tracker service started",
		logger.Int("workers", s.workers),
		logger.Int("queue_size", s.queueSize),
		logger.Int("batch_size", s.batchSize),
	)
	return nil
}

// Stop shuts down the harvest loop and releases the stores.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping tracker service")

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.loopDone

	_ = s.stores.Close()

	s.started = false
	s.logger.Info(context.Background(), "tracker service stopped")
}

// run ticks the harvest loop at the configured cadence until stopped.
func (s *Service) run(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()

	// First tick immediately: a restart mid-event should not wait a full
	// cadence before refreshing the board.
	if err := s.TriggerHarvestIfDue(ctx, s.now()); err != nil {
		s.logger.Warn(ctx, "harvest cycle failed", logger.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.TriggerHarvestIfDue(ctx, s.now()); err != nil {
				s.logger.Warn(ctx, "harvest cycle failed", logger.Error(err))
			}
		}
	}
}

// TriggerHarvestIfDue runs one harvest cycle if the event clock allows it
// for at least one category. Soft failures (partial results, early stops,
// skipped windows) are absorbed and recorded; only a fully failed harvest
// surfaces as an error, and the caller just waits for the next window.
func (s *Service) TriggerHarvestIfDue(ctx context.Context, now time.Time) error {
	s.harvestMu.Lock()
	defer s.harvestMu.Unlock()

	categories := []model.Category{model.CategoryCrew, model.CategoryPlayer}

	due := make([]model.Category, 0, len(categories))
	for _, cat := range categories {
		if ok, reason := s.schedule.HarvestWindow(now, cat); !ok {
			s.recordSkip(cat, reason)
		} else {
			due = append(due, cat)
		}
	}
	if len(due) == 0 {
		return nil
	}

	if err := s.stores.RotateIfNewEvent(ctx, s.schedule.EventID); err != nil {
		return fmt.Errorf("rotating generations: %w", err)
	}
	s.reloadCurvesOnce(ctx)

	phase := s.schedule.PhaseAt(now)
	var hard []error
	for _, cat := range due {
		if err := s.harvestCategory(ctx, cat, phase, now); err != nil {
			if errors.Is(err, harvest.ErrHarvestFailed) {
				hard = append(hard, err)
				continue
			}
			// Stopped or partial: whatever was committed stays usable.
			s.logger.Warn(ctx, "harvest ended early",
				logger.String("category", string(cat)),
				logger.Error(err),
			)
		}
	}

	s.stores.Persist(ctx)

	if len(hard) == len(due) {
		return fmt.Errorf("harvest produced nothing: %w", errors.Join(hard...))
	}
	return nil
}

// harvestCategory streams one category's pages through the record queue
// into the store builder. The builder is held back until the first record
// arrives so a dead remote never wipes the existing table.
func (s *Service) harvestCategory(ctx context.Context, cat model.Category, phase event.Phase, now time.Time) error {
	scoreIdx := phase.ScoreIndex()
	if cat == model.CategoryPlayer {
		scoreIdx = -1
	}

	q := eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithBufferSize(s.queueSize),
	)

	builder := repository.NewBuilder(s.stores.Current(),
		repository.WithBatchSize(s.batchSize),
		repository.WithClock(s.now),
		repository.WithBuilderLogger(s.logger.Named("builder")),
	)

	buildDone := make(chan error, 1)
	go func() {
		ch := q.Dequeue(ctx)
		first, ok := <-ch
		if !ok {
			// Nothing harvested; leave the previous table untouched.
			buildDone <- nil
			return
		}

		merged := make(chan model.Record)
		go func() {
			defer close(merged)
			merged <- first
			for rec := range ch {
				merged <- rec
			}
		}()
		buildDone <- builder.Build(ctx, cat, scoreIdx, merged)
	}()

	status, herr := s.harvesters[cat].Run(ctx, cat, q)
	_ = q.Close()
	berr := <-buildDone

	s.recordHarvest(cat, status, now)

	if herr != nil {
		return herr
	}
	if berr != nil {
		return fmt.Errorf("building %s: %w", cat, berr)
	}
	return nil
}

// reloadCurvesOnce fetches the historical curves the first time a harvest
// window opens; absence is tolerated and retried next cycle.
func (s *Service) reloadCurvesOnce(ctx context.Context) {
	if s.curves == nil || s.engine.Loaded() {
		return
	}
	if err := s.engine.Reload(ctx, s.curves); err != nil {
		s.logger.Warn(ctx, "historical curves unavailable", logger.Error(err))
	}
}

func (s *Service) recordSkip(cat model.Category, reason event.SkipReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[cat] = api.HarvestSummary{Skip: string(reason)}
}

func (s *Service) recordHarvest(cat model.Category, st harvest.Status, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[cat] = api.HarvestSummary{
		At:       now.Unix(),
		Expected: st.Expected,
		Produced: st.Produced,
		Partial:  st.Partial,
		Stopped:  st.Stopped,
	}
}

// Status reports the tracker's phase and generation state.
func (s *Service) Status(ctx context.Context) (api.Status, error) {
	now := s.now()

	st := api.Status{
		EventID:      s.schedule.EventID,
		Phase:        s.schedule.PhaseAt(now).String(),
		CurvesLoaded: s.engine != nil && s.engine.Loaded(),
	}
	if next, ok := s.schedule.NextBoundary(now); ok {
		remaining := int64(next.Sub(now).Seconds())
		st.NextBoundary = &next
		st.SecondsRemaining = &remaining
	}

	infos, err := s.stores.Infos(ctx)
	if err != nil {
		return api.Status{}, fmt.Errorf("reading generation state: %w", err)
	}
	st.Generations[0] = api.GenerationFromInfo(infos[0])
	st.Generations[1] = api.GenerationFromInfo(infos[1])

	s.mu.RLock()
	if len(s.last) > 0 {
		st.Harvests = make(map[string]api.HarvestSummary, len(s.last))
		for cat, sum := range s.last {
			st.Harvests[string(cat)] = sum
		}
	}
	s.mu.RUnlock()

	return st, nil
}

// SearchCrews answers a crew query from both generations.
func (s *Service) SearchCrews(ctx context.Context, t repository.Term) (storage.CrewSearch, error) {
	return s.stores.SearchCrews(ctx, t)
}

// SearchPlayers answers a player query from both generations.
func (s *Service) SearchPlayers(ctx context.Context, t repository.Term) (storage.PlayerSearch, error) {
	return s.stores.SearchPlayers(ctx, t)
}

// Project estimates the end-of-horizon crew score for a rank tier. The
// live value is read from the current generation at the tier's rank; any
// gap (unknown tier, empty store, unloaded curves) makes the projection
// unavailable rather than an error.
func (s *Service) Project(ctx context.Context, tier string, horizon projection.Horizon) (int64, bool, error) {
	if s.engine == nil || !horizon.Valid() {
		return 0, false, nil
	}

	rank, ok := tierRank(tier)
	if !ok {
		return 0, false, nil
	}

	res, err := s.stores.SearchCrews(ctx, repository.Term{Mode: model.SearchRank, Number: rank})
	if err != nil {
		return 0, false, fmt.Errorf("reading live value: %w", err)
	}
	if len(res.Current) == 0 {
		return 0, false, nil
	}

	live := res.Current[0].CurrentTotal()
	at := time.Unix(0, 0)
	if res.Infos[0] != nil {
		at = time.Unix(res.Infos[0].UpdatedAt, 0)
	}
	est, ok := s.engine.Project(tier, horizon, live, at)
	return est, ok, nil
}

// tierRank parses tier labels like "#2000" or "2000" into a rank.
func tierRank(tier string) (int64, bool) {
	raw := strings.TrimPrefix(strings.TrimSpace(tier), "#")
	rank, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || rank < 1 {
		return 0, false
	}
	return rank, true
}
