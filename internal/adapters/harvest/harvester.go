// Package harvest implements the bounded-concurrency page harvester: it
// pulls every page of one leaderboard category and streams normalized
// records into a sink consumed by the store builder.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/gridwatch/internal/adapters/ranking"
	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/pkg/logger"
	"github.com/okian/gridwatch/pkg/metrics"
)

// Default harvester configuration constants. The deadline keeps one pass
// inside the harvest cadence window.
const (
	defaultWorkerCount = 15
	defaultDeadline    = 18 * time.Minute
)

// PageFetcher is how workers pull pages from the remote service.
type PageFetcher interface {
	Page(ctx context.Context, category model.Category, page int) (ranking.PageResult, error)
}

// Sink receives normalized records as pages complete. Enqueue returns
// false on backpressure.
type Sink interface {
	Enqueue(ctx context.Context, r model.Record) bool
}

// Status reports the outcome of one harvest pass so callers can judge
// partial-result quality.
type Status struct {
	// Expected is the total entry count the remote reported on page 1.
	Expected int64
	// Produced is how many records actually reached the sink.
	Produced int64
	// Pages is the total page count of the pass.
	Pages int
	// FailedPages counts pages abandoned after all retries.
	FailedPages int
	// Stopped is set when the pass ended early: deadline, shutdown, or
	// maintenance.
	Stopped bool
	// Partial is set whenever Produced may not cover Expected.
	Partial bool
}

// Harvester fetches all pages of one category with a bounded worker pool.
type Harvester struct {
	fetcher  PageFetcher
	workers  int
	deadline time.Duration
	logger   logger.Logger
}

// Option applies a configuration option to the Harvester.
type Option func(*Harvester)

// WithWorkerCount sets the number of concurrent page workers.
func WithWorkerCount(n int) Option {
	return func(h *Harvester) {
		if n > 0 {
			h.workers = n
		}
	}
}

// WithDeadline caps the duration of one harvest pass.
func WithDeadline(d time.Duration) Option {
	return func(h *Harvester) {
		if d > 0 {
			h.deadline = d
		}
	}
}

// WithLogger sets a custom logger for the harvester.
func WithLogger(l logger.Logger) Option {
	return func(h *Harvester) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Harvester over the given fetcher.
func New(fetcher PageFetcher, opts ...Option) *Harvester {
	h := &Harvester{
		fetcher:  fetcher,
		workers:  defaultWorkerCount,
		deadline: defaultDeadline,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run harvests one category. Page 1 is fetched synchronously to learn the
// page count; the remaining pages are drained from a shared FIFO by the
// worker pool. A page that permanently fails is skipped, producing a
// partial result; the pass only errors when nothing usable was produced
// or when it was stopped early.
func (h *Harvester) Run(ctx context.Context, category model.Category, sink Sink) (Status, error) {
	passID := uuid.NewString()[:8]
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, h.deadline)
	defer cancel()

	log := h.log().Named("pass-" + passID)

	first, err := h.fetcher.Page(runCtx, category, 1)
	if err != nil {
		metrics.RecordErrorByComponent("harvester", "first_page")
		return Status{}, fmt.Errorf("%w: %s: %w", ErrHarvestFailed, category, err)
	}
	metrics.RecordPageFetched(string(category))

	status := Status{Expected: first.Count, Pages: first.Last}

	var produced atomic.Int64
	var failed atomic.Int64
	var maintenance atomic.Bool

	push := func(entries []model.Record) bool {
		for _, rec := range entries {
			select {
			case <-runCtx.Done():
				return false
			default:
			}
			if !sink.Enqueue(runCtx, rec) {
				metrics.RecordErrorByComponent("harvester", "sink_backpressure")
				log.Warn(runCtx, "record sink rejected entry; stopping pass",
					logger.String("category", string(category)),
				)
				cancel()
				return false
			}
			produced.Add(1)
		}
		return true
	}

	if push(first.Entries) {
		// Seed the shared FIFO with pages 2..last; workers terminate
		// when it drains or the pass is stopped.
		pages := make(chan int, max(first.Last-1, 0))
		for p := 2; p <= first.Last; p++ {
			pages <- p
		}
		close(pages)

		workers := min(h.workers, first.Last-1)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.runWorker(runCtx, cancel, log, category, pages, push, &failed, &maintenance)
			}()
		}
		wg.Wait()
	}

	status.Produced = produced.Load()
	status.FailedPages = int(failed.Load())
	status.Stopped = runCtx.Err() != nil || maintenance.Load()
	status.Partial = status.Stopped || status.FailedPages > 0 || status.Produced < status.Expected

	metrics.RecordRecordsHarvested(string(category), int(status.Produced))
	metrics.RecordHarvestDuration(string(category), time.Since(start).Seconds())
	if status.Partial {
		metrics.RecordHarvestPartial(string(category))
	}

	log.Info(ctx, "harvest pass finished",
		logger.String("category", string(category)),
		logger.Int64("expected", status.Expected),
		logger.Int64("produced", status.Produced),
		logger.Int("failed_pages", status.FailedPages),
		logger.Bool("stopped", status.Stopped),
		logger.Duration("elapsed", time.Since(start)),
	)

	switch {
	case status.Produced == 0:
		return status, fmt.Errorf("%w: %s: no usable records", ErrHarvestFailed, category)
	case maintenance.Load():
		return status, fmt.Errorf("%w: maintenance detected", ErrStopped)
	case status.Stopped:
		return status, fmt.Errorf("%w: deadline or shutdown", ErrStopped)
	}
	return status, nil
}

// runWorker drains page indices until the FIFO is empty or the pass stops.
func (h *Harvester) runWorker(
	ctx context.Context,
	stop context.CancelFunc,
	log logger.Logger,
	category model.Category,
	pages <-chan int,
	push func([]model.Record) bool,
	failed *atomic.Int64,
	maintenance *atomic.Bool,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case page, ok := <-pages:
			if !ok {
				return
			}

			res, err := h.fetcher.Page(ctx, category, page)
			if err != nil {
				if errors.Is(err, ranking.ErrMaintenance) {
					maintenance.Store(true)
					stop()
					return
				}
				if ctx.Err() != nil {
					return
				}
				// Unrecoverable page: log, count, move on. The pass
				// stays alive and reports a partial result.
				failed.Add(1)
				metrics.RecordPageFailed(string(category))
				log.Warn(ctx, "page abandoned after retries",
					logger.String("category", string(category)),
					logger.Int("page", page),
					logger.Error(err),
				)
				continue
			}

			metrics.RecordPageFetched(string(category))
			if !push(res.Entries) {
				return
			}
		}
	}
}

func (h *Harvester) log() logger.Logger {
	if h.logger != nil {
		return h.logger
	}
	return logger.Get().Named("harvester")
}
