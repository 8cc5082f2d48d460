package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/pkg/logger"
	"github.com/okian/gridwatch/pkg/metrics"
)

// defaultBatchSize is the number of rows committed per transaction during
// a build pass.
const defaultBatchSize = 1000

// Builder consumes harvested records and rebuilds one category table of a
// generation store, merging against the previous pass to derive rates and
// guard against stale upstream values.
type Builder struct {
	store     *Store
	batchSize int
	now       func() time.Time
	logger    logger.Logger
}

// BuilderOption applies a configuration option to the Builder.
type BuilderOption func(*Builder)

// WithBatchSize sets the number of rows per committed transaction.
func WithBatchSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithClock overrides the time source. Tests use this to pin elapsed
// minutes between passes.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithBuilderLogger sets a custom logger for the builder.
func WithBuilderLogger(l logger.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a Builder writing into the given store.
func NewBuilder(store *Store, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:     store,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// crewPrior is the previous pass's view of one crew, read before the
// table is rebuilt.
type crewPrior struct {
	totals  [model.NumPhases]*int64
	topRate *float64
}

// Build drains the record channel into the category table. The table is
// dropped and recreated, then rows are inserted in batched transactions;
// the store's updated_at advances only with the final batch, so readers
// of an interrupted build still see the previous timestamp. phaseIndex
// selects which crew column the incoming cumulative total lands in and is
// ignored for players.
//
// Cancellation commits whatever is buffered and returns ErrBuildStopped:
// a partial table is better than none, and the next pass rebuilds anyway.
func (b *Builder) Build(ctx context.Context, category model.Category, phaseIndex int, in <-chan model.Record) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	start := b.now()
	log := b.log()

	info, hasInfo, err := b.store.readInfo(ctx)
	if err != nil {
		return fmt.Errorf("build %s: %w", category, err)
	}
	elapsed := 0.0
	if hasInfo {
		elapsed = info.ElapsedMinutes(start)
	}

	var prior map[int64]crewPrior
	if category == model.CategoryCrew {
		prior, err = b.snapshotCrews(ctx, info.SchemaVersion)
		if err != nil {
			return fmt.Errorf("build %s: %w", category, err)
		}
	}

	if err := b.recreateTable(ctx, category); err != nil {
		return fmt.Errorf("build %s: %w", category, err)
	}

	var (
		buf     []model.Record
		rows    int
		stopped bool
	)

	// Batches commit even when the build context was cancelled mid-drain,
	// so the flush path runs detached from cancellation.
	txCtx := context.WithoutCancel(ctx)

	flush := func(final bool) error {
		if len(buf) == 0 && !final {
			return nil
		}
		tx, err := b.store.db.BeginTx(txCtx, nil)
		if err != nil {
			return fmt.Errorf("beginning batch: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if category == model.CategoryCrew {
			err = b.insertCrews(txCtx, tx, buf, prior, phaseIndex, elapsed)
		} else {
			err = b.insertPlayers(txCtx, tx, buf)
		}
		if err != nil {
			return err
		}

		if final {
			if _, err := tx.ExecContext(txCtx,
				`UPDATE info SET updated_at = ?, schema_version = ?`,
				start.Unix(), model.SchemaVersion,
			); err != nil {
				return fmt.Errorf("stamping info row: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing batch: %w", err)
		}
		rows += len(buf)
		buf = buf[:0]
		metrics.RecordBatchCommitted(string(category))
		return nil
	}

drain:
	for {
		select {
		case <-ctx.Done():
			stopped = true
			break drain
		case rec, ok := <-in:
			if !ok {
				break drain
			}
			buf = append(buf, rec)
			if len(buf) >= b.batchSize {
				if err := flush(false); err != nil {
					return fmt.Errorf("build %s: %w", category, err)
				}
			}
		}
	}

	// The final batch carries the metadata stamp; a stopped build commits
	// its buffer without advancing the timestamp.
	if err := flush(!stopped); err != nil {
		return fmt.Errorf("build %s: %w", category, err)
	}

	metrics.RecordBuildDuration(string(category), time.Since(start).Seconds())
	metrics.UpdateStoreRows(string(category), rows)

	log.Info(ctx, "build pass finished",
		logger.String("category", string(category)),
		logger.Int("rows", rows),
		logger.Bool("stopped", stopped),
		logger.Duration("elapsed", time.Since(start)),
	)

	if stopped {
		return fmt.Errorf("%w: %s after %d rows", ErrBuildStopped, category, rows)
	}
	return nil
}

func (b *Builder) recreateTable(ctx context.Context, category model.Category) error {
	ddl := map[model.Category]string{
		model.CategoryCrew: `CREATE TABLE crews (
			id INTEGER PRIMARY KEY,
			rank INTEGER NOT NULL,
			name TEXT NOT NULL,
			prelims INTEGER,
			day1 INTEGER,
			day2 INTEGER,
			day3 INTEGER,
			day4 INTEGER,
			top_rate REAL,
			current_rate REAL
		)`,
		model.CategoryPlayer: `CREATE TABLE players (
			id INTEGER PRIMARY KEY,
			rank INTEGER NOT NULL,
			name TEXT NOT NULL,
			total INTEGER NOT NULL
		)`,
	}

	if _, err := b.store.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+category.Table()); err != nil {
		return fmt.Errorf("dropping %s: %w", category.Table(), err)
	}
	if _, err := b.store.db.ExecContext(ctx, ddl[category]); err != nil {
		return fmt.Errorf("creating %s: %w", category.Table(), err)
	}
	return nil
}

// snapshotCrews reads the previous pass into memory before the rebuild.
// Files written before the rate columns existed snapshot without them.
func (b *Builder) snapshotCrews(ctx context.Context, version int) (map[int64]crewPrior, error) {
	ok, err := b.store.hasTable(ctx, "crews")
	if err != nil || !ok {
		return map[int64]crewPrior{}, err
	}

	q := `SELECT id, prelims, day1, day2, day3, day4, top_rate FROM crews`
	if version < model.SchemaVersion {
		q = `SELECT id, prelims, day1, day2, day3, day4, NULL FROM crews`
	}

	rows, err := b.store.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("snapshotting crews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	prior := make(map[int64]crewPrior)
	for rows.Next() {
		var id int64
		var p crewPrior
		if err := rows.Scan(&id,
			&p.totals[0], &p.totals[1], &p.totals[2], &p.totals[3], &p.totals[4],
			&p.topRate,
		); err != nil {
			return nil, fmt.Errorf("snapshotting crews: %w", err)
		}
		prior[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshotting crews: %w", err)
	}
	return prior, nil
}

func (b *Builder) insertCrews(ctx context.Context, tx *sql.Tx, recs []model.Record, prior map[int64]crewPrior, phaseIndex int, elapsed float64) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO crews
		(id, rank, name, prelims, day1, day2, day3, day4, top_rate, current_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing crew insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range recs {
		totals, topRate, currentRate := mergeCrew(prior, rec, phaseIndex, elapsed)
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.Rank, rec.Name,
			totals[0], totals[1], totals[2], totals[3], totals[4],
			topRate, currentRate,
		); err != nil {
			return fmt.Errorf("inserting crew %d: %w", rec.ID, err)
		}
	}
	return nil
}

func (b *Builder) insertPlayers(ctx context.Context, tx *sql.Tx, recs []model.Record) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO players
		(id, rank, name, total) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing player insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Rank, rec.Name, rec.Point); err != nil {
			return fmt.Errorf("inserting player %d: %w", rec.ID, err)
		}
	}
	return nil
}

// mergeCrew folds one harvested record into the crew's prior state.
// Cumulative totals only grow; a smaller value than the prior pass means
// the upstream board served a stale page, so the prior total is kept and
// the rate cleared rather than going negative.
func mergeCrew(prior map[int64]crewPrior, rec model.Record, phaseIndex int, elapsed float64) ([model.NumPhases]*int64, *float64, *float64) {
	newVal := rec.Point

	p, seen := prior[rec.ID]
	if !seen {
		var totals [model.NumPhases]*int64
		totals[phaseIndex] = &newVal
		return totals, nil, nil
	}

	totals := p.totals
	priorTotal := int64(0)
	observed := false
	for i := model.NumPhases - 1; i >= 0; i-- {
		if totals[i] != nil {
			priorTotal = *totals[i]
			observed = true
			break
		}
	}

	if !observed {
		totals[phaseIndex] = &newVal
		return totals, p.topRate, nil
	}

	switch {
	case newVal < priorTotal:
		// Stale upstream value: hold the previous total.
		if totals[phaseIndex] == nil {
			totals[phaseIndex] = &priorTotal
		}
		return totals, p.topRate, nil
	case newVal == priorTotal:
		totals[phaseIndex] = &newVal
		return totals, p.topRate, nil
	}

	totals[phaseIndex] = &newVal
	if elapsed <= 0 {
		return totals, p.topRate, nil
	}

	rate := float64(newVal-priorTotal) / elapsed
	top := p.topRate
	if top == nil || rate > *top {
		top = &rate
	}
	return totals, top, &rate
}

func (b *Builder) log() logger.Logger {
	if b.logger != nil {
		return b.logger
	}
	return logger.Get().Named("builder")
}
