package repository_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/gridwatch/internal/adapters/repository"
	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/pkg/logger"
)

func openStore(t *testing.T) *repository.Store {
	t.Helper()
	require.NoError(t, logger.Init())

	s, err := repository.Open(filepath.Join(t.TempDir(), "gen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func feed(recs ...model.Record) <-chan model.Record {
	ch := make(chan model.Record, len(recs))
	for _, r := range recs {
		ch <- r
	}
	close(ch)
	return ch
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestPrepareAndInfo(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, ok, err := s.Info(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store has no info row")

	require.NoError(t, s.Prepare(ctx, 71))

	info, ok, err := s.Info(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(71), info.EventID)
	assert.Equal(t, model.SchemaVersion, info.SchemaVersion)
	assert.Zero(t, info.UpdatedAt)

	// Re-preparing for the same event is a no-op.
	require.NoError(t, s.Prepare(ctx, 71))

	// Preparing for a different event wipes content.
	require.NoError(t, s.Prepare(ctx, 72))
	info, _, err = s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(72), info.EventID)
}

func TestPlayerBuildAndSearch(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Prepare(ctx, 71))

	b := repository.NewBuilder(s)
	err := b.Build(ctx, model.CategoryPlayer, -1, feed(
		model.Record{ID: 10, Rank: 1, Name: "Siegfried", Point: 4_000_000},
		model.Record{ID: 11, Rank: 2, Name: "Percival", Point: 3_500_000},
		model.Record{ID: 12, Rank: 3, Name: "Lancelot", Point: 3_100_000},
	))
	require.NoError(t, err)

	got, err := s.SearchPlayers(ctx, repository.Term{Mode: model.SearchRank, Number: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Percival", got[0].Name)
	assert.Equal(t, int64(3_500_000), got[0].Total)

	got, err = s.SearchPlayers(ctx, repository.Term{Mode: model.SearchSubstring, Text: "lot"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(12), got[0].ID)

	got, err = s.SearchPlayers(ctx, repository.Term{Mode: model.SearchIDSet, IDs: []int64{10, 12}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// An empty id set is a legal query matching nothing.
	got, err = s.SearchPlayers(ctx, repository.Term{Mode: model.SearchIDSet})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.SearchPlayers(ctx, repository.Term{Mode: "regex"})
	assert.ErrorIs(t, err, repository.ErrInvalidTerm)
}

func TestCrewRateDerivation(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Prepare(ctx, 71))

	t0 := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

	// First pass: no elapsed baseline, so no rates.
	b := repository.NewBuilder(s, repository.WithClock(fixedClock(t0)))
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 1, feed(
		model.Record{ID: 100, Rank: 1, Name: "Aether", Point: 900_000},
	)))

	got, err := s.SearchCrews(ctx, repository.Term{Mode: model.SearchID, Number: 100})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(900_000), got[0].CurrentTotal())
	assert.Nil(t, got[0].CurrentRate)
	assert.Nil(t, got[0].TopRate)

	// Second pass 20 minutes later: rate = 200000 / 20 = 10000 per minute.
	b = repository.NewBuilder(s, repository.WithClock(fixedClock(t0.Add(20*time.Minute))))
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 1, feed(
		model.Record{ID: 100, Rank: 1, Name: "Aether", Point: 1_100_000},
	)))

	got, err = s.SearchCrews(ctx, repository.Term{Mode: model.SearchID, Number: 100})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].CurrentRate)
	assert.InDelta(t, 10_000, *got[0].CurrentRate, 0.01)
	require.NotNil(t, got[0].TopRate)
	assert.InDelta(t, 10_000, *got[0].TopRate, 0.01)

	// Third pass with an unchanged total: current rate clears, top rate
	// keeps its high-water mark.
	b = repository.NewBuilder(s, repository.WithClock(fixedClock(t0.Add(40*time.Minute))))
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 1, feed(
		model.Record{ID: 100, Rank: 1, Name: "Aether", Point: 1_100_000},
	)))

	got, err = s.SearchCrews(ctx, repository.Term{Mode: model.SearchID, Number: 100})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].CurrentRate)
	require.NotNil(t, got[0].TopRate)
	assert.InDelta(t, 10_000, *got[0].TopRate, 0.01)

	// A slower pass never lowers the top rate: 100000 / 20 = 5000.
	b = repository.NewBuilder(s, repository.WithClock(fixedClock(t0.Add(60*time.Minute))))
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 1, feed(
		model.Record{ID: 100, Rank: 1, Name: "Aether", Point: 1_200_000},
	)))

	got, err = s.SearchCrews(ctx, repository.Term{Mode: model.SearchID, Number: 100})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].CurrentRate)
	assert.InDelta(t, 5_000, *got[0].CurrentRate, 0.01)
	require.NotNil(t, got[0].TopRate)
	assert.InDelta(t, 10_000, *got[0].TopRate, 0.01)
}

func TestCrewStaleValueGuard(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Prepare(ctx, 71))

	t0 := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)

	b := repository.NewBuilder(s, repository.WithClock(fixedClock(t0)))
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 2, feed(
		model.Record{ID: 200, Rank: 5, Name: "Bahamut", Point: 2_000_000},
	)))

	// The upstream board serves a lower cumulative total than before: the
	// prior total is held and no rate is derived.
	b = repository.NewBuilder(s, repository.WithClock(fixedClock(t0.Add(20*time.Minute))))
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 2, feed(
		model.Record{ID: 200, Rank: 5, Name: "Bahamut", Point: 1_900_000},
	)))

	got, err := s.SearchCrews(ctx, repository.Term{Mode: model.SearchID, Number: 200})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2_000_000), got[0].CurrentTotal())
	assert.Nil(t, got[0].CurrentRate)
}

func TestCrewPhaseCarryOver(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Prepare(ctx, 71))

	t0 := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)

	// Preliminaries pass.
	b := repository.NewBuilder(s, repository.WithClock(fixedClock(t0)))
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 0, feed(
		model.Record{ID: 300, Rank: 2, Name: "Grandcypher", Point: 5_000_000},
	)))

	// First day-1 pass: the preliminaries column survives the rebuild and
	// the day delta is the growth beyond it.
	b = repository.NewBuilder(s, repository.WithClock(fixedClock(t0.Add(12*time.Hour))))
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 1, feed(
		model.Record{ID: 300, Rank: 2, Name: "Grandcypher", Point: 5_600_000},
	)))

	got, err := s.SearchCrews(ctx, repository.Term{Mode: model.SearchExactName, Text: "Grandcypher"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	crew := got[0]
	require.NotNil(t, crew.PhaseTotals[0])
	assert.Equal(t, int64(5_000_000), *crew.PhaseTotals[0])
	require.NotNil(t, crew.PhaseTotals[1])
	assert.Equal(t, int64(5_600_000), *crew.PhaseTotals[1])
	require.NotNil(t, crew.CurrentDayDelta())
	assert.Equal(t, int64(600_000), *crew.CurrentDayDelta())
	assert.Equal(t, 1, crew.CurrentPhase())
}

func TestBatchedBuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Prepare(ctx, 71))

	recs := make([]model.Record, 25)
	for i := range recs {
		recs[i] = model.Record{
			ID:    int64(500 + i),
			Rank:  i + 1,
			Name:  "crew",
			Point: int64(1_000_000 - i*1000),
		}
	}

	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	b := repository.NewBuilder(s,
		repository.WithBatchSize(10),
		repository.WithClock(fixedClock(t0)),
	)
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 1, feed(recs...)))

	first, err := s.SearchCrews(ctx, repository.Term{Mode: model.SearchSubstring, Text: "crew"})
	require.NoError(t, err)
	require.Len(t, first, 25)

	// Replaying the identical input produces the identical table.
	b = repository.NewBuilder(s,
		repository.WithBatchSize(10),
		repository.WithClock(fixedClock(t0.Add(20*time.Minute))),
	)
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 1, feed(recs...)))

	second, err := s.SearchCrews(ctx, repository.Term{Mode: model.SearchSubstring, Text: "crew"})
	require.NoError(t, err)
	require.Len(t, second, 25)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].CurrentTotal(), second[i].CurrentTotal())
		// Unchanged totals on the replay mean no current rate.
		assert.Nil(t, second[i].CurrentRate)
	}
}

func TestCancelledBuildCommitsPartial(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Prepare(context.Background(), 71))

	infoBefore, _, err := s.Info(context.Background())
	require.NoError(t, err)

	ch := make(chan model.Record, 8)
	for i := 0; i < 5; i++ {
		ch <- model.Record{ID: int64(700 + i), Rank: i + 1, Name: "partial", Point: 1000}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	b := repository.NewBuilder(s, repository.WithBatchSize(100))
	go func() {
		done <- b.Build(ctx, model.CategoryPlayer, -1, ch)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, repository.ErrBuildStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("build did not stop after cancellation")
	}

	got, err := s.SearchPlayers(context.Background(), repository.Term{Mode: model.SearchSubstring, Text: "partial"})
	require.NoError(t, err)
	assert.Len(t, got, 5, "buffered rows are committed on early stop")

	// An interrupted build never advances the freshness stamp.
	infoAfter, _, err := s.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, infoBefore.UpdatedAt, infoAfter.UpdatedAt)
}

func TestLegacySchemaReadsWithoutRates(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, logger.Init())

	path := filepath.Join(t.TempDir(), "legacy.db")

	// Hand-build a file the way the previous schema wrote it: no rate
	// columns, info stamped at version 1.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE info (event_id INTEGER NOT NULL, schema_version INTEGER NOT NULL, updated_at INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO info VALUES (70, 1, ?)`, time.Now().Unix())
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE crews (id INTEGER PRIMARY KEY, rank INTEGER NOT NULL, name TEXT NOT NULL, prelims INTEGER, day1 INTEGER, day2 INTEGER, day3 INTEGER, day4 INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO crews VALUES (900, 1, 'Vintage', 4000000, 4800000, NULL, NULL, NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := repository.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.SearchCrews(ctx, repository.Term{Mode: model.SearchID, Number: 900})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(4_800_000), got[0].CurrentTotal())
	assert.Nil(t, got[0].TopRate)
	assert.Nil(t, got[0].CurrentRate)

	// A build pass migrates the file to the current schema.
	b := repository.NewBuilder(s)
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 1, feed(
		model.Record{ID: 900, Rank: 1, Name: "Vintage", Point: 4_900_000},
	)))

	info, ok, err := s.Info(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SchemaVersion, info.SchemaVersion)
}

func TestSearchOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	// No info row, no tables: every search answers empty, never errors.
	crews, err := s.SearchCrews(ctx, repository.Term{Mode: model.SearchSubstring, Text: "any"})
	require.NoError(t, err)
	assert.Empty(t, crews)

	players, err := s.SearchPlayers(ctx, repository.Term{Mode: model.SearchID, Number: 1})
	require.NoError(t, err)
	assert.Empty(t, players)
}

func TestFutureSchemaReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Prepare(ctx, 71))

	b := repository.NewBuilder(s)
	require.NoError(t, b.Build(ctx, model.CategoryCrew, 0, feed(
		model.Record{ID: 1, Rank: 1, Name: "Future", Point: 100},
	)))

	// Simulate a file written by a newer build of the tracker.
	db, err := sql.Open("sqlite", s.Path())
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE info SET schema_version = ?`, model.SchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	got, err := s.SearchCrews(ctx, repository.Term{Mode: model.SearchID, Number: 1})
	require.NoError(t, err)
	assert.Empty(t, got)
}
