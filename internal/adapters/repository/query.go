package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/pkg/metrics"
)

// Term is one search request against a category table.
type Term struct {
	Mode model.SearchMode
	// Text carries the name for substring and exact matches.
	Text string
	// Number carries the id or rank for single-value matches.
	Number int64
	// IDs carries the membership set for idset matches.
	IDs []int64
}

// whereClause renders the term into a SQL condition. An empty idset is
// legal and matches nothing.
func whereClause(t Term) (string, []any, error) {
	switch t.Mode {
	case model.SearchSubstring:
		return `name LIKE '%' || ? || '%' COLLATE NOCASE`, []any{t.Text}, nil
	case model.SearchExactName:
		return `name = ?`, []any{t.Text}, nil
	case model.SearchID:
		return `id = ?`, []any{t.Number}, nil
	case model.SearchRank:
		return `rank = ?`, []any{t.Number}, nil
	case model.SearchIDSet:
		if len(t.IDs) == 0 {
			return "", nil, nil
		}
		args := make([]any, len(t.IDs))
		for i, id := range t.IDs {
			args[i] = id
		}
		return `id IN (?` + strings.Repeat(", ?", len(t.IDs)-1) + `)`, args, nil
	}
	return "", nil, fmt.Errorf("%w: mode %q", ErrInvalidTerm, t.Mode)
}

// readable reports whether the store has queryable rows for the category
// and returns the schema version to decode them at. Missing tables and
// files written by a newer build are both read as empty rather than
// errors; an empty result is a normal answer.
func (s *Store) readable(ctx context.Context, category model.Category) (int, bool, error) {
	info, hasInfo, err := s.readInfo(ctx)
	if err != nil {
		return 0, false, err
	}
	if !hasInfo || info.SchemaVersion > model.SchemaVersion {
		return 0, false, nil
	}
	ok, err := s.hasTable(ctx, category.Table())
	if err != nil || !ok {
		return 0, false, err
	}
	return info.SchemaVersion, true, nil
}

// SearchCrews matches the term against this store's crew table.
func (s *Store) SearchCrews(ctx context.Context, t Term) ([]model.Crew, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.RecordQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	version, ok, err := s.readable(ctx, model.CategoryCrew)
	if err != nil {
		return nil, fmt.Errorf("searching crews: %w", err)
	}
	if !ok {
		return nil, nil
	}

	where, args, err := whereClause(t)
	if err != nil {
		return nil, err
	}
	if where == "" {
		return nil, nil
	}

	cols := `id, rank, name, prelims, day1, day2, day3, day4, top_rate, current_rate`
	if version < model.SchemaVersion {
		cols = `id, rank, name, prelims, day1, day2, day3, day4, NULL, NULL`
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cols+` FROM crews WHERE `+where+` ORDER BY rank`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching crews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Crew
	for rows.Next() {
		var (
			id                   int64
			rank                 int
			name                 string
			totals               [model.NumPhases]*int64
			topRate, currentRate *float64
		)
		if err := rows.Scan(&id, &rank, &name,
			&totals[0], &totals[1], &totals[2], &totals[3], &totals[4],
			&topRate, &currentRate,
		); err != nil {
			return nil, fmt.Errorf("searching crews: %w", err)
		}
		out = append(out, model.DecodeCrew(version, id, rank, name, totals, topRate, currentRate))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching crews: %w", err)
	}
	return out, nil
}

// SearchPlayers matches the term against this store's player table.
func (s *Store) SearchPlayers(ctx context.Context, t Term) ([]model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.RecordQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	_, ok, err := s.readable(ctx, model.CategoryPlayer)
	if err != nil {
		return nil, fmt.Errorf("searching players: %w", err)
	}
	if !ok {
		return nil, nil
	}

	where, args, err := whereClause(t)
	if err != nil {
		return nil, err
	}
	if where == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rank, name, total FROM players WHERE `+where+` ORDER BY rank`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching players: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Player
	for rows.Next() {
		var p model.Player
		if err := rows.Scan(&p.ID, &p.Rank, &p.Name, &p.Total); err != nil {
			return nil, fmt.Errorf("searching players: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching players: %w", err)
	}
	return out, nil
}
