// Package mockranking serves a deterministic synthetic leaderboard in the
// remote ranking API's wire shape. It backs cmd/mock-ranking for local
// runs and doubles as a test fixture.
package mockranking

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/okian/gridwatch/internal/domain/model"
)

// Default board dimensions.
const (
	defaultCrewCount   = 120
	defaultPlayerCount = 300
	defaultPageSize    = 10
)

// Board is a synthetic two-category leaderboard. Scores are a pure
// function of entry index and the advance counter, so repeated fetches of
// the same state are identical and progress is scripted by Advance.
type Board struct {
	mu       sync.RWMutex
	crews    int
	players  int
	pageSize int
	// rounds models elapsed harvest cycles; each round adds score.
	rounds int64
	// maintenance makes every ranking request answer 503.
	maintenance bool
}

// Option applies a configuration option to the Board.
type Option func(*Board)

// WithCrewCount sets the number of ranked crews.
func WithCrewCount(n int) Option {
	return func(b *Board) {
		if n > 0 {
			b.crews = n
		}
	}
}

// WithPlayerCount sets the number of ranked players.
func WithPlayerCount(n int) Option {
	return func(b *Board) {
		if n > 0 {
			b.players = n
		}
	}
}

// WithPageSize sets entries per ranking page.
func WithPageSize(n int) Option {
	return func(b *Board) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// New creates a Board.
func New(opts ...Option) *Board {
	b := &Board{
		crews:    defaultCrewCount,
		players:  defaultPlayerCount,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Advance moves the board one scoring round forward.
func (b *Board) Advance() {
	b.mu.Lock()
	b.rounds++
	b.mu.Unlock()
}

// SetMaintenance toggles maintenance mode: every ranking request answers
// 503 while enabled.
func (b *Board) SetMaintenance(on bool) {
	b.mu.Lock()
	b.maintenance = on
	b.mu.Unlock()
}

// entry computes the board row at zero-based position n. Higher positions
// score less; every round adds a deterministic per-position increment.
func (b *Board) entry(category model.Category, n int, rounds int64) model.Record {
	if category == model.CategoryCrew {
		base := int64(5_000_000 - n*10_000)
		return model.Record{
			ID:    int64(7_000_000 + n),
			Rank:  n + 1,
			Name:  fmt.Sprintf("Skyfarers %03d", n+1),
			Point: base + rounds*int64(200_000-n*100),
		}
	}
	base := int64(900_000 - n*1_000)
	return model.Record{
		ID:    int64(1_000_000 + n),
		Rank:  n + 1,
		Name:  fmt.Sprintf("Captain%04d", n+1),
		Point: base + rounds*int64(40_000-n*50),
	}
}

type pageResponse struct {
	Count int64       `json:"count"`
	Last  int         `json:"last"`
	List  []pageEntry `json:"list"`
}

type pageEntry struct {
	ID    int64  `json:"id"`
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Point int64  `json:"point"`
}

// Handler serves GET /ranking?category=crew|player&page=N and GET
// /curves, the historical tier-curve reference shape.
func (b *Board) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ranking", b.handleRanking)
	mux.HandleFunc("/curves", b.handleCurves)
	return mux
}

// handleCurves serves synthetic historical curves: one linear ramp per
// tracked tier, 20-minute samples over a week-long event.
func (b *Board) handleCurves(w http.ResponseWriter, _ *http.Request) {
	const samples = 7 * 24 * 3 // one week at 20-minute steps

	curves := make(map[string][]int64)
	for _, rank := range []int{1, 50, 100} {
		final := b.entry(model.CategoryCrew, rank-1, 40).Point
		curve := make([]int64, samples)
		for i := range curve {
			curve[i] = final * int64(i+1) / samples
		}
		curves[fmt.Sprintf("#%d", rank)] = curve
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(curves)
}

func (b *Board) handleRanking(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	rounds := b.rounds
	down := b.maintenance
	b.mu.RUnlock()

	if down {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}

	category := model.Category(r.URL.Query().Get("category"))
	if !category.Valid() {
		http.Error(w, "unknown category", http.StatusBadRequest)
		return
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		http.Error(w, "bad page", http.StatusBadRequest)
		return
	}

	total := b.crews
	if category == model.CategoryPlayer {
		total = b.players
	}
	last := (total + b.pageSize - 1) / b.pageSize

	resp := pageResponse{Count: int64(total), Last: last}
	start := (page - 1) * b.pageSize
	for n := start; n < start+b.pageSize && n < total; n++ {
		rec := b.entry(category, n, rounds)
		resp.List = append(resp.List, pageEntry{
			ID:    rec.ID,
			Rank:  rec.Rank,
			Name:  rec.Name,
			Point: rec.Point,
		})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}
