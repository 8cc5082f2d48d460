package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/gridwatch/internal/adapters/repository"
	"github.com/okian/gridwatch/internal/domain/model"
)

// SearchHandler answers leaderboard lookups across both generations.
type SearchHandler struct {
	deps Dependencies
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(deps Dependencies) *SearchHandler {
	return &SearchHandler{deps: deps}
}

// crewEntry is the wire shape of one crew row with its derived fields
// computed at read time.
type crewEntry struct {
	ID           int64                   `json:"id"`
	Rank         int                     `json:"rank"`
	Name         string                  `json:"name"`
	PhaseTotals  [model.NumPhases]*int64 `json:"phase_totals"`
	CurrentTotal int64                   `json:"current_total"`
	DayDelta     *int64                  `json:"day_delta,omitempty"`
	TopRate      *float64                `json:"top_rate,omitempty"`
	CurrentRate  *float64                `json:"current_rate,omitempty"`
}

func crewEntries(crews []model.Crew) []crewEntry {
	out := make([]crewEntry, 0, len(crews))
	for i := range crews {
		c := &crews[i]
		out = append(out, crewEntry{
			ID:           c.ID,
			Rank:         c.Rank,
			Name:         c.Name,
			PhaseTotals:  c.PhaseTotals,
			CurrentTotal: c.CurrentTotal(),
			DayDelta:     c.CurrentDayDelta(),
			TopRate:      c.TopRate,
			CurrentRate:  c.CurrentRate,
		})
	}
	return out
}

type playerEntry struct {
	ID    int64  `json:"id"`
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Total int64  `json:"total"`
}

func playerEntries(players []model.Player) []playerEntry {
	out := make([]playerEntry, 0, len(players))
	for _, p := range players {
		out = append(out, playerEntry{ID: p.ID, Rank: p.Rank, Name: p.Name, Total: p.Total})
	}
	return out
}

type searchResponse struct {
	Category    string         `json:"category"`
	Mode        string         `json:"mode"`
	Current     any            `json:"current"`
	Previous    any            `json:"previous"`
	Generations [2]*Generation `json:"generations"`
}

// parseTerm maps query parameters onto a typed search term.
func parseTerm(r *http.Request) (repository.Term, error) {
	q := r.URL.Query()
	mode := model.SearchMode(q.Get("mode"))
	if !mode.Valid() {
		return repository.Term{}, NewKind("unknown mode", ErrBadRequest)
	}

	t := repository.Term{Mode: mode}
	switch mode {
	case model.SearchSubstring, model.SearchExactName:
		t.Text = q.Get("term")
		if t.Text == "" {
			return repository.Term{}, NewKind("missing term", ErrBadRequest)
		}
	case model.SearchID, model.SearchRank:
		n, err := strconv.ParseInt(q.Get("term"), 10, 64)
		if err != nil {
			return repository.Term{}, NewKind("term must be numeric", ErrBadRequest)
		}
		t.Number = n
	case model.SearchIDSet:
		raw := q.Get("ids")
		if raw == "" {
			break // legal: an empty set matches nothing
		}
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return repository.Term{}, NewKind("ids must be numeric", ErrBadRequest)
			}
			t.IDs = append(t.IDs, id)
		}
	}
	return t, nil
}

// HandleSearch handles GET /search?category=crew&mode=substring&term=X.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	const op = "api.search"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	category := model.Category(r.URL.Query().Get("category"))
	if !category.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	term, err := parseTerm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", Wrap(op, err))
		return
	}

	resp := searchResponse{Category: string(category), Mode: string(term.Mode)}

	if category == model.CategoryCrew {
		res, err := h.deps.SearchCrews(r.Context(), term)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
			return
		}
		resp.Current = crewEntries(res.Current)
		resp.Previous = crewEntries(res.Previous)
		resp.Generations[0] = GenerationFromInfo(res.Infos[0])
		resp.Generations[1] = GenerationFromInfo(res.Infos[1])
	} else {
		res, err := h.deps.SearchPlayers(r.Context(), term)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
			return
		}
		resp.Current = playerEntries(res.Current)
		resp.Previous = playerEntries(res.Previous)
		resp.Generations[0] = GenerationFromInfo(res.Infos[0])
		resp.Generations[1] = GenerationFromInfo(res.Infos[1])
	}

	writeJSON(w, http.StatusOK, resp)
}
