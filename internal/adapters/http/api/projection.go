package api

import (
	"net/http"

	"github.com/okian/gridwatch/internal/domain/projection"
)

// ProjectionHandler serves end-of-period score estimates per rank tier.
type ProjectionHandler struct {
	deps Dependencies
}

// NewProjectionHandler creates a new projection handler.
func NewProjectionHandler(deps Dependencies) *ProjectionHandler {
	return &ProjectionHandler{deps: deps}
}

type projectionResponse struct {
	Tier      string `json:"tier"`
	Horizon   string `json:"horizon"`
	Estimate  int64  `json:"estimate,omitempty"`
	Available bool   `json:"available"`
}

// HandleProjection handles GET /projection?tier=X&horizon=day|event.
// An unavailable projection is a normal answer, not an error: curves may
// be missing, the tier untracked, or the event too young.
func (h *ProjectionHandler) HandleProjection(w http.ResponseWriter, r *http.Request) {
	const op = "api.projection"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	tier := q.Get("tier")
	if tier == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	var horizon projection.Horizon
	switch q.Get("horizon") {
	case "day":
		horizon = projection.HorizonEndOfDay
	case "event":
		horizon = projection.HorizonEndOfEvent
	default:
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	estimate, ok, err := h.deps.Project(r.Context(), tier, horizon)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	resp := projectionResponse{Tier: tier, Horizon: q.Get("horizon"), Available: ok}
	if ok {
		resp.Estimate = estimate
	}
	writeJSON(w, http.StatusOK, resp)
}
