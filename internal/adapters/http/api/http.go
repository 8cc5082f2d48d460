// Package api declares HTTP contracts and route registration helpers.
// The tracker emits structured data and short status enums only; the
// external command layer renders user-facing text.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/gridwatch/internal/adapters/repository"
	"github.com/okian/gridwatch/internal/adapters/storage"
	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/internal/domain/projection"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	// Status reports the tracker's phase and generation state.
	Status(ctx context.Context) (Status, error)

	// Search operations answer from both generations.
	SearchCrews(ctx context.Context, t repository.Term) (storage.CrewSearch, error)
	SearchPlayers(ctx context.Context, t repository.Term) (storage.PlayerSearch, error)

	// Project estimates the end-of-horizon score for a rank tier. The
	// second return is false when no projection is available.
	Project(ctx context.Context, tier string, horizon projection.Horizon) (int64, bool, error)
}

// Status is the structured state snapshot served at /status.
type Status struct {
	EventID          int64                     `json:"event_id"`
	Phase            string                    `json:"phase"`
	NextBoundary     *time.Time                `json:"next_boundary,omitempty"`
	SecondsRemaining *int64                    `json:"seconds_remaining,omitempty"`
	CurvesLoaded     bool                      `json:"curves_loaded"`
	Generations      [2]*Generation            `json:"generations"`
	Harvests         map[string]HarvestSummary `json:"harvests,omitempty"`
}

// HarvestSummary is the last harvest outcome for one category, or the
// reason the last tick skipped it.
type HarvestSummary struct {
	At       int64  `json:"at,omitempty"` // epoch seconds
	Expected int64  `json:"expected,omitempty"`
	Produced int64  `json:"produced,omitempty"`
	Partial  bool   `json:"partial,omitempty"`
	Stopped  bool   `json:"stopped,omitempty"`
	Skip     string `json:"skip,omitempty"`
}

// Generation is one generation's metadata as served to clients.
type Generation struct {
	EventID       int64 `json:"event_id"`
	SchemaVersion int   `json:"schema_version"`
	UpdatedAt     int64 `json:"updated_at"`
}

// GenerationFromInfo converts store metadata to the wire shape.
func GenerationFromInfo(info *model.StoreInfo) *Generation {
	if info == nil {
		return nil
	}
	return &Generation{
		EventID:       info.EventID,
		SchemaVersion: info.SchemaVersion,
		UpdatedAt:     info.UpdatedAt,
	}
}

// Server wires HTTP routes for the tracker API.
type Server struct {
	healthHandler     *HealthHandler
	statusHandler     *StatusHandler
	searchHandler     *SearchHandler
	projectionHandler *ProjectionHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statusHandler:     NewStatusHandler(deps),
		searchHandler:     NewSearchHandler(deps),
		projectionHandler: NewProjectionHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/status", MetricsMiddleware(s.statusHandler.HandleStatus, "status"))
	mux.HandleFunc("/search", MetricsMiddleware(s.searchHandler.HandleSearch, "search"))
	mux.HandleFunc("/projection", MetricsMiddleware(s.projectionHandler.HandleProjection, "projection"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
