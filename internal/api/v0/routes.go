// Package v0 provides the REST API handlers for the sync engine.
package v0

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tempora-hq/calsync-server/internal/api/common"
	"github.com/tempora-hq/calsync-server/internal/config"
	"github.com/tempora-hq/calsync-server/internal/recurrence"
	"github.com/tempora-hq/calsync-server/internal/store"
	enginesync "github.com/tempora-hq/calsync-server/internal/sync"
	"github.com/tempora-hq/calsync-server/internal/synclog"
)

// defaultEventWindow is the query window applied when from/to are omitted
const defaultEventWindow = 30 * 24 * time.Hour

// SyncService is the orchestrator surface the API exposes
type SyncService interface {
	SyncOne(ctx context.Context, sourceID string) enginesync.Result
	SyncAll(ctx context.Context, kinds ...config.SourceKind) []enginesync.Result
}

// SyncResponse represents the outcome of one source sync
type SyncResponse struct {
	SourceID string `json:"source_id"`
	Mode     string `json:"mode,omitempty"`
	Success  bool   `json:"success"`
	Retried  bool   `json:"retried,omitempty"`

	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped,omitempty"`

	Error string `json:"error,omitempty"`
}

// LogsResponse lists recent sync attempts
type LogsResponse struct {
	Attempts []synclog.Attempt `json:"attempts"`
}

// EventsResponse lists expanded event occurrences within a window
type EventsResponse struct {
	SourceID    string                  `json:"source_id"`
	From        time.Time               `json:"from"`
	To          time.Time               `json:"to"`
	Occurrences []recurrence.Occurrence `json:"occurrences"`
}

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	syncer SyncService
	log    synclog.Log
	events store.EventStore
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(syncer SyncService, log synclog.Log, events store.EventStore) *Routes {
	return &Routes{
		syncer: syncer,
		log:    log,
		events: events,
	}
}

// Router creates a new router for the sync API
func Router(syncer SyncService, log synclog.Log, events store.EventStore) http.Handler {
	routes := NewRoutes(syncer, log, events)

	r := chi.NewRouter()
	r.Post("/sync", routes.syncAll)
	r.Post("/sync/{sourceID}", routes.syncOne)
	r.Get("/logs", routes.getLogs)
	r.Get("/stats", routes.getStats)
	r.Get("/events/{sourceID}", routes.getEvents)
	return r
}

// syncAll handles POST /v0/sync
func (rr *Routes) syncAll(w http.ResponseWriter, r *http.Request) {
	var kinds []config.SourceKind
	switch kind := r.URL.Query().Get("kind"); kind {
	case "":
	case string(config.SourceKindCursor), string(config.SourceKindFeed):
		kinds = append(kinds, config.SourceKind(kind))
	default:
		common.WriteErrorResponse(w, "Unknown source kind: "+kind, http.StatusBadRequest)
		return
	}

	results := rr.syncer.SyncAll(r.Context(), kinds...)
	responses := make([]SyncResponse, 0, len(results))
	for _, res := range results {
		responses = append(responses, toSyncResponse(res))
	}
	common.WriteJSONResponse(w, responses, http.StatusOK)
}

// syncOne handles POST /v0/sync/{sourceID}
func (rr *Routes) syncOne(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	res := rr.syncer.SyncOne(r.Context(), sourceID)
	switch {
	case errors.Is(res.Err, enginesync.ErrSourceNotFound):
		common.WriteErrorResponse(w, "Source not found: "+sourceID, http.StatusNotFound)
		return
	case errors.Is(res.Err, enginesync.ErrSourceDisabled):
		common.WriteErrorResponse(w, "Source is disabled: "+sourceID, http.StatusConflict)
		return
	}

	// A failed sync is still a completed request; the outcome travels in
	// the body, mirroring the sync log
	common.WriteJSONResponse(w, toSyncResponse(res), http.StatusOK)
}

// getLogs handles GET /v0/logs
func (rr *Routes) getLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			common.WriteErrorResponse(w, "Invalid limit: "+raw, http.StatusBadRequest)
			return
		}
		limit = n
	}

	attempts, err := rr.log.Recent(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		slog.Error("Failed to list sync attempts", "error", err)
		common.WriteErrorResponse(w, "Failed to list sync attempts", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, LogsResponse{Attempts: attempts}, http.StatusOK)
}

// getStats handles GET /v0/stats
func (rr *Routes) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rr.log.Stats(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		slog.Error("Failed to derive sync stats", "error", err)
		common.WriteErrorResponse(w, "Failed to derive sync stats", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, stats, http.StatusOK)
}

// getEvents handles GET /v0/events/{sourceID}
func (rr *Routes) getEvents(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	window, ok := parseWindow(w, r)
	if !ok {
		return
	}

	// Query with an open lower bound: a recurring event's base row can
	// start long before the window while its occurrences fall inside it
	cached, err := rr.events.Query(r.Context(), sourceID, store.TimeRange{To: window.To})
	if err != nil {
		slog.Error("Failed to query events", "source", sourceID, "error", err)
		common.WriteErrorResponse(w, "Failed to query events", http.StatusInternalServerError)
		return
	}

	common.WriteJSONResponse(w, EventsResponse{
		SourceID:    sourceID,
		From:        window.From,
		To:          window.To,
		Occurrences: recurrence.ExpandAll(cached, window),
	}, http.StatusOK)
}

func parseWindow(w http.ResponseWriter, r *http.Request) (store.TimeRange, bool) {
	window := store.TimeRange{}

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.WriteErrorResponse(w, "Invalid from timestamp: "+raw, http.StatusBadRequest)
			return window, false
		}
		window.From = t
	} else {
		window.From = time.Now().UTC()
	}

	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.WriteErrorResponse(w, "Invalid to timestamp: "+raw, http.StatusBadRequest)
			return window, false
		}
		window.To = t
	} else {
		window.To = window.From.Add(defaultEventWindow)
	}

	if !window.To.After(window.From) {
		common.WriteErrorResponse(w, "Window end must be after its start", http.StatusBadRequest)
		return window, false
	}
	return window, true
}

func toSyncResponse(res enginesync.Result) SyncResponse {
	out := SyncResponse{
		SourceID: res.SourceID,
		Mode:     string(res.Mode),
		Success:  res.Success,
		Retried:  res.Retried,
		Added:    res.Counts.Added,
		Updated:  res.Counts.Updated,
		Deleted:  res.Counts.Deleted,
		Skipped:  res.Counts.Skipped,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// HealthRouter creates a router for health check endpoints
func HealthRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteJSONResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	return r
}
