package v0

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempora-hq/calsync-server/internal/config"
	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/reconcile"
	"github.com/tempora-hq/calsync-server/internal/store/memory"
	enginesync "github.com/tempora-hq/calsync-server/internal/sync"
	"github.com/tempora-hq/calsync-server/internal/synclog"
)

// fakeSyncer scripts orchestrator results per source
type fakeSyncer struct {
	results  map[string]enginesync.Result
	allKinds []config.SourceKind
}

func (f *fakeSyncer) SyncOne(_ context.Context, sourceID string) enginesync.Result {
	res, ok := f.results[sourceID]
	if !ok {
		return enginesync.Result{
			SourceID: sourceID,
			Err:      fmt.Errorf("%w: %s", enginesync.ErrSourceNotFound, sourceID),
		}
	}
	return res
}

func (f *fakeSyncer) SyncAll(_ context.Context, kinds ...config.SourceKind) []enginesync.Result {
	f.allKinds = kinds
	out := make([]enginesync.Result, 0, len(f.results))
	for _, res := range f.results {
		out = append(out, res)
	}
	return out
}

func testHandler(syncer *fakeSyncer, log synclog.Log, events *memory.Store) http.Handler {
	if log == nil {
		log = synclog.NewMemoryLog()
	}
	if events == nil {
		events = memory.New()
	}
	return Router(syncer, log, events)
}

func doRequest(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSyncAllEndpoint(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{results: map[string]enginesync.Result{
		"cursor:work": {
			SourceID: "cursor:work",
			Mode:     synclog.ModeIncremental,
			Success:  true,
			Counts:   reconcile.Counts{Added: 2, Updated: 1},
		},
	}}
	handler := testHandler(syncer, nil, nil)

	rec := doRequest(t, handler, http.MethodPost, "/sync")
	require.Equal(t, http.StatusOK, rec.Code)

	var responses []SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &responses))
	require.Len(t, responses, 1)
	assert.Equal(t, "cursor:work", responses[0].SourceID)
	assert.Equal(t, "incremental", responses[0].Mode)
	assert.True(t, responses[0].Success)
	assert.Equal(t, 2, responses[0].Added)
	assert.Empty(t, syncer.allKinds)
}

func TestSyncAllEndpoint_KindFilter(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{results: map[string]enginesync.Result{}}
	handler := testHandler(syncer, nil, nil)

	rec := doRequest(t, handler, http.MethodPost, "/sync?kind=feed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []config.SourceKind{config.SourceKindFeed}, syncer.allKinds)

	rec = doRequest(t, handler, http.MethodPost, "/sync?kind=carrier-pigeon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncOneEndpoint(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{results: map[string]enginesync.Result{
		"feed:holidays": {
			SourceID: "feed:holidays",
			Mode:     synclog.ModeFeed,
			Success:  true,
			Counts:   reconcile.Counts{Deleted: 1},
		},
		"cursor:flaky": {
			SourceID: "cursor:flaky",
			Mode:     synclog.ModeIncremental,
			Err:      fmt.Errorf("connection reset"),
		},
		"cursor:off": {
			SourceID: "cursor:off",
			Err:      fmt.Errorf("%w: cursor:off", enginesync.ErrSourceDisabled),
		},
	}}
	handler := testHandler(syncer, nil, nil)

	rec := doRequest(t, handler, http.MethodPost, "/sync/feed:holidays")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Deleted)

	// A failed sync is a completed request with the outcome in the body
	rec = doRequest(t, handler, http.MethodPost, "/sync/cursor:flaky")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "connection reset")

	rec = doRequest(t, handler, http.MethodPost, "/sync/cursor:nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/sync/cursor:off")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogsEndpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := synclog.NewMemoryLog()
	id, err := log.Open(ctx, "cursor:work", synclog.ModeFull)
	require.NoError(t, err)
	require.NoError(t, log.Close(ctx, id, synclog.OutcomeSuccess, synclog.Counts{Added: 63}, ""))

	handler := testHandler(&fakeSyncer{}, log, nil)

	rec := doRequest(t, handler, http.MethodGet, "/logs?source=cursor:work")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LogsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, synclog.OutcomeSuccess, resp.Attempts[0].Outcome)
	assert.Equal(t, 63, resp.Attempts[0].Counts.Added)

	rec = doRequest(t, handler, http.MethodGet, "/logs?limit=banana")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := synclog.NewMemoryLog()
	for i, outcome := range []synclog.Outcome{synclog.OutcomeSuccess, synclog.OutcomeFailed} {
		id, err := log.Open(ctx, "cursor:work", synclog.ModeFull)
		require.NoError(t, err)
		require.NoError(t, log.Close(ctx, id, outcome, synclog.Counts{}, fmt.Sprintf("e%d", i)))
	}

	handler := testHandler(&fakeSyncer{}, log, nil)

	rec := doRequest(t, handler, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats synclog.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, synclog.Stats{Total: 2, Successful: 1, Failed: 1}, stats)
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eventStore := memory.New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, eventStore.Upsert(ctx, &events.CachedEvent{
		ID:             "standup",
		SourceID:       "cursor:work",
		Title:          "Standup",
		Start:          base,
		End:            base.Add(15 * time.Minute),
		RecurrenceRule: "FREQ=DAILY",
	}))

	handler := testHandler(&fakeSyncer{}, nil, eventStore)

	rec := doRequest(t, handler, http.MethodGet,
		"/events/cursor:work?from=2026-03-10T00:00:00Z&to=2026-03-12T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cursor:work", resp.SourceID)
	require.Len(t, resp.Occurrences, 2)
	assert.Equal(t, base.AddDate(0, 0, 8), resp.Occurrences[0].Start)

	rec = doRequest(t, handler, http.MethodGet, "/events/cursor:work?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodGet,
		"/events/cursor:work?from=2026-03-12T00:00:00Z&to=2026-03-10T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
