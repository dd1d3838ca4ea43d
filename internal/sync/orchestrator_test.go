package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempora-hq/calsync-server/internal/clients"
	"github.com/tempora-hq/calsync-server/internal/config"
	"github.com/tempora-hq/calsync-server/internal/cursor"
	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/reconcile"
	"github.com/tempora-hq/calsync-server/internal/remote"
	"github.com/tempora-hq/calsync-server/internal/store/memory"
	"github.com/tempora-hq/calsync-server/internal/synclog"
)

// fakeCursorClient scripts the cursor source behavior per test
type fakeCursorClient struct {
	fullCalls int
	incCalls  int

	full        func() (*clients.Batch, error)
	incremental func(cursor string) (*clients.Batch, error)
}

func (f *fakeCursorClient) FetchFull(_ context.Context) (*clients.Batch, error) {
	f.fullCalls++
	return f.full()
}

func (f *fakeCursorClient) FetchIncremental(_ context.Context, cursor string) (*clients.Batch, error) {
	f.incCalls++
	return f.incremental(cursor)
}

// fakeFeedClient scripts the feed source behavior per test
type fakeFeedClient struct {
	calls    int
	snapshot func() (*clients.Batch, error)
}

func (f *fakeFeedClient) FetchSnapshot(_ context.Context) (*clients.Batch, error) {
	f.calls++
	return f.snapshot()
}

// fakeFactory hands out the scripted clients by source name
type fakeFactory struct {
	cursors map[string]clients.CursorClient
	feeds   map[string]clients.FeedClient
}

func (f *fakeFactory) Cursor(src *config.SourceConfig) (clients.CursorClient, error) {
	c, ok := f.cursors[src.Name]
	if !ok {
		return nil, fmt.Errorf("no cursor client for %s", src.Name)
	}
	return c, nil
}

func (f *fakeFactory) Feed(src *config.SourceConfig) (clients.FeedClient, error) {
	c, ok := f.feeds[src.Name]
	if !ok {
		return nil, fmt.Errorf("no feed client for %s", src.Name)
	}
	return c, nil
}

func cursorSourceConfig(name string) config.SourceConfig {
	return config.SourceConfig{
		Name: name,
		API:  &config.APIConfig{Endpoint: "https://calendar.example.com", CalendarID: "primary"},
	}
}

func feedSourceConfig(name string) config.SourceConfig {
	return config.SourceConfig{
		Name: name,
		Feed: &config.FeedConfig{URL: "https://feeds.example.com/cal.ics"},
	}
}

func liveEvent(id string, hour int) events.RemoteEvent {
	start := time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC)
	return events.RemoteEvent{
		ID:     id,
		Title:  "Event " + id,
		Start:  start,
		End:    start.Add(time.Hour),
		Status: events.StatusConfirmed,
	}
}

func makeEvents(n int) []events.RemoteEvent {
	out := make([]events.RemoteEvent, n)
	for i := range out {
		out[i] = liveEvent(fmt.Sprintf("ev-%d", i), 1)
	}
	return out
}

// harness bundles the orchestrator with the stores the assertions inspect
type harness struct {
	orch    *Orchestrator
	cursors cursor.Store
	store   *memory.Store
	log     synclog.Log
}

func newHarness(t *testing.T, factory clients.Factory, sources ...config.SourceConfig) *harness {
	t.Helper()

	cfg := &config.Config{Sources: sources}
	eventStore := memory.New()
	cursors := cursor.NewFileStore(t.TempDir())
	log := synclog.NewMemoryLog()

	return &harness{
		orch:    New(cfg, factory, reconcile.New(eventStore), cursors, log),
		cursors: cursors,
		store:   eventStore,
		log:     log,
	}
}

func (h *harness) attempts(t *testing.T, sourceID string) []synclog.Attempt {
	t.Helper()
	attempts, err := h.log.Recent(context.Background(), sourceID, 0)
	require.NoError(t, err)
	return attempts
}

func TestSyncOne_FirstFullSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &fakeCursorClient{
		full: func() (*clients.Batch, error) {
			return &clients.Batch{Events: makeEvents(63), NextCursor: "tok-42"}, nil
		},
	}
	h := newHarness(t, &fakeFactory{cursors: map[string]clients.CursorClient{"cal-1": client}},
		cursorSourceConfig("cal-1"))

	res := h.orch.SyncOne(ctx, "cursor:cal-1")
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, synclog.ModeFull, res.Mode)
	assert.Equal(t, 63, res.Counts.Added)
	assert.False(t, res.Retried)

	stored, err := h.cursors.Get(ctx, "cursor:cal-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-42", stored)

	attempts := h.attempts(t, "cursor:cal-1")
	require.Len(t, attempts, 1)
	assert.Equal(t, synclog.OutcomeSuccess, attempts[0].Outcome)
	assert.Equal(t, synclog.Counts{Added: 63}, attempts[0].Counts)
}

func TestSyncOne_IncrementalStoresNewCursor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &fakeCursorClient{
		incremental: func(cur string) (*clients.Batch, error) {
			assert.Equal(t, "tok-1", cur)
			return &clients.Batch{Events: makeEvents(2), NextCursor: "tok-2"}, nil
		},
	}
	h := newHarness(t, &fakeFactory{cursors: map[string]clients.CursorClient{"cal-1": client}},
		cursorSourceConfig("cal-1"))
	require.NoError(t, h.cursors.Set(ctx, "cursor:cal-1", "tok-1"))

	res := h.orch.SyncOne(ctx, "cursor:cal-1")
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, synclog.ModeIncremental, res.Mode)
	assert.Equal(t, 0, client.fullCalls)

	stored, err := h.cursors.Get(ctx, "cursor:cal-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", stored)
}

func TestSyncOne_InvalidationRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &fakeCursorClient{
		incremental: func(string) (*clients.Batch, error) {
			return nil, fmt.Errorf("page 1: %w", remote.ErrCursorInvalidated)
		},
		full: func() (*clients.Batch, error) {
			return &clients.Batch{Events: makeEvents(5), NextCursor: "tok-fresh"}, nil
		},
	}
	h := newHarness(t, &fakeFactory{cursors: map[string]clients.CursorClient{"cal-1": client}},
		cursorSourceConfig("cal-1"))
	require.NoError(t, h.cursors.Set(ctx, "cursor:cal-1", "tok-stale"))

	res := h.orch.SyncOne(ctx, "cursor:cal-1")
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.True(t, res.Retried)
	assert.Equal(t, synclog.ModeFull, res.Mode)
	assert.Equal(t, 5, res.Counts.Added)
	assert.Equal(t, 1, client.incCalls)
	assert.Equal(t, 1, client.fullCalls)

	// Cursor was cleared then repopulated by the retry pass
	stored, err := h.cursors.Get(ctx, "cursor:cal-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", stored)

	// Exactly two attempts: the failed incremental and the successful full
	attempts := h.attempts(t, "cursor:cal-1")
	require.Len(t, attempts, 2)
	assert.Equal(t, synclog.OutcomeSuccess, attempts[0].Outcome)
	assert.Equal(t, synclog.ModeFull, attempts[0].Mode)
	assert.Equal(t, synclog.OutcomeFailed, attempts[1].Outcome)
	assert.Equal(t, synclog.ModeIncremental, attempts[1].Mode)
}

func TestSyncOne_InvalidationLoopBound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &fakeCursorClient{
		incremental: func(string) (*clients.Batch, error) {
			return nil, fmt.Errorf("page 1: %w", remote.ErrCursorInvalidated)
		},
		full: func() (*clients.Batch, error) {
			return nil, fmt.Errorf("page 1: %w", remote.ErrCursorInvalidated)
		},
	}
	h := newHarness(t, &fakeFactory{cursors: map[string]clients.CursorClient{"cal-1": client}},
		cursorSourceConfig("cal-1"))
	require.NoError(t, h.cursors.Set(ctx, "cursor:cal-1", "tok-stale"))

	res := h.orch.SyncOne(ctx, "cursor:cal-1")
	assert.False(t, res.Success)
	require.Error(t, res.Err)

	// One retry, never more
	assert.Equal(t, 1, client.incCalls)
	assert.Equal(t, 1, client.fullCalls)
	require.Len(t, h.attempts(t, "cursor:cal-1"), 2)
}

func TestSyncOne_FeedFullReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	snapshots := [][]events.RemoteEvent{
		{liveEvent("e1", 9), liveEvent("e2", 10)},
		{liveEvent("e1", 9)},
	}
	client := &fakeFeedClient{
		snapshot: func() (*clients.Batch, error) {
			batch := &clients.Batch{Events: snapshots[0]}
			snapshots = snapshots[1:]
			return batch, nil
		},
	}
	h := newHarness(t, &fakeFactory{feeds: map[string]clients.FeedClient{"holidays": client}},
		feedSourceConfig("holidays"))

	res := h.orch.SyncOne(ctx, "feed:holidays")
	require.NoError(t, res.Err)
	assert.Equal(t, synclog.ModeFeed, res.Mode)
	assert.Equal(t, reconcile.Counts{Added: 2}, res.Counts)

	// The second snapshot dropped e2; full replacement deletes it
	res = h.orch.SyncOne(ctx, "feed:holidays")
	require.NoError(t, res.Err)
	assert.Equal(t, reconcile.Counts{Updated: 1, Deleted: 1}, res.Counts)

	ids, err := h.store.ListIDs(ctx, "feed:holidays")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids)
}

func TestSyncOne_NetworkFailureLeavesCursorIntact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &fakeCursorClient{
		incremental: func(string) (*clients.Batch, error) {
			return nil, fmt.Errorf("connection reset")
		},
	}
	h := newHarness(t, &fakeFactory{cursors: map[string]clients.CursorClient{"cal-1": client}},
		cursorSourceConfig("cal-1"))
	require.NoError(t, h.cursors.Set(ctx, "cursor:cal-1", "tok-1"))

	res := h.orch.SyncOne(ctx, "cursor:cal-1")
	assert.False(t, res.Success)
	require.Error(t, res.Err)
	assert.False(t, res.Retried)

	stored, err := h.cursors.Get(ctx, "cursor:cal-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored)

	attempts := h.attempts(t, "cursor:cal-1")
	require.Len(t, attempts, 1)
	assert.Equal(t, synclog.OutcomeFailed, attempts[0].Outcome)
	assert.Contains(t, attempts[0].ErrorMessage, "connection reset")
}

func TestSyncOne_ReconcileFailureClearsCursor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &fakeCursorClient{
		incremental: func(string) (*clients.Batch, error) {
			return &clients.Batch{Events: makeEvents(1), NextCursor: "tok-2"}, nil
		},
	}
	h := newHarness(t, &fakeFactory{cursors: map[string]clients.CursorClient{"cal-1": client}},
		cursorSourceConfig("cal-1"))
	require.NoError(t, h.cursors.Set(ctx, "cursor:cal-1", "tok-1"))

	h.orch.reconciler = reconcile.New(&rejectingStore{Store: h.store})

	res := h.orch.SyncOne(ctx, "cursor:cal-1")
	assert.False(t, res.Success)
	require.Error(t, res.Err)

	// A partially applied incremental batch may be ahead of the stored
	// cursor, so the cursor is dropped and the next pass goes full
	stored, err := h.cursors.Get(ctx, "cursor:cal-1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	attempts := h.attempts(t, "cursor:cal-1")
	require.Len(t, attempts, 1)
	assert.Equal(t, synclog.OutcomeFailed, attempts[0].Outcome)
}

func TestSyncOne_UnknownAndDisabledSources(t *testing.T) {
	t.Parallel()

	disabled := false
	src := cursorSourceConfig("cal-1")
	src.Enabled = &disabled
	h := newHarness(t, &fakeFactory{}, src)

	res := h.orch.SyncOne(context.Background(), "cursor:nope")
	assert.ErrorIs(t, res.Err, ErrSourceNotFound)

	res = h.orch.SyncOne(context.Background(), "cursor:cal-1")
	assert.ErrorIs(t, res.Err, ErrSourceDisabled)

	assert.Empty(t, h.attempts(t, ""))
}

func TestSyncAll_FansOutAndFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cursorClient := &fakeCursorClient{
		full: func() (*clients.Batch, error) {
			return &clients.Batch{Events: makeEvents(1), NextCursor: "tok-1"}, nil
		},
	}
	feedClient := &fakeFeedClient{
		snapshot: func() (*clients.Batch, error) {
			return &clients.Batch{Events: makeEvents(2)}, nil
		},
	}
	disabled := false
	disabledSrc := cursorSourceConfig("ghost")
	disabledSrc.Enabled = &disabled

	h := newHarness(t,
		&fakeFactory{
			cursors: map[string]clients.CursorClient{"cal-1": cursorClient},
			feeds:   map[string]clients.FeedClient{"holidays": feedClient},
		},
		cursorSourceConfig("cal-1"), feedSourceConfig("holidays"), disabledSrc)

	results := h.orch.SyncAll(ctx)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Success, "source %s", res.SourceID)
	}

	// Kind filter only touches matching sources
	results = h.orch.SyncAll(ctx, config.SourceKindFeed)
	require.Len(t, results, 1)
	assert.Equal(t, "feed:holidays", results[0].SourceID)
	assert.Equal(t, 2, feedClient.calls)
	assert.Equal(t, 1, cursorClient.fullCalls)
}

func TestSyncAll_SiblingFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	cursorClient := &fakeCursorClient{
		full: func() (*clients.Batch, error) {
			return nil, fmt.Errorf("remote down")
		},
	}
	feedClient := &fakeFeedClient{
		snapshot: func() (*clients.Batch, error) {
			return &clients.Batch{Events: makeEvents(1)}, nil
		},
	}
	h := newHarness(t,
		&fakeFactory{
			cursors: map[string]clients.CursorClient{"cal-1": cursorClient},
			feeds:   map[string]clients.FeedClient{"holidays": feedClient},
		},
		cursorSourceConfig("cal-1"), feedSourceConfig("holidays"))

	results := h.orch.SyncAll(context.Background())
	require.Len(t, results, 2)

	byID := make(map[string]Result, len(results))
	for _, res := range results {
		byID[res.SourceID] = res
	}
	assert.False(t, byID["cursor:cal-1"].Success)
	assert.True(t, byID["feed:holidays"].Success)
}

func TestSyncOne_CoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	release := make(chan struct{})
	client := &fakeCursorClient{
		full: func() (*clients.Batch, error) {
			<-release
			return &clients.Batch{Events: makeEvents(3), NextCursor: "tok-1"}, nil
		},
	}
	h := newHarness(t, &fakeFactory{cursors: map[string]clients.CursorClient{"cal-1": client}},
		cursorSourceConfig("cal-1"))

	first := make(chan Result, 1)
	go func() {
		first <- h.orch.SyncOne(ctx, "cursor:cal-1")
	}()

	// Wait until the first call is in flight
	require.Eventually(t, func() bool {
		h.orch.mu.Lock()
		defer h.orch.mu.Unlock()
		return len(h.orch.inflight) == 1
	}, time.Second, time.Millisecond)

	second := make(chan Result, 1)
	go func() {
		second <- h.orch.SyncOne(ctx, "cursor:cal-1")
	}()
	close(release)

	res1 := <-first
	res2 := <-second
	assert.True(t, res1.Success)
	assert.Equal(t, res1, res2)

	// Only one pass actually ran
	assert.Equal(t, 1, client.fullCalls)
	require.Len(t, h.attempts(t, "cursor:cal-1"), 1)
}

// rejectingStore fails every upsert
type rejectingStore struct {
	*memory.Store
}

func (*rejectingStore) Upsert(_ context.Context, _ *events.CachedEvent) error {
	return fmt.Errorf("constraint violation")
}
