package synclog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLog_OpenClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := NewMemoryLog()

	id, err := log.Open(ctx, "cursor:work", ModeFull)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Open attempts are pending, not completed
	recent, err := log.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Completed())
	assert.Equal(t, ModeFull, recent[0].Mode)

	counts := Counts{Added: 3, Updated: 1, Deleted: 2}
	require.NoError(t, log.Close(ctx, id, OutcomeSuccess, counts, ""))

	recent, err = log.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Completed())
	assert.Equal(t, OutcomeSuccess, recent[0].Outcome)
	assert.Equal(t, counts, recent[0].Counts)
}

func TestMemoryLog_CloseIsExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := NewMemoryLog()

	id, err := log.Open(ctx, "cursor:work", ModeIncremental)
	require.NoError(t, err)
	require.NoError(t, log.Close(ctx, id, OutcomeFailed, Counts{}, "network unreachable"))

	err = log.Close(ctx, id, OutcomeSuccess, Counts{}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")

	assert.ErrorIs(t, log.Close(ctx, "no-such-attempt", OutcomeFailed, Counts{}, ""), ErrAttemptNotFound)
}

func TestMemoryLog_RecentFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := NewMemoryLog()

	a1, _ := log.Open(ctx, "cursor:work", ModeFull)
	a2, _ := log.Open(ctx, "feed:holidays", ModeFeed)
	a3, _ := log.Open(ctx, "cursor:work", ModeIncremental)
	require.NoError(t, log.Close(ctx, a1, OutcomeSuccess, Counts{}, ""))
	require.NoError(t, log.Close(ctx, a2, OutcomeFailed, Counts{}, "boom"))
	require.NoError(t, log.Close(ctx, a3, OutcomeSuccess, Counts{}, ""))

	// Newest first
	recent, err := log.Recent(ctx, "cursor:work", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ModeIncremental, recent[0].Mode)
	assert.Equal(t, ModeFull, recent[1].Mode)

	// Limit applies after filtering
	recent, err = log.Recent(ctx, "cursor:work", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, ModeIncremental, recent[0].Mode)
}

func TestMemoryLog_StatsAreDerived(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := NewMemoryLog()

	a1, _ := log.Open(ctx, "cursor:work", ModeFull)
	a2, _ := log.Open(ctx, "cursor:work", ModeIncremental)
	a3, _ := log.Open(ctx, "feed:holidays", ModeFeed)
	pending, _ := log.Open(ctx, "cursor:work", ModeIncremental)
	_ = pending // never closed; must not count

	require.NoError(t, log.Close(ctx, a1, OutcomeSuccess, Counts{}, ""))
	require.NoError(t, log.Close(ctx, a2, OutcomeFailed, Counts{}, "boom"))
	require.NoError(t, log.Close(ctx, a3, OutcomeSuccess, Counts{}, ""))

	stats, err := log.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Successful: 2, Failed: 1}, stats)

	stats, err = log.Stats(ctx, "cursor:work")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Successful: 1, Failed: 1}, stats)

	stats, err = log.Stats(ctx, "cursor:unknown")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestMemoryLog_OpenRequiresSource(t *testing.T) {
	t.Parallel()

	_, err := NewMemoryLog().Open(context.Background(), "", ModeFull)
	assert.Error(t, err)
}
