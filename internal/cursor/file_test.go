package cursor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	// No prior cursor reads back as absent, not an error
	got, err := s.Get(ctx, "cursor:work")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set(ctx, "cursor:work", "tok-1"))
	got, err = s.Get(ctx, "cursor:work")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got)

	// Replacement, not accumulation
	require.NoError(t, s.Set(ctx, "cursor:work", "tok-2"))
	got, err = s.Get(ctx, "cursor:work")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got)
}

func TestFileStore_Clear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	require.NoError(t, s.Set(ctx, "cursor:work", "tok-1"))
	require.NoError(t, s.Clear(ctx, "cursor:work"))

	got, err := s.Get(ctx, "cursor:work")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Clearing an absent cursor is not an error
	assert.NoError(t, s.Clear(ctx, "cursor:never-seen"))
}

func TestFileStore_RejectsEmptyCursor(t *testing.T) {
	t.Parallel()

	s := NewFileStore(t.TempDir())
	assert.Error(t, s.Set(context.Background(), "cursor:work", ""))
}

func TestFileStore_SourcesAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	require.NoError(t, s.Set(ctx, "cursor:a", "tok-a"))
	require.NoError(t, s.Set(ctx, "cursor:b", "tok-b"))
	require.NoError(t, s.Clear(ctx, "cursor:a"))

	got, err := s.Get(ctx, "cursor:b")
	require.NoError(t, err)
	assert.Equal(t, "tok-b", got)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	s := NewFileStore(dir)
	require.NoError(t, s.Set(ctx, "cursor:work", "tok-42"))

	reopened := NewFileStore(dir)
	got, err := reopened.Get(ctx, "cursor:work")
	require.NoError(t, err)
	assert.Equal(t, "tok-42", got)
}
