package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestSummaryEmpty(t *testing.T) {
	s := openTestStore(t)
	sum, err := s.Summary(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, sum.MindfulSeconds)
	assert.Zero(t, sum.Completions)
	assert.Empty(t, sum.Recent)
}

func TestRecordAndSummarize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	require.NoError(t, s.RecordListening(ctx, "focus", 90*time.Second))
	require.NoError(t, s.RecordListening(ctx, "", 30*time.Second))
	require.NoError(t, s.RecordListening(ctx, "focus", 0))

	first, err := s.RecordCompletion(ctx, "focus", "Focus", 310*time.Second)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	assert.NoError(t, err)
	second, err := s.RecordCompletion(ctx, "sleep", "Sleep", 2400*time.Second)
	require.NoError(t, err)

	sum, err := s.Summary(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 120, sum.MindfulSeconds, 1e-9)
	assert.Equal(t, 2, sum.Completions)
	require.Len(t, sum.Recent, 1)
	assert.Equal(t, second, sum.Recent[0].ID)
	assert.Equal(t, "Sleep", sum.Recent[0].SessionName)
	assert.Equal(t, base.Add(4*time.Minute), sum.Recent[0].CompletedAt)

	_, err = s.RecordCompletion(ctx, "", "x", time.Minute)
	assert.Error(t, err)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordListening(context.Background(), "focus", time.Minute))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	sum, err := s.Summary(context.Background(), 10)
	require.NoError(t, err)
	assert.InDelta(t, 60, sum.MindfulSeconds, 1e-9)
}
