package usage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store/memory"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

func newRedisCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func stat(userID int64, seconds float64, chars, words int) *models.UsageStat {
	return &models.UsageStat{
		UserID:          userID,
		FileType:        string(models.MediaKindVoice),
		FileSize:        2048,
		DurationSeconds: seconds,
		ProcessingTime:  1.5,
		Language:        "ar",
		TaskType:        models.TaskTranscribe,
		CharactersCount: chars,
		WordsCount:      words,
	}
}

func TestAppendRejectsInvalidStats(t *testing.T) {
	r := NewRecorder(memory.New(), nil, logging.NewNopLogger())
	ctx := context.Background()

	assert.ErrorIs(t, r.Append(ctx, stat(0, 60, 10, 2)), ErrInvalidStat)
	assert.ErrorIs(t, r.Append(ctx, stat(1, -1, 10, 2)), ErrInvalidStat)
	assert.ErrorIs(t, r.Append(ctx, stat(1, 60, -10, 2)), ErrInvalidStat)
}

func TestAppendAndSummary(t *testing.T) {
	st := memory.New()
	r := NewRecorder(st, nil, logging.NewNopLogger())
	ctx := context.Background()

	first := stat(1, 90, 300, 50)
	require.NoError(t, r.Append(ctx, first))
	assert.NotZero(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	require.NoError(t, r.Append(ctx, stat(1, 30, 100, 20)))
	require.NoError(t, r.Append(ctx, stat(2, 600, 1, 1)))

	summary, err := r.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Files)
	assert.InDelta(t, 2.0, summary.TotalMinutes, 1e-9)
	assert.Equal(t, int64(400), summary.Characters)
	assert.Equal(t, int64(70), summary.Words)
	require.NotNil(t, summary.LastUsedAt)
}

func TestSummaryIsCachedAndInvalidatedOnAppend(t *testing.T) {
	st := memory.New()
	c := newRedisCache(t)
	r := NewRecorder(st, c, logging.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, r.Append(ctx, stat(1, 60, 10, 2)))

	summary, err := r.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Files)

	cached, err := c.GetUsageSummary(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, int64(1), cached.Files)

	// A write straight to the store is invisible until the cache is invalidated.
	require.NoError(t, st.AppendUsage(ctx, stat(1, 60, 10, 2)))
	summary, err = r.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Files)

	require.NoError(t, r.Append(ctx, stat(1, 60, 10, 2)))
	summary, err = r.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Files)
}
