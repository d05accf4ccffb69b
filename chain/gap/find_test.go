package gap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/model/visor"
	"github.com/l2-l1-causal-impact/bridge/storage"
	"github.com/l2-l1-causal-impact/bridge/testutil"
)

func days(dd ...int) []time.Time {
	out := make([]time.Time, len(dd))
	for i, d := range dd {
		out[i] = testutil.Day(2024, time.January, d)
	}
	return out
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewMockClock()

	t.Run("contiguous series has no gaps", func(t *testing.T) {
		gaps, err := NewFinder(t.Name(), "daily_aggregates", time.Time{}, time.Time{}).WithClock(clk).Find(ctx, days(3, 1, 2, 4))
		require.NoError(t, err)
		assert.Empty(t, gaps)
	})

	t.Run("interior gaps", func(t *testing.T) {
		gaps, err := NewFinder(t.Name(), "daily_aggregates", time.Time{}, time.Time{}).WithClock(clk).Find(ctx, days(1, 2, 5, 7))
		require.NoError(t, err)
		assert.Equal(t, days(3, 4, 6), gaps.Dates())
		for _, g := range gaps {
			assert.Equal(t, visor.GapStatusMissing, g.Status)
			assert.Equal(t, "daily_aggregates", g.Task)
			assert.Equal(t, t.Name(), g.Reporter)
			assert.Equal(t, testutil.KnownTime, g.ReportedAt)
		}
	})

	t.Run("requested range widens the search", func(t *testing.T) {
		gaps, err := NewFinder(t.Name(), "daily_aggregates", testutil.Day(2024, time.January, 1), testutil.Day(2024, time.January, 6)).
			WithClock(clk).Find(ctx, days(3, 4))
		require.NoError(t, err)
		assert.Equal(t, days(1, 2, 5, 6), gaps.Dates())
	})

	t.Run("timestamps within a day count for that day", func(t *testing.T) {
		dates := []time.Time{
			testutil.Day(2024, time.January, 1).Add(23 * time.Hour),
			testutil.Day(2024, time.January, 2),
			testutil.Day(2024, time.January, 2).Add(time.Minute),
		}
		gaps, err := NewFinder(t.Name(), "blocks", time.Time{}, time.Time{}).Find(ctx, dates)
		require.NoError(t, err)
		assert.Empty(t, gaps)
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := NewFinder(t.Name(), "blocks", testutil.Day(2024, time.January, 5), testutil.Day(2024, time.January, 1)).Find(ctx, nil)
		require.Error(t, err)
	})

	t.Run("empty series without range", func(t *testing.T) {
		gaps, err := NewFinder(t.Name(), "blocks", time.Time{}, time.Time{}).Find(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, gaps)
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	strg := storage.NewMemStorageLatest()

	gaps, err := NewFinder(t.Name(), "daily_aggregates", time.Time{}, time.Time{}).Check(ctx, strg, days(1, 3))
	require.Error(t, err)

	var gerr *GapError
	require.True(t, xerrors.As(err, &gerr))
	assert.Equal(t, days(2), gerr.Missing)
	assert.Contains(t, gerr.Error(), "2024-01-02")
	assert.Len(t, gaps, 1)
	assert.Len(t, strg.Rows("gap_reports"), 1)

	gaps, err = NewFinder(t.Name(), "daily_aggregates", time.Time{}, time.Time{}).Check(ctx, strg, days(1, 2, 3))
	require.NoError(t, err)
	assert.Empty(t, gaps)
}
