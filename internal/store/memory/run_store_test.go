package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regdata/harvester/internal/harvest"
)

func TestRunStoreNewestFirst(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, harvest.RunStats{RunID: "run-1"}))
	require.NoError(t, store.SaveRun(ctx, harvest.RunStats{RunID: "run-2"}))
	require.NoError(t, store.SaveRun(ctx, harvest.RunStats{RunID: "run-3"}))

	runs, err := store.LastRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, "run-2", runs[1].RunID)

	all, err := store.LastRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
