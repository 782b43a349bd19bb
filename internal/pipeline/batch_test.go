package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swac-vis/africa-rural-atlas/internal/model"
	"github.com/swac-vis/africa-rural-atlas/internal/region"
	"github.com/swac-vis/africa-rural-atlas/internal/store"
)

func newBatchRunner(t *testing.T) (*Runner, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	resolver, err := region.NewResolver(region.Default())
	require.NoError(t, err)

	r, err := New(testConfig(), st, resolver)
	require.NoError(t, err)
	return r, st
}

func scenarioLoader(t *testing.T, failing map[string]error) LoaderFunc {
	t.Helper()
	return func(ctx context.Context, scope string) (*ScopeInput, error) {
		if err, ok := failing[scope]; ok {
			return nil, err
		}
		return scenarioInput(t, scope), nil
	}
}

func TestRunBatch_RollsUpRegions(t *testing.T) {
	r, st := newBatchRunner(t)
	ctx := context.Background()

	res, err := r.RunBatch(ctx, []string{"Niger", "Mali"}, scenarioLoader(t, nil))
	require.NoError(t, err)

	require.Len(t, res.Scopes, 2)
	assert.Equal(t, "Mali", res.Scopes[0].Scope)
	assert.Equal(t, "Niger", res.Scopes[1].Scope)

	require.Len(t, res.Regions, 1)
	west := res.Regions[0]
	assert.Equal(t, "West Africa", west.Region)
	assert.Equal(t, []string{"Niger", "Mali"}, west.Members)
	assert.InDelta(t, 1200, west.TotalPopulation, 1e-9)
	assert.InDelta(t, 800, west.UrbanPopulation, 1e-9)
	assert.InDelta(t, 400, west.RuralPopulation, 1e-9)
	// Shares are recomputed from the regional totals, not averaged.
	assert.InDelta(t, 0.5, west.Bands[0].UrbanShare, 1e-9)
	assert.InDelta(t, 0.75, west.Cumulative[0].UrbanShare, 1e-9)

	// Members of the region with no data in this run are reported, never
	// silently dropped.
	assert.Contains(t, res.Audit.MissingMembers["West Africa"], "Ghana")
	assert.Empty(t, res.Audit.UnmappedScopes)
	assert.Empty(t, res.Audit.ExcludedScopes)

	run, err := st.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Audit)

	stored, err := st.ListScopeResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	regions, err := st.ListRegionResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "West Africa", regions[0].Region)
}

func TestRunBatch_FailedScopeIsExcluded(t *testing.T) {
	r, st := newBatchRunner(t)
	ctx := context.Background()

	failing := map[string]error{"Chad": eris.New("population raster missing")}
	res, err := r.RunBatch(ctx, []string{"Niger", "Mali", "Chad"}, scenarioLoader(t, failing))
	require.NoError(t, err)

	require.Len(t, res.Scopes, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "Chad", res.Failures[0].Scope)
	assert.Equal(t, []string{"Chad"}, res.Audit.ExcludedScopes)

	// Central Africa had only the failed scope, so no rollup is produced.
	require.Len(t, res.Regions, 1)
	assert.Equal(t, "West Africa", res.Regions[0].Region)

	failures, err := st.ListScopeFailures(ctx, res.Run.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "Chad", failures[0].Scope)

	run, err := st.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
}

func TestRunBatch_UnmappedScopeIsAudited(t *testing.T) {
	r, _ := newBatchRunner(t)

	res, err := r.RunBatch(context.Background(), []string{"Niger", "Atlantis"}, scenarioLoader(t, nil))
	require.NoError(t, err)

	require.Len(t, res.Scopes, 2)
	assert.Equal(t, []string{"Atlantis"}, res.Audit.UnmappedScopes)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, []string{"Niger"}, res.Regions[0].Members)
}

func TestRunBatch_AllScopesFailed(t *testing.T) {
	r, st := newBatchRunner(t)
	ctx := context.Background()

	failing := map[string]error{"Niger": eris.New("boom"), "Mali": eris.New("boom")}
	res, err := r.RunBatch(ctx, []string{"Niger", "Mali"}, scenarioLoader(t, failing))
	require.NoError(t, err)

	assert.Empty(t, res.Scopes)
	assert.Empty(t, res.Regions)
	assert.Len(t, res.Failures, 2)

	run, err := st.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Audit)
	assert.Len(t, run.Audit.ExcludedScopes, 2)
}

func TestRunBatch_NoScopes(t *testing.T) {
	r, _ := newBatchRunner(t)
	_, err := r.RunBatch(context.Background(), nil, scenarioLoader(t, nil))
	assert.Error(t, err)
}
