package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/config"
	"github.com/swac-vis/africa-rural-atlas/internal/model"
	"github.com/swac-vis/africa-rural-atlas/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	s, err := New(config.ServerConfig{RateLimit: 1000, RateBurst: 1000}, st)
	require.NoError(t, err)
	return s, st
}

func seedRun(t *testing.T, st store.Store) *model.Run {
	t.Helper()
	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.RunParams{Scopes: []string{"Niger"}, Policy: "sign"})
	require.NoError(t, err)
	require.NoError(t, st.SaveScopeResult(ctx, run.ID, &aggregate.ScopeResult{
		Scope:           "Niger",
		TotalPopulation: 600,
	}))
	require.NoError(t, st.SaveRegionResult(ctx, run.ID, &aggregate.RegionResult{
		Region:  "West Africa",
		Members: []string{"Niger"},
	}))
	require.NoError(t, st.CompleteRun(ctx, run.ID, &aggregate.Audit{}))
	return run
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Router(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServer_GetRun(t *testing.T) {
	s, st := newTestServer(t)
	run := seedRun(t, st)

	rec := get(t, s.Router(), "/api/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunStatusComplete, got.Status)
}

func TestServer_GetRun_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Router(), "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListRuns(t *testing.T) {
	s, st := newTestServer(t)
	seedRun(t, st)
	seedRun(t, st)

	rec := get(t, s.Router(), "/api/runs?status=complete")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Runs []model.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Runs, 2)

	rec = get(t, s.Router(), "/api/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Scopes(t *testing.T) {
	s, st := newTestServer(t)
	run := seedRun(t, st)

	rec := get(t, s.Router(), "/api/runs/"+run.ID+"/scopes")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Scopes []aggregate.ScopeResult `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Scopes, 1)
	assert.Equal(t, 600.0, list.Scopes[0].TotalPopulation)

	rec = get(t, s.Router(), "/api/runs/"+run.ID+"/scopes/Niger")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, s.Router(), "/api/runs/"+run.ID+"/scopes/Atlantis")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Regions(t *testing.T) {
	s, st := newTestServer(t)
	run := seedRun(t, st)

	rec := get(t, s.Router(), "/api/runs/"+run.ID+"/regions")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Regions []aggregate.RegionResult `json:"regions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Regions, 1)
	assert.Equal(t, "West Africa", list.Regions[0].Region)
}

func TestServer_RateLimit(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	s, err := New(config.ServerConfig{RateLimit: 1, RateBurst: 1}, st)
	require.NoError(t, err)
	router := s.Router()

	assert.Equal(t, http.StatusOK, get(t, router, "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, router, "/health").Code)
}

func TestServer_RequiresStore(t *testing.T) {
	_, err := New(config.ServerConfig{}, nil)
	assert.Error(t, err)
}
