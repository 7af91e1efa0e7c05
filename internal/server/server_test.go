package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coilworks/optserve/internal/auth"
	"github.com/coilworks/optserve/internal/compute"
	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/orchestrator"
	memorystore "github.com/coilworks/optserve/internal/store/memory"
)

// stubCompute answers every compute call successfully.
type stubCompute struct {
	healthy bool
}

func (s *stubCompute) Optimize(ctx context.Context, req *compute.OptimizeRequest) (*compute.OptimizeResult, error) {
	return &compute.OptimizeResult{
		Success:         true,
		DesignVariables: []float64{0.4},
		ObjectiveValue:  1.25,
		Iterations:      50,
		Converged:       true,
	}, nil
}

func (s *stubCompute) EvaluatePerformance(ctx context.Context, req *compute.PerformanceRequest) (*compute.PerformanceResult, error) {
	return &compute.PerformanceResult{Success: true}, nil
}

func (s *stubCompute) CheckHealth(ctx context.Context) bool { return s.healthy }

type testAPI struct {
	stores  *memorystore.Store
	handler http.Handler
	user    uuid.UUID
	other   uuid.UUID
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	stores := memorystore.NewStore()
	orch := orchestrator.New(stores, &stubCompute{healthy: true})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	srv := New(stores, orch, &stubCompute{healthy: true})
	return &testAPI{
		stores:  stores,
		handler: srv.Routes(zerolog.Nop(), nil, true),
		user:    uuid.Must(uuid.NewV7()),
		other:   uuid.Must(uuid.NewV7()),
	}
}

// do performs a request as the given user and decodes the JSON response.
func (a *testAPI) do(t *testing.T, asUser uuid.UUID, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}

	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")
	if asUser != uuid.Nil {
		req.Header.Set("X-Acting-User", asUser.String())
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (a *testAPI) createValidatedConfiguration(t *testing.T) string {
	t.Helper()

	var cfg configurationResponse
	rec := a.do(t, a.user, http.MethodPost, "/api/v1/configurations", map[string]any{
		"name":    "hx-200",
		"payload": map[string]any{"tubes": 42},
	}, &cfg)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, a.user, http.MethodPost,
		fmt.Sprintf("/api/v1/configurations/%s/validate", cfg.ConfigurationID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	return cfg.ConfigurationID
}

func (a *testAPI) createScenario(t *testing.T, configurationID string) string {
	t.Helper()

	var sc scenarioResponse
	rec := a.do(t, a.user, http.MethodPost, "/api/v1/scenarios", map[string]any{
		"configuration_id": configurationID,
		"name":             "baseline",
		"objective":        "minimize_pressure_drop",
		"max_iterations":   50,
	}, &sc)
	require.Equal(t, http.StatusCreated, rec.Code)
	return sc.ScenarioID
}

func TestConfigurationLifecycle(t *testing.T) {
	api := newTestAPI(t)

	t.Run("create requires a name", func(t *testing.T) {
		rec := api.do(t, api.user, http.MethodPost, "/api/v1/configurations", map[string]any{
			"payload": map[string]any{},
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("create then validate", func(t *testing.T) {
		id := api.createValidatedConfiguration(t)

		cfg, err := api.stores.Configurations().Get(context.Background(), uuid.MustParse(id))
		require.NoError(t, err)
		require.True(t, cfg.Validated)
		require.Equal(t, api.user, cfg.OwnerID)
	})

	t.Run("validating another user's configuration is 404", func(t *testing.T) {
		id := api.createValidatedConfiguration(t)
		rec := api.do(t, api.other, http.MethodPost,
			fmt.Sprintf("/api/v1/configurations/%s/validate", id), nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestScenarioCreation(t *testing.T) {
	api := newTestAPI(t)
	cfgID := api.createValidatedConfiguration(t)

	t.Run("created with defaults", func(t *testing.T) {
		var sc scenarioResponse
		rec := api.do(t, api.user, http.MethodPost, "/api/v1/scenarios", map[string]any{
			"configuration_id": cfgID,
			"name":             "defaults",
			"objective":        "maximize_heat_transfer",
		}, &sc)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Equal(t, 100, sc.MaxIterations)
	})

	t.Run("another user's configuration is invisible", func(t *testing.T) {
		rec := api.do(t, api.other, http.MethodPost, "/api/v1/scenarios", map[string]any{
			"configuration_id": cfgID,
			"name":             "stolen",
			"objective":        "minimize_cost",
		}, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		rec := api.do(t, api.user, http.MethodPost, "/api/v1/scenarios", map[string]any{
			"configuration_id": cfgID,
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cfgID := api.createValidatedConfiguration(t)
	scenarioID := api.createScenario(t, cfgID)

	var job jobResponse
	rec := api.do(t, api.user, http.MethodPost,
		fmt.Sprintf("/api/v1/scenarios/%s/jobs", scenarioID), nil, &job)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, string(models.JobStatusPending), job.Status)

	// Poll until the async dispatch completes.
	require.Eventually(t, func() bool {
		var got jobResponse
		rec := api.do(t, api.user, http.MethodGet, "/api/v1/jobs/"+job.JobID, nil, &got)
		return rec.Code == http.StatusOK && got.Status == string(models.JobStatusCompleted)
	}, 5*time.Second, 10*time.Millisecond)

	t.Run("terminal job reads are cacheable", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.JobID, nil)
		req.Header.Set("X-Acting-User", api.user.String())
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Header().Get("Cache-Control"), "max-age")
	})

	t.Run("progress for the finished job", func(t *testing.T) {
		var progress progressResponse
		rec := api.do(t, api.user, http.MethodGet, "/api/v1/jobs/"+job.JobID+"/progress", nil, &progress)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, string(models.JobStatusCompleted), progress.Status)
		require.Equal(t, 100.0, progress.Percentage)
		require.Equal(t, 50, progress.MaxIterations)
	})

	t.Run("cancel after completion is a no-op success", func(t *testing.T) {
		rec := api.do(t, api.user, http.MethodPost, "/api/v1/jobs/"+job.JobID+"/cancel", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got jobResponse
		rec = api.do(t, api.user, http.MethodGet, "/api/v1/jobs/"+job.JobID, nil, &got)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, string(models.JobStatusCompleted), got.Status)
	})

	t.Run("other users cannot see the job", func(t *testing.T) {
		rec := api.do(t, api.other, http.MethodGet, "/api/v1/jobs/"+job.JobID, nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		rec = api.do(t, api.other, http.MethodPost, "/api/v1/jobs/"+job.JobID+"/cancel", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown job is 404", func(t *testing.T) {
		rec := api.do(t, api.user, http.MethodGet, "/api/v1/jobs/"+uuid.Must(uuid.NewV7()).String(), nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed job id is 400", func(t *testing.T) {
		rec := api.do(t, api.user, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthBoundary(t *testing.T) {
	t.Run("API requires an identity", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, uuid.Nil, http.MethodPost, "/api/v1/configurations", map[string]any{
			"name": "anonymous",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health endpoint is open", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, uuid.Nil, http.MethodGet, "/healthz", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bearer tokens authenticate when auth is on", func(t *testing.T) {
		secret := []byte("0123456789abcdef0123456789abcdef")
		stores := memorystore.NewStore()
		orch := orchestrator.New(stores, &stubCompute{healthy: true})
		t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })
		handler := New(stores, orch, &stubCompute{healthy: true}).Routes(zerolog.Nop(), secret, false)

		userID := uuid.Must(uuid.NewV7())
		token, err := auth.GenerateToken(userID, secret, time.Hour)
		require.NoError(t, err)

		body := bytes.NewBufferString(`{"name":"with token","payload":{}}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/configurations", body)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		// Same request without a token is rejected.
		req = httptest.NewRequest(http.MethodPost, "/api/v1/configurations",
			bytes.NewBufferString(`{"name":"no token"}`))
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
