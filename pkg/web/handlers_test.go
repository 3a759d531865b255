package web_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/dukex/sellflow/pkg/mocks"
	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/persistence/file"
	"github.com/dukex/sellflow/pkg/registry"
	"github.com/dukex/sellflow/pkg/remote"
	"github.com/dukex/sellflow/pkg/web"
	"github.com/dukex/sellflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// shop is a two-stage remote: /scan recognizes a product, /publish creates it once an
// OTP has been confirmed through /publish/otp.
type shop struct {
	server   *httptest.Server
	publishs atomic.Int32
}

func newShop(t *testing.T) *shop {
	t.Helper()

	s := &shop{}
	mux := http.NewServeMux()

	mux.HandleFunc("/scan", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"product": map[string]any{"name": "Wireless Mouse"}})
	})
	mux.HandleFunc("/publish", func(w http.ResponseWriter, _ *http.Request) {
		s.publishs.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"requires_otp": true, "session_id": "sess-1"})
	})
	mux.HandleFunc("/publish/otp", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body["otp_code"] != "123456" || body["session_id"] != "sess-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid code"})

			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "product_id": "P-1", "name": body["name"]})
	})

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)

	return s
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *shop) stages() []models.Stage {
	return []models.Stage{
		{
			ID:        "scan",
			Label:     "Scan product",
			Inputs:    []models.InputSpec{{Key: "image", Type: models.InputTypeString}},
			Operation: models.OperationSpec{Name: "scan", URL: s.server.URL + "/scan"},
		},
		{
			ID:    "publish",
			Label: "Publish",
			Inputs: []models.InputSpec{
				{Key: "name", From: "scan", Field: "product.name"},
				{Key: "price", Type: models.InputTypeNumber},
			},
			Rules:      []string{"price > 0"},
			Operation:  models.OperationSpec{Name: "publish", URL: s.server.URL + "/publish"},
			Challenge:  &models.OperationSpec{Name: "publish_otp", URL: s.server.URL + "/publish/otp"},
			Idempotent: true,
		},
	}
}

func setupTestApp(t *testing.T) (*fiber.App, *shop) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s := newShop(t)

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.RegisterAll(s.stages()))

	persistence := file.NewPersistence(t.TempDir())
	runner := workflow.NewRunner(reg, remote.NewHTTPClient(logger), logger)
	manager := workflow.NewManager(reg, runner, logger, workflow.WithRepository(persistence.RunRepository()))

	t.Cleanup(func() { manager.Shutdown(t.Context()) })

	handlers := web.NewAPIHandlers(manager, reg, validator.New(validator.WithRequiredStructEnabled()), persistence)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)
	app.Get("/stages", handlers.GetStages)

	r := app.Group("/runs")
	r.Get("/", handlers.GetRuns)
	r.Post("/", handlers.CreateRun)
	r.Get("/:id", handlers.GetRun)
	r.Delete("/:id", handlers.DeleteRun)
	r.Get("/:id/indicator", handlers.GetIndicator)
	r.Post("/:id/submit", handlers.SubmitRun)
	r.Post("/:id/challenge", handlers.ResolveChallenge)
	r.Post("/:id/retry", handlers.RetryRun)
	r.Post("/:id/edit", handlers.EditRun)
	r.Post("/:id/reset", handlers.ResetRun)

	return app, s
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func decodeRun(t *testing.T, data []byte) web.RunResponse {
	t.Helper()

	var run web.RunResponse
	require.NoError(t, json.Unmarshal(data, &run), string(data))

	return run
}

func createRun(t *testing.T, app *fiber.App) web.RunResponse {
	t.Helper()

	status, data := do(t, app, http.MethodPost, "/runs", nil)
	require.Equal(t, http.StatusCreated, status, string(data))

	return decodeRun(t, data)
}

func TestAPIHandlers_GetStages(t *testing.T) {
	app, _ := setupTestApp(t)

	status, data := do(t, app, http.MethodGet, "/stages", nil)
	require.Equal(t, http.StatusOK, status)

	var stages []web.StageResponse
	require.NoError(t, json.Unmarshal(data, &stages))
	require.Len(t, stages, 2)

	assert.Equal(t, 1, stages[0].Position)
	assert.Equal(t, "scan", stages[0].ID)
	assert.False(t, stages[0].Challenge)

	assert.Equal(t, "publish", stages[1].ID)
	assert.Equal(t, []string{"name", "price"}, stages[1].Required)
	assert.True(t, stages[1].Challenge)
	assert.True(t, stages[1].Idempotent)
}

func TestAPIHandlers_RunLifecycle(t *testing.T) {
	app, s := setupTestApp(t)

	run := createRun(t, app)
	assert.Equal(t, models.RunStatusCollecting, run.Status)
	require.NotNil(t, run.Stage)
	assert.Equal(t, "scan", run.Stage.ID)
	assert.Equal(t, 1, run.Indicator.Current)
	assert.Equal(t, 2, run.Indicator.Total)

	base := "/runs/" + run.ID

	status, data := do(t, app, http.MethodPost, base+"/submit?wait=true", web.SubmitRequest{Input: map[string]any{"image": "aW1n"}})
	require.Equal(t, http.StatusOK, status, string(data))

	run = decodeRun(t, data)
	assert.Equal(t, models.RunStatusCollecting, run.Status)
	assert.Equal(t, 1, run.Pointer)
	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, "scan", run.Artifacts[0].StageID)

	status, data = do(t, app, http.MethodPost, base+"/submit", web.SubmitRequest{Input: map[string]any{"price": 0}})
	require.Equal(t, http.StatusUnprocessableEntity, status, string(data))

	run = decodeRun(t, data)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "price", run.Errors[0].Key)
	require.NotNil(t, run.LastError)
	assert.Equal(t, models.ErrorKindValidation, run.LastError.Kind)
	assert.Equal(t, int32(0), s.publishs.Load(), "invalid input never reaches the network")

	status, data = do(t, app, http.MethodPost, base+"/submit?wait=true", web.SubmitRequest{Input: map[string]any{"price": "1000"}})
	require.Equal(t, http.StatusOK, status, string(data))

	run = decodeRun(t, data)
	assert.Equal(t, models.RunStatusChallenged, run.Status)
	require.NotNil(t, run.Challenge)
	assert.Equal(t, models.ChallengeKindOTP, run.Challenge.Kind)
	assert.Equal(t, []string{"otp_code"}, run.Challenge.Prompt)

	status, _ = do(t, app, http.MethodPost, base+"/challenge", web.ChallengeRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, data = do(t, app, http.MethodPost, base+"/challenge", web.ChallengeRequest{Input: map[string]any{"sms": "1"}})
	require.Equal(t, http.StatusUnprocessableEntity, status, string(data))
	assert.Equal(t, "otp_code", decodeRun(t, data).Errors[0].Key)

	status, data = do(t, app, http.MethodPost, base+"/challenge?wait=true", web.ChallengeRequest{Input: map[string]any{"otp_code": "123456"}})
	require.Equal(t, http.StatusOK, status, string(data))

	run = decodeRun(t, data)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Nil(t, run.Stage)
	require.Len(t, run.Artifacts, 2)
	assert.Equal(t, "P-1", run.Artifacts[1].Data["product_id"])
	assert.Equal(t, "Wireless Mouse", run.Artifacts[1].Data["name"])
	assert.Equal(t, 100, run.Indicator.Percent)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, int32(1), s.publishs.Load())

	status, data = do(t, app, http.MethodGet, base+"/indicator", nil)
	require.Equal(t, http.StatusOK, status)

	var indicator models.StepIndicator
	require.NoError(t, json.Unmarshal(data, &indicator))
	assert.Equal(t, models.RunStatusCompleted, indicator.Status)
	assert.Equal(t, 2, indicator.Current)
}

func TestAPIHandlers_InvalidTransitions(t *testing.T) {
	app, _ := setupTestApp(t)

	run := createRun(t, app)

	status, data := do(t, app, http.MethodPost, "/runs/"+run.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(data), "invalid_transition")

	status, _ = do(t, app, http.MethodPost, "/runs/"+run.ID+"/challenge", web.ChallengeRequest{Input: map[string]any{"otp_code": "1"}})
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPIHandlers_ResetAndDelete(t *testing.T) {
	app, _ := setupTestApp(t)

	run := createRun(t, app)
	base := "/runs/" + run.ID

	status, data := do(t, app, http.MethodPost, base+"/submit?wait=true", web.SubmitRequest{Input: map[string]any{"image": "aW1n"}})
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = do(t, app, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, status, string(data))

	run = decodeRun(t, data)
	assert.Equal(t, models.RunStatusIdle, run.Status)
	assert.Empty(t, run.Artifacts)
	assert.Equal(t, 0, run.Indicator.Current)

	status, data = do(t, app, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), run.ID)

	status, _ = do(t, app, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, data = do(t, app, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(data), "run not found")
}

func TestAPIHandlers_BadRequests(t *testing.T) {
	app, _ := setupTestApp(t)

	run := createRun(t, app)

	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.ID+"/submit", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	status, _ := do(t, app, http.MethodPost, "/runs/"+run.ID+"/retry?wait=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/runs/missing/submit", web.SubmitRequest{})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	status, data := do(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status, string(data))

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "healthy", body["status"])

	checkers, ok := body["checkers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2 stages registered", checkers["registry"])
}

func TestAPIHandlers_HealthCheck_Unhealthy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.NewRegistry(logger)
	manager := workflow.NewManager(reg, workflow.NewRunner(reg, &mocks.MockInvoker{}, logger), logger)

	persistence := &mocks.MockPersistence{}
	persistence.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	handlers := web.NewAPIHandlers(manager, reg, validator.New(), persistence)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

	status, data := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, string(data), "connection refused")
	assert.Contains(t, string(data), "unhealthy")

	persistence.AssertExpectations(t)
}

func TestAPIHandlers_CreateRunWithoutStages(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.NewRegistry(logger)
	manager := workflow.NewManager(reg, workflow.NewRunner(reg, &mocks.MockInvoker{}, logger), logger)
	handlers := web.NewAPIHandlers(manager, reg, validator.New(), nil)

	app := fiber.New()
	app.Post("/runs", handlers.CreateRun)

	status, data := do(t, app, http.MethodPost, "/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(data), "no_stages")
}
