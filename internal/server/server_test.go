package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/descent/internal/config"
	apperrors "github.com/copyleftdev/descent/internal/errors"
	"github.com/copyleftdev/descent/internal/logging"
	"github.com/copyleftdev/descent/internal/metrics"
	"github.com/copyleftdev/descent/internal/optimization/solver"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Environment: "test"}
	cfg.HTTP.Port = 8080
	cfg.Logging.Level = "debug"
	cfg.Optimization.WorkerCount = 2
	cfg.Optimization.DefaultMethod = "lbfgs"
	cfg.Optimization.JobRetention = time.Hour
	require.NoError(t, cfg.Validate())
	return cfg
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.DebugLevel, io.Discard)
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *metrics.Metrics, http.Handler) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	srv := NewServer(cfg, testLogger(t), m)
	t.Cleanup(func() { _ = srv.Close() })
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, m, r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, rd))
	return rr
}

func waitTerminal(t *testing.T, srv *Server, id string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = srv.Status(id)
		require.NoError(t, err)
		return job.Status.Terminal()
	}, 10*time.Second, 5*time.Millisecond)
	return job
}

func TestRegisterRoutes(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t))

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/optimize", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/optimization/123", true},
		{"GET", "/api/v1/problems", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := do(t, r, tt.method, tt.path, "")
			// Unknown jobs also answer 404, so only the body distinguishes them.
			routed := rr.Code != http.StatusNotFound || strings.Contains(rr.Body.String(), "not found\"")
			assert.Equal(t, tt.shouldExist, routed, "status %d body %q", rr.Code, rr.Body.String())
		})
	}
}

func TestOptimizeLifecycle(t *testing.T) {
	srv, m, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/api/v1/optimize",
		`{"method": "bfgs", "problem": "booth", "history": true}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var started map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&started))
	id := started["optimization_id"]
	require.NotEmpty(t, id)

	job := waitTerminal(t, srv, id)
	require.Equal(t, StatusCompleted, job.Status, job.Error)
	require.NotNil(t, job.Result)
	assert.True(t, job.Result.Converged)
	assert.InDeltaSlice(t, []float64{1, 3}, job.Result.X, 1e-4)
	assert.Len(t, job.Result.History, job.Result.Iterations)
	assert.NotNil(t, job.Started)
	assert.NotNil(t, job.Ended)

	rr = do(t, r, http.MethodGet, "/api/v1/status/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Status string         `json:"status"`
		Method string         `json:"method"`
		Result *solver.Report `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "completed", body.Status)
	assert.Equal(t, "bfgs", body.Method)
	assert.Equal(t, "GradientThreshold", body.Result.Status)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Solves.WithLabelValues("bfgs", metrics.OutcomeConverged)) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Active))

	rr = do(t, r, http.MethodDelete, "/api/v1/optimization/"+id, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestOptimizeDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.DefaultMethod = "trust-dogleg"
	srv, _, _ := newTestServer(t, cfg)

	job, err := srv.Start(OptimizeRequest{Request: solver.Request{Problem: "sphere"}})
	require.NoError(t, err)
	assert.Equal(t, solver.TrustDogleg, job.Method)

	job = waitTerminal(t, srv, job.ID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Nil(t, job.Result.History)
}

func TestOptimizeRejectsBadRequests(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t))

	cases := []struct {
		name string
		body string
		code int
		kind string
	}{
		{"malformed", `{"problem":`, http.StatusBadRequest, ""},
		{"unknown problem", `{"problem": "nope"}`, http.StatusBadRequest, "invalid argument"},
		{"unknown method", `{"method": "annealing", "problem": "booth"}`, http.StatusBadRequest, "invalid argument"},
		{"constraints on bfgs", `{"method": "bfgs", "problem": "booth", "constraints": [{"a": [1, 1], "b": 1}]}`,
			http.StatusBadRequest, "unsupported constraint"},
		{"wrong start", `{"problem": "booth", "start": [1, 2, 3]}`, http.StatusBadRequest, "dimension mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, "/api/v1/optimize", tc.body)
			assert.Equal(t, tc.code, rr.Code)
			var body apperrors.Body
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tc.kind, body.Kind)
		})
	}
}

func TestSolveFailureIsReportedOnJob(t *testing.T) {
	srv, m, _ := newTestServer(t, testConfig(t))

	// The quadratic starts at the origin, on the barrier's boundary.
	job, err := srv.Start(OptimizeRequest{
		Method: "barrier",
		Request: solver.Request{
			Problem: solver.QuadraticProblem,
			A:       [][]float64{{2, 0}, {0, 2}},
			B:       []float64{1, 1},
			Lower:   []float64{0, 0},
		},
	})
	require.NoError(t, err)

	job = waitTerminal(t, srv, job.ID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "infeasible start", job.ErrorKind)
	assert.Nil(t, job.Result)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Solves.WithLabelValues("barrier", metrics.OutcomeError)) == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCancelQueuedJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.WorkerCount = 1
	srv, m, r := newTestServer(t, cfg)

	// Occupy the only worker so the job stays queued.
	srv.slots <- struct{}{}
	job, err := srv.Start(OptimizeRequest{Method: "lbfgs", Request: solver.Request{Problem: "rosenbrock"}})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	rr := do(t, r, http.MethodDelete, "/api/v1/optimization/"+job.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	<-srv.slots
	require.NoError(t, srv.Close())

	job, err = srv.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Nil(t, job.Result)
	assert.Nil(t, job.Started)
	assert.Equal(t, 0, testutil.CollectAndCount(m.Solves))

	_, err = srv.Cancel(job.ID)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))
}

func TestUnknownJob(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t))
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/v1/status/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/api/v1/optimization/missing", "").Code)
}

func TestRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.JobRetention = time.Minute
	srv, _, _ := newTestServer(t, cfg)
	var offset atomic.Int64
	srv.now = func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }

	old, err := srv.Start(OptimizeRequest{Request: solver.Request{Problem: "sphere"}})
	require.NoError(t, err)
	waitTerminal(t, srv, old.ID)

	offset.Store(int64(2 * time.Minute))
	fresh, err := srv.Start(OptimizeRequest{Request: solver.Request{Problem: "sphere"}})
	require.NoError(t, err)

	_, err = srv.Status(old.ID)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
	_, err = srv.Status(fresh.ID)
	assert.NoError(t, err)
}

func TestStartAfterClose(t *testing.T) {
	srv, _, _ := newTestServer(t, testConfig(t))
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	_, err := srv.Start(OptimizeRequest{Request: solver.Request{Problem: "sphere"}})
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))
}

func TestProblems(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t))
	rr := do(t, r, http.MethodGet, "/api/v1/problems", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var catalog struct {
		Problems []struct {
			Name       string `json:"name"`
			DefaultDim int    `json:"default_dim"`
		} `json:"problems"`
		Methods []string `json:"methods"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&catalog))
	var names []string
	for _, p := range catalog.Problems {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "rosenbrock")
	assert.Contains(t, names, "booth")
	assert.Contains(t, catalog.Methods, "sqp")
	assert.Contains(t, catalog.Methods, "nelder-mead")
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func rpc(t *testing.T, h http.Handler, body string) rpcResponse {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/rpc", body)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp rpcResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestJSONRPC(t *testing.T) {
	srv, _, r := newTestServer(t, testConfig(t))

	resp := rpc(t, r, `{"jsonrpc": "2.0", "id": 1, "method": "optimization.start",
		"params": [{"method": "sqp", "problem": "quadratic", "a": [[2, 0], [0, 2]], "b": [0, 0],
		"constraints": [{"kind": "eq", "a": [1, 1], "b": 1}]}]}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(1), resp.ID)
	var started struct {
		ID string `json:"optimization_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &started))
	waitTerminal(t, srv, started.ID)

	resp = rpc(t, r, `{"jsonrpc": "2.0", "id": "s", "method": "optimization.status",
		"params": {"optimization_id": "`+started.ID+`"}}`)
	require.Nil(t, resp.Error)
	var job Job
	require.NoError(t, json.Unmarshal(resp.Result, &job))
	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, job.Result.X, 1e-6)
	require.NotNil(t, job.Result.Multipliers)
	assert.InDelta(t, -1, job.Result.Multipliers.Equality[0], 1e-6)

	resp = rpc(t, r, `{"jsonrpc": "2.0", "id": 3, "method": "optimization.cancel",
		"params": {"optimization_id": "`+started.ID+`"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerError, resp.Error.Code)

	resp = rpc(t, r, `{"jsonrpc": "2.0", "id": 4, "method": "optimization.problems"}`)
	require.Nil(t, resp.Error)
	assert.True(t, bytes.Contains(resp.Result, []byte(`"himmelblau"`)))
}

func TestJSONRPCErrors(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t))

	cases := []struct {
		name string
		body string
		code int
	}{
		{"parse", `{"jsonrpc":`, codeParseError},
		{"version", `{"jsonrpc": "1.0", "id": 1, "method": "optimization.problems"}`, codeInvalidRequest},
		{"method", `{"jsonrpc": "2.0", "id": 1, "method": "optimization.pause"}`, codeMethodNotFound},
		{"missing params", `{"jsonrpc": "2.0", "id": 1, "method": "optimization.start"}`, codeInvalidParams},
		{"missing id", `{"jsonrpc": "2.0", "id": 1, "method": "optimization.status", "params": {}}`, codeInvalidParams},
		{"bad problem", `{"jsonrpc": "2.0", "id": 1, "method": "optimization.start", "params": {"problem": "nope"}}`, codeInvalidParams},
		{"unknown job", `{"jsonrpc": "2.0", "id": 1, "method": "optimization.status", "params": {"optimization_id": "x"}}`, codeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := rpc(t, r, tc.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, "2.0", resp.JSONRPC)
		})
	}
}

func TestRespondWithError(t *testing.T) {
	srv, _, _ := newTestServer(t, testConfig(t))

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{"string id", codeInvalidParams, "invalid input", "123", "123"},
		{"nil id", codeServerError, "server error", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)
			assert.Equal(t, http.StatusOK, rr.Code)

			var response rpcResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
			require.NotNil(t, response.Error)
			assert.Equal(t, tt.code, response.Error.Code)
			assert.Equal(t, tt.message, response.Error.Message)
			assert.Equal(t, tt.expectedID, response.ID)
		})
	}
}
