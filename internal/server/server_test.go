package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copyleftdev/steptune/internal/config"
	"github.com/copyleftdev/steptune/internal/metrics"
	"github.com/copyleftdev/steptune/internal/optimization"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	return cfg
}

func testServer(t *testing.T) (*Server, *Tracker, *metrics.Collector) {
	t.Helper()
	tracker := NewTracker("session-1")
	collector := metrics.New()
	return NewServer(testConfig(t), zap.NewNop(), tracker, collector.Registry()), tracker, collector
}

func TestRoutes(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.Handler()

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{"GET", "/healthz", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/api/v1/status", http.StatusOK},
		{"POST", "/api/v1/status", http.StatusMethodNotAllowed},
		{"GET", "/nonexistent", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, rr.Code)
		})
	}
}

func TestRegisterRoutes(t *testing.T) {
	srv, _, _ := testServer(t)
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "healthz is attached by Handler")
}

func TestStatusReflectsObservations(t *testing.T) {
	srv, tracker, collector := testServer(t)
	h := srv.Handler()
	best := int64(37)

	for _, o := range []interface {
		ObserveAttempt(int)
		ObserveProgress(optimization.Progress)
		ObserveCycle(int, error)
		ObserveRestart(int, int)
	}{tracker, collector} {
		o.ObserveAttempt(2)
		o.ObserveProgress(optimization.Progress{
			Phase:       optimization.PhaseSweep,
			Bounds:      optimization.Bounds{Low: 10, High: 50},
			Current:     38,
			Step:        0,
			BestVal:     &best,
			BestTime:    1.5,
			Iteration:   7,
			Evaluations: 23,
		})
		o.ObserveCycle(2, stderrors.New("disk full"))
		o.ObserveRestart(2, 1)
		o.ObserveCycle(2, nil)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var status Status
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, "session-1", status.Session)
	assert.Equal(t, 2, status.Attempt)
	assert.Equal(t, "sweep", status.Phase)
	assert.Equal(t, int64(10), status.Low)
	assert.Equal(t, int64(50), status.High)
	assert.Equal(t, int64(38), status.Current)
	require.NotNil(t, status.BestValue)
	assert.Equal(t, int64(37), *status.BestValue)
	require.NotNil(t, status.BestTime)
	assert.Equal(t, 1.5, *status.BestTime)
	assert.Equal(t, 23, status.Evaluations)
	assert.Equal(t, 1, status.CyclesCompleted)
	assert.Equal(t, 1, status.CyclesFailed)
	assert.Equal(t, 1, status.Restarts)
	assert.Equal(t, "disk full", status.LastError)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "steptune_best_value 37")
	assert.Contains(t, string(body), `steptune_cycles_total{outcome="failed"} 1`)
}

func TestStatusWithoutBestEncodesNull(t *testing.T) {
	srv, tracker, _ := testServer(t)
	tracker.ObserveProgress(optimization.Progress{
		Phase:    optimization.PhaseSearch,
		Bounds:   optimization.Bounds{Low: 1, High: 100},
		BestTime: math.Inf(1),
	})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/status", nil))

	var raw map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&raw))
	assert.Nil(t, raw["best_value"])
	assert.Nil(t, raw["best_time"])
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, "OK", rr.Body.String())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv, _, _ := testServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
