package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-modelpool/pkg/launcher"
	"github.com/jrepp/prism-modelpool/pkg/procmgr"
)

type fakeHealth struct {
	id     string
	health procmgr.HealthCheck
}

func (f *fakeHealth) LaunchID() string            { return f.id }
func (f *fakeHealth) Health() procmgr.HealthCheck { return f.health }

func runningPool(ready bool) *fakeHealth {
	return &fakeHealth{
		id: "launch-1",
		health: procmgr.HealthCheck{
			TotalWorkers:   2,
			RunningWorkers: 2,
			ReadyWorkers:   map[bool]int{true: 2, false: 1}[ready],
			Workers: map[int]procmgr.WorkerHealth{
				0: {State: procmgr.WorkerStateRunning, Ready: true, PID: 100},
				1: {State: procmgr.WorkerStateRunning, Ready: ready, PID: 101},
			},
		},
	}
}

func get(t *testing.T, srv *http.Server, path string) (*http.Response, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func newTestStatusServer(src healthSource) *http.Server {
	return newStatusServer(":0", src, launcher.NewMetricsCollector("modelpool"), procmgr.NewPrometheusMetricsCollector("modelpool"))
}

func TestStatusServer_HealthAndReady(t *testing.T) {
	srv := newTestStatusServer(runningPool(true))

	resp, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "launch-1", status.LaunchID)
	assert.Equal(t, 2, status.Running)
	assert.Equal(t, "Running", status.Workers["1"].State)
	assert.Equal(t, 101, status.Workers["1"].PID)

	resp, _ = get(t, srv, "/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusServer_NotReady(t *testing.T) {
	srv := newTestStatusServer(runningPool(false))

	resp, _ := get(t, srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusServer_DegradedPool(t *testing.T) {
	src := &fakeHealth{
		id: "launch-2",
		health: procmgr.HealthCheck{
			TotalWorkers:   2,
			RunningWorkers: 1,
			ReadyWorkers:   1,
			ExitedWorkers:  1,
			Workers: map[int]procmgr.WorkerHealth{
				0: {State: procmgr.WorkerStateRunning, Ready: true},
				1: {State: procmgr.WorkerStateExited, ExitCode: 3},
			},
		},
	}
	srv := newTestStatusServer(src)

	resp, _ := get(t, srv, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = get(t, srv, "/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "the surviving worker is ready")
}

func TestStatusServer_Metrics(t *testing.T) {
	metrics := launcher.NewMetricsCollector("modelpool")
	workerMetrics := procmgr.NewPrometheusMetricsCollector("modelpool")
	metrics.RecordLaunch(&launcher.Summary{Outcome: launcher.OutcomeHealthy})
	workerMetrics.RunningWorkers(3)

	srv := newStatusServer(":0", runningPool(true), metrics, workerMetrics)
	resp, body := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `modelpool_launches_total{outcome="healthy"} 1`)
	assert.Contains(t, string(body), "modelpool_workers_running 3")
}
