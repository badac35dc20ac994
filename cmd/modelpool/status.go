package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jrepp/prism-modelpool/pkg/launcher"
	"github.com/jrepp/prism-modelpool/pkg/procmgr"
)

// healthSource is the part of the launcher the status server reads
type healthSource interface {
	LaunchID() string
	Health() procmgr.HealthCheck
}

type workerStatus struct {
	State    string  `json:"state"`
	Ready    bool    `json:"ready"`
	PID      int     `json:"pid,omitempty"`
	Uptime   float64 `json:"uptime_seconds"`
	ExitCode int     `json:"exit_code"`
}

type statusResponse struct {
	LaunchID string                  `json:"launch_id"`
	Total    int                     `json:"total"`
	Running  int                     `json:"running"`
	Ready    int                     `json:"ready"`
	Exited   int                     `json:"exited"`
	Killed   int                     `json:"killed"`
	Failed   int                     `json:"failed"`
	Workers  map[string]workerStatus `json:"workers"`
}

// newStatusServer serves Prometheus metrics for both registries plus JSON
// health and readiness of the running pool.
func newStatusServer(addr string, src healthSource, metrics *launcher.MetricsCollector, workerMetrics *procmgr.PrometheusMetricsCollector) *http.Server {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{metrics.Registry(), workerMetrics.Registry()}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler(src))
	mux.HandleFunc("/ready", readyHandler(src))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func statusOf(src healthSource) statusResponse {
	h := src.Health()
	resp := statusResponse{
		LaunchID: src.LaunchID(),
		Total:    h.TotalWorkers,
		Running:  h.RunningWorkers,
		Ready:    h.ReadyWorkers,
		Exited:   h.ExitedWorkers,
		Killed:   h.KilledWorkers,
		Failed:   h.FailedWorkers,
		Workers:  make(map[string]workerStatus, len(h.Workers)),
	}
	for ordinal, w := range h.Workers {
		resp.Workers[strconv.Itoa(ordinal)] = workerStatus{
			State:    w.State.String(),
			Ready:    w.Ready,
			PID:      w.PID,
			Uptime:   w.Uptime.Seconds(),
			ExitCode: w.ExitCode,
		}
	}
	return resp
}

// healthHandler reports 503 once any worker failed, was killed or exited non-zero
func healthHandler(src healthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusOf(src)

		status := http.StatusOK
		if resp.Failed > 0 || resp.Killed > 0 {
			status = http.StatusServiceUnavailable
		}
		for _, ws := range resp.Workers {
			if ws.State == procmgr.WorkerStateExited.String() && ws.ExitCode != 0 {
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
	}
}

// readyHandler reports 200 when every running worker answers its readiness probe
func readyHandler(src healthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusOf(src)

		status := http.StatusOK
		if resp.Running == 0 || resp.Ready < resp.Running {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
