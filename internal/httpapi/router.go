// Package httpapi serves the monitoring endpoints of a running pgnzst:
// prometheus metrics, a JSON status snapshot, health and pprof.
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"

	"github.com/rs/zerolog"

	"github.com/freeeve/pgnzst/internal/job"
	"github.com/freeeve/pgnzst/internal/metrics"
	"github.com/freeeve/pgnzst/internal/pool"
)

// StatusSource is the part of a pool the status endpoint reads.
type StatusSource interface {
	Progress() []job.Progress
	Completed() []pool.Completion
	Queued() int
}

// Handler serves pool status.
type Handler struct {
	src StatusSource
	log zerolog.Logger
}

// NewRouter creates the monitoring router. m may be nil, in which case
// /metrics is not served.
func NewRouter(log zerolog.Logger, src StatusSource, m *metrics.Metrics) http.Handler {
	h := &Handler{src: src, log: log}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/v1/status", http.HandlerFunc(h.status))
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return RequestID(AccessLog(log, mux))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, ToStatusResponse(h.src.Progress(), h.src.Completed(), h.src.Queued()))
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
