package main

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"

	"github.com/kanekikun07/shiny-bassoon/internal/metrics"
	"github.com/kanekikun07/shiny-bassoon/internal/usage"
)

// newDebugMux serves pprof, Prometheus metrics and the usage ledger. It is
// meant for an operator-only listener.
func newDebugMux(m *metrics.Metrics, ledger *usage.Ledger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/usage", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ledger.Snapshot())
	})
	return mux
}
