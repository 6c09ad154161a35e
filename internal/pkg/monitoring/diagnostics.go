package monitoring

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DiagnosticsHandler serves the pprof endpoints and the Prometheus registry.
func DiagnosticsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartDiagnosticsServer runs the diagnostics endpoints in the background. The
// returned server is nil when port is empty.
func StartDiagnosticsServer(port string) *http.Server {
	if port == "" {
		return nil
	}
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: DiagnosticsHandler(),
	}
	go func() {
		slog.Info("Starting diagnostics server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Diagnostics server failed to start", "error", err)
		}
	}()
	return server
}
