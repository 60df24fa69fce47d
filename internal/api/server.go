// Package api exposes the management surface over HTTP. Endpoints map 1:1
// onto the access-control, provisioning and retention operations.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lorekeep/lorekeep/internal/accesscontrol"
	"github.com/lorekeep/lorekeep/internal/logging"
	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/observability"
	"github.com/lorekeep/lorekeep/internal/provision"
	"github.com/lorekeep/lorekeep/internal/retention"
	"github.com/lorekeep/lorekeep/internal/store"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Store       *store.PostgresStore
	Engine      *accesscontrol.Engine
	Provisioner *provision.Provisioner
	Retention   *retention.Engine
}

// StartHTTPServer creates and starts the management HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()

	h := &Handler{
		Store:       cfg.Store,
		Engine:      cfg.Engine,
		Provisioner: cfg.Provisioner,
		Retention:   cfg.Retention,
	}
	h.RegisterRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Store.Ping(r.Context()); err != nil {
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.PrometheusHandler())

	var handler http.Handler = mux
	handler = metricsMiddleware(handler)
	handler = observability.HTTPMiddleware(handler)

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}

// metricsMiddleware records request durations per route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, strconv.Itoa(rw.status), time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
