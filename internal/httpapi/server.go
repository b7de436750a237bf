// Package httpapi is the gateway's HTTP surface: a thin translation layer
// mapping routes onto the lower-level components. Routing uses the stdlib
// net/http.ServeMux method+path-pattern matching introduced in Go 1.22, so
// no router dependency is needed.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluidmcp/gateway/internal/dispatcher"
	"github.com/fluidmcp/gateway/internal/githubimport"
	"github.com/fluidmcp/gateway/internal/metrics"
	"github.com/fluidmcp/gateway/internal/servermgr"
	"github.com/fluidmcp/gateway/internal/store"
	"github.com/fluidmcp/gateway/internal/telemetry"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

// Options bundles Server construction dependencies.
type Options struct {
	Manager    *servermgr.Manager
	Repo       store.Repository
	Dispatcher *dispatcher.Dispatcher
	Registry   *toolregistry.Registry
	Metrics    *metrics.Metrics
	Tracer     telemetry.Tracer

	BearerToken string // empty with SecureMode on rejects every protected request
	SecureMode  bool    // FMCP_SECURE_MODE: gate protected endpoints behind BearerToken
}

// Server is the gateway's full HTTP surface.
type Server struct {
	mux       *http.ServeMux
	manager   *servermgr.Manager
	repo      store.Repository
	dispatch  *dispatcher.Dispatcher
	registry  *toolregistry.Registry
	metrics   *metrics.Metrics
	tracer    telemetry.Tracer
	startTime time.Time

	bearerToken string
	secureMode  bool
}

// NewServer builds a Server and registers every route up front.
func NewServer(opts Options) *Server {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	s := &Server{
		mux:         http.NewServeMux(),
		manager:     opts.Manager,
		repo:        opts.Repo,
		dispatch:    opts.Dispatcher,
		registry:    opts.Registry,
		metrics:     opts.Metrics,
		tracer:      tracer,
		startTime:   time.Now(),
		bearerToken: opts.BearerToken,
		secureMode:  opts.SecureMode,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)

	s.mux.HandleFunc("GET /api/servers", s.protect(s.handleListServers))
	s.mux.HandleFunc("POST /api/servers", s.protect(s.handleAddServer))
	s.mux.HandleFunc("POST /api/servers/from-github", s.protect(s.handleServerFromGithub))
	s.mux.HandleFunc("POST /api/servers/import", s.protect(s.handleImportServers))
	s.mux.HandleFunc("GET /api/servers/export", s.protect(s.handleExportServers))
	s.mux.HandleFunc("GET /api/servers/{id}", s.protect(s.handleGetServer))
	s.mux.HandleFunc("PUT /api/servers/{id}", s.protect(s.handleUpdateServer))
	s.mux.HandleFunc("DELETE /api/servers/{id}", s.protect(s.handleDeleteServer))
	s.mux.HandleFunc("POST /api/servers/{id}/start", s.protect(s.handleStartServer))
	s.mux.HandleFunc("POST /api/servers/{id}/stop", s.protect(s.handleStopServer))
	s.mux.HandleFunc("GET /api/servers/{id}/status", s.protect(s.handleServerStatus))
	s.mux.HandleFunc("GET /api/servers/{id}/logs", s.protect(s.handleServerLogs))
	s.mux.HandleFunc("POST /api/servers/{id}/tools/{tool}/run", s.protect(s.handleRunTool))

	s.mux.HandleFunc("GET /api/llm/models", s.protect(s.handleListModels))
	s.mux.HandleFunc("POST /api/llm/models", s.protect(s.handleRegisterModel))
	s.mux.HandleFunc("DELETE /api/llm/models/{id}", s.protect(s.handleDeleteModel))
	s.mux.HandleFunc("POST /api/llm/{model_id}/v1/chat/completions", s.protect(s.handleChatCompletions))
	s.mux.HandleFunc("POST /api/llm/{model_id}/v1/completions", s.protect(s.handleCompletions))
}

// ServeHTTP makes Server an http.Handler, recording a request-scoped trace
// span and a per-route Prometheus counter around every request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), telemetry.SpanHTTPRequest)
	defer span.End()
	r = r.WithContext(withRequestID(ctx))

	rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rw, r)

	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(r.Pattern, r.Method, statusClass(rw.status))
	}
}

// statusRecorder captures the status code an inner handler writes so
// ServeHTTP can feed it to the metrics shim without every handler doing so.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Run starts the HTTP server at addr with graceful shutdown on SIGINT/
// SIGTERM: in-flight requests get shutdownGrace to finish, then every
// managed child process is stopped before the process exits.
func (s *Server) Run(addr string, shutdownGrace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	idleClosed := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("[HTTP] received signal %v, shutting down gracefully", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] graceful shutdown error: %v", err)
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer stopCancel()
		s.manager.StopAll(stopCtx)
		close(idleClosed)
	}()

	log.Printf("[HTTP] fluidmcp gateway listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		<-idleClosed
		log.Printf("[HTTP] server stopped gracefully")
		return nil
	}
	return err
}

// githubimportFunc is a seam used by handleServerFromGithub, allowing tests
// to substitute a fake clone without touching the network.
var githubimportFunc = githubimport.Import
