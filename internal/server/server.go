// Package server exposes the page service to editors over HTTP and pushes
// save events over a WebSocket.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/pagegraph/internal/artifact"
	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/config"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/monitoring"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/types"
	"github.com/conneroisu/pagegraph/internal/websocket"
)

// Server is the editor API server for one site.
type Server struct {
	cfg     config.ServerConfig
	siteID  types.SiteID
	pages   *services.PageService
	metrics *build.Metrics
	hub     *websocket.Hub
	logger  logging.Logger
	health  *monitoring.HealthMonitor
	shared  *artifact.SharedCache
	router  *chi.Mux

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a server. hub may be nil to disable the event stream.
func New(
	cfg config.ServerConfig,
	siteID types.SiteID,
	pages *services.PageService,
	metrics *build.Metrics,
	hub *websocket.Hub,
	logger logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{
		cfg:     cfg,
		siteID:  siteID,
		pages:   pages,
		metrics: metrics,
		hub:     hub,
		logger:  logger.WithComponent("server"),
	}
	s.router = s.routes()
	return s
}

// WithArtifacts reports the shared decoded template cache of artifacts on
// /api/metrics. A cache without a shared tier reports nothing.
func (s *Server) WithArtifacts(artifacts *artifact.Cache) *Server {
	if artifacts != nil {
		s.shared = artifacts.Shared()
	}
	return s
}

// WithHealth serves the checks of monitor on /healthz.
func (s *Server) WithHealth(monitor *monitoring.HealthMonitor) *Server {
	s.health = monitor
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)
	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/pages", s.handleListPages)
		r.Put("/pages", s.handlePutPage)
		r.Get("/pages/dependents", s.handleDependents)
		r.Get("/page", s.handleGetPage)
		r.Put("/snippets", s.handlePutSnippet)
		r.Get("/metrics", s.handleMetrics)
	})
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// Start serves until ctx is done or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Server listening", "addr", srv.Addr, "site", s.siteID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the HTTP server and the event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			return err
		}
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// cors answers cross-origin requests from the configured origin host
// patterns. Other origins get no CORS headers.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, pattern := range s.cfg.AllowedOrigins {
		if matched, _ := path.Match(strings.ToLower(pattern), host); matched {
			return true
		}
	}
	return false
}
