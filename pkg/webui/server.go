// Package webui provides a read-only HTTP API over the discovered skill
// packages and installed plugins. Content is served through the same three
// disclosure tiers an agent sees.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillkit/pkg/disclosure"
	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/plugins"
	"github.com/jingkaihe/skillkit/pkg/presenter"
	"github.com/jingkaihe/skillkit/pkg/skills"
)

const requestIDHeader = "X-Request-ID"

// SkillSource supplies the current discovery snapshot. *skills.Cache
// implements it.
type SkillSource interface {
	Get(ctx context.Context) *skills.DiscoveryResult
}

// PluginSource lists installed plugins. *plugins.Installer implements it.
type PluginSource interface {
	ListInstalled(ctx context.Context) ([]string, error)
	Inspect(ctx context.Context, name string) (*plugins.InstalledPlugin, error)
}

// RecordSource lists install records. *plugins.RecordStore implements it.
type RecordSource interface {
	List(ctx context.Context) ([]skills.InstallRecord, error)
}

// Server represents the HTTP API server
type Server struct {
	router  *mux.Router
	config  *ServerConfig
	server  *http.Server
	source  SkillSource
	plugins PluginSource
	records RecordSource
	budget  int
}

// ServerConfig holds the configuration for the web server
type ServerConfig struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Option configures a Server.
type Option func(*Server)

// WithPlugins enables GET /api/plugins. records may be nil.
func WithPlugins(p PluginSource, records RecordSource) Option {
	return func(s *Server) {
		s.plugins = p
		s.records = records
	}
}

// WithTokenBudget sets the digest budget. Zero or less selects the default.
func WithTokenBudget(tokens int) Option {
	return func(s *Server) {
		s.budget = tokens
	}
}

// NewServer creates a new API server over source.
func NewServer(config *ServerConfig, source SkillSource, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if source == nil {
		return nil, errors.New("skill source is required")
	}

	s := &Server{
		router: mux.NewRouter(),
		config: config,
		source: source,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/skills", s.handleListSkills).Methods("GET")
	api.HandleFunc("/skills/digest", s.handleDigest).Methods("GET")
	api.HandleFunc("/skills/{name}", s.handleGetSkill).Methods("GET")
	api.HandleFunc("/skills/{name}/html", s.handleRenderSkill).Methods("GET")
	api.HandleFunc("/skills/{name}/resources/{category}", s.handleListResources).Methods("GET")
	api.HandleFunc("/skills/{name}/resource", s.handleReadResource).Methods("GET")
	api.HandleFunc("/plugins", s.handleListPlugins).Methods("GET")

	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// ServeHTTP lets the server be mounted or tested without listening.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestIDMiddleware tags each request with an id, reusing one sent by the
// client, and attaches a logger carrying it.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := logger.WithLogger(r.Context(), logger.G(r.Context()).WithField("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// provider builds a disclosure provider over the usable packages of the
// current snapshot.
func (s *Server) provider(ctx context.Context) (*disclosure.Provider, *skills.DiscoveryResult) {
	result := s.source.Get(ctx)
	return disclosure.NewProvider(
		skills.Enabled(result.Packages),
		disclosure.WithTokenBudget(s.budget),
		disclosure.WithDiagnostics(logger.Diagnostics(ctx)),
	), result
}

func (s *Server) writeJSONResponse(ctx context.Context, w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) writeErrorResponse(ctx context.Context, w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(ctx).WithError(err).Error(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode error response")
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Serving skills API on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "web server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the listener immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
