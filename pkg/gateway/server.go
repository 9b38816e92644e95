package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/gorilla/websocket"
	"github.com/harun/seance/internal/observability"
	"github.com/harun/seance/internal/tracing"
	"github.com/harun/seance/pkg/llm"
	"github.com/harun/seance/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const contextPromptFormat = "Here is the summary of high-value Chainsaw detections found in the current EVTX upload:\n%s\n\nUse this context to guide the user's investigation."

// ModelBackend is the model side of the HTTP surface, see llm.Client.
type ModelBackend interface {
	ModelLister
	Preload(ctx context.Context, model string) error
}

// ToolCatalog is the tool side of the HTTP surface, see toolexecutor.Registry.
type ToolCatalog interface {
	ListTools(ctx context.Context) []toolexecutor.ToolSpec
	Cached() ([]toolexecutor.ToolSpec, time.Time)
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Server is the chat gateway: the chat websocket plus a small HTTP API.
type Server struct {
	addr            string
	runner          TurnRunner
	models          ModelBackend
	defaultModel    string
	tools           ToolCatalog
	prompt          func() string
	contextQuery    string
	queryTool       string
	queryArg        string
	listTimeout     time.Duration
	preloadTimeout  time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	server          *http.Server
	listener        net.Listener
	upgrader        websocket.Upgrader
	sessions        *SessionRegistry
	logger          zerolog.Logger
	baseCtx         context.Context
	cancel          context.CancelFunc
	isShuttingDown  bool
	shutdownMu      sync.RWMutex
	active          sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host   string
	Port   int
	Runner TurnRunner
	Models ModelBackend
	Tools  ToolCatalog
	// DefaultModel overrides default-model resolution.
	DefaultModel string
	// Prompt returns the current system prompt.
	Prompt func() string
	// ContextQuery seeds /api/context. Empty disables the endpoint's query.
	ContextQuery    string
	QueryTool       string
	QueryArgument   string
	ListTimeout     time.Duration
	PreloadTimeout  time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if cfg.Models == nil {
		return nil, fmt.Errorf("model backend is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool catalog is required")
	}
	if cfg.Prompt == nil {
		cfg.Prompt = func() string { return "" }
	}
	if cfg.QueryTool == "" {
		cfg.QueryTool = "search_splunk"
	}
	if cfg.QueryArgument == "" {
		cfg.QueryArgument = "search_query"
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 5 * time.Second
	}
	if cfg.PreloadTimeout <= 0 {
		cfg.PreloadTimeout = 300 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:            net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		runner:          cfg.Runner,
		models:          cfg.Models,
		defaultModel:    cfg.DefaultModel,
		tools:           cfg.Tools,
		prompt:          cfg.Prompt,
		contextQuery:    cfg.ContextQuery,
		queryTool:       cfg.QueryTool,
		queryArg:        cfg.QueryArgument,
		listTimeout:     cfg.ListTimeout,
		preloadTimeout:  cfg.PreloadTimeout,
		writeTimeout:    cfg.WriteTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		sessions:        NewSessionRegistry(),
		logger:          cfg.Logger.With().Str("component", "gateway").Logger(),
		baseCtx:         ctx,
		cancel:          cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/ws/chat", s.handleChat)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Post("/preload", s.handlePreload)
		r.Get("/context", s.handleContext)
		r.Get("/tools", s.handleTools)
		r.Get("/sessions", s.handleSessions)
	})

	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Sessions exposes the connected sessions.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Stop closes every session and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Int("sessions", s.sessions.Count()).Msg("Shutting down gateway server")
	s.cancel()

	for _, session := range s.sessions.GetAll() {
		if err := session.Close(); err != nil {
			s.logger.Debug().Err(err).Str("session_id", session.ID).Msg("Session close failed")
		}
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All sessions closed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// handleChat upgrades the connection and serves the session on the
// request goroutine.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate session id")
		_ = conn.Close()
		return
	}

	session := NewSession(conn, SessionConfig{
		ID:           id,
		Runner:       s.runner,
		Models:       s.models,
		DefaultModel: s.defaultModel,
		Prompt:       s.prompt,
		ListTimeout:  s.listTimeout,
		WriteTimeout: s.writeTimeout,
		RemoteAddr:   r.RemoteAddr,
		Logger:       s.logger,
	})

	s.active.Add(1)
	s.sessions.Add(session)
	observability.SetActiveSessions(s.sessions.Count())
	s.logger.Info().Str("session_id", id).Str("ip", r.RemoteAddr).Msg("Client connected")

	defer func() {
		_ = conn.Close()
		s.sessions.Remove(id)
		observability.SetActiveSessions(s.sessions.Count())
		s.active.Done()
	}()

	_ = session.Serve(tracing.NewRequestContext(s.baseCtx))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.listTimeout)
	defer cancel()

	models, err := s.models.ListModels(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list models")
		writeJSON(w, http.StatusServiceUnavailable, ModelsResponse{Models: []llm.ModelInfo{}, Error: err.Error()})
		return
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Models: models})
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	var req PreloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{Status: "error", Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeJSON(w, http.StatusBadRequest, StatusResponse{Status: "error", Error: "model is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.preloadTimeout)
	defer cancel()

	start := time.Now()
	if err := s.models.Preload(ctx, req.Model); err != nil {
		s.logger.Error().Err(err).Str("model", req.Model).Msg("Model preload failed")
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Status: "error", Error: err.Error()})
		return
	}

	s.logger.Info().Str("model", req.Model).Dur("duration", time.Since(start)).Msg("Model preloaded")
	writeJSON(w, http.StatusOK, StatusResponse{Status: "loaded"})
}

// handleContext summarises the event store with the configured query. Any
// failure yields an empty context rather than an error.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if s.contextQuery == "" {
		writeJSON(w, http.StatusOK, ContextResponse{})
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	result, err := s.tools.Invoke(ctx, s.queryTool, map[string]any{s.queryArg: s.contextQuery})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Context query failed")
		writeJSON(w, http.StatusOK, ContextResponse{})
		return
	}
	if result == "No results" || !strings.Contains(result, "count") {
		writeJSON(w, http.StatusOK, ContextResponse{})
		return
	}

	writeJSON(w, http.StatusOK, ContextResponse{Context: fmt.Sprintf(contextPromptFormat, result)})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	specs := s.tools.ListTools(r.Context())

	resp := ToolsResponse{Tools: make([]ToolInfo, 0, len(specs))}
	for _, spec := range specs {
		resp.Tools = append(resp.Tools, ToolInfo{
			Name:        spec.Name,
			Description: spec.Description,
			Required:    spec.Parameters.Required,
		})
	}
	if _, fetchedAt := s.tools.Cached(); !fetchedAt.IsZero() {
		resp.FetchedAt = &fetchedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.Infos()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
