package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/seance/internal/observability"
	"github.com/harun/seance/internal/tracing"
	"github.com/harun/seance/pkg/agent"
	"github.com/harun/seance/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/xeipuuv/gojsonschema"
)

// ErrDisconnected is returned once the client can no longer be read from or
// written to. It is the only condition that ends a session.
var ErrDisconnected = errors.New("client disconnected")

// ErrNoModel is returned when no model was requested and none is available.
var ErrNoModel = errors.New("no model selected and none available")

// noModelMessage is what the client sees for ErrNoModel.
const noModelMessage = "No model selected and none available"

const payloadSchemaJSON = `{
	"type": "object",
	"properties": {
		"model": {"type": "string"},
		"messages": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"type": "string"},
					"content": {"type": "string"}
				}
			}
		}
	}
}`

var payloadSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("gateway: invalid payload schema: %v", err))
	}
	return schema
}()

// TurnRunner answers one user turn, see agent.Runner.
type TurnRunner interface {
	RunTurn(ctx context.Context, model string, messages []agent.Message, sink agent.Sink) (agent.TurnResult, error)
}

// ModelLister lists the models available on the backend.
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// SessionConfig holds session configuration
type SessionConfig struct {
	ID     string
	Runner TurnRunner
	Models ModelLister
	// DefaultModel is used when a payload names no model. Empty means the
	// first model the backend lists.
	DefaultModel string
	Prompt       func() string
	ListTimeout  time.Duration
	WriteTimeout time.Duration
	RemoteAddr   string
	Logger       zerolog.Logger
}

// Session serves one websocket connection, one turn at a time.
type Session struct {
	ID           string
	conn         *websocket.Conn
	runner       TurnRunner
	models       ModelLister
	defaultModel string
	prompt       func() string
	listTimeout  time.Duration
	writeTimeout time.Duration
	remoteAddr   string
	connectedAt  time.Time
	logger       zerolog.Logger

	mu           sync.Mutex
	lastActivity time.Time
	turns        int
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, cfg SessionConfig) *Session {
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 5 * time.Second
	}
	if cfg.Prompt == nil {
		cfg.Prompt = func() string { return "" }
	}
	now := time.Now()
	return &Session{
		ID:           cfg.ID,
		conn:         conn,
		runner:       cfg.Runner,
		models:       cfg.Models,
		defaultModel: cfg.DefaultModel,
		prompt:       cfg.Prompt,
		listTimeout:  cfg.ListTimeout,
		writeTimeout: cfg.WriteTimeout,
		remoteAddr:   cfg.RemoteAddr,
		connectedAt:  now,
		lastActivity: now,
		logger:       cfg.Logger.With().Str("session_id", cfg.ID).Logger(),
	}
}

// Serve reads payloads until the client goes away. Turn failures are
// reported to the client as error events and never end the loop.
func (s *Session) Serve(ctx context.Context) error {
	ctx = tracing.WithSessionID(ctx, s.ID)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn().Err(err).Msg("WebSocket error")
			}
			s.logger.Info().Msg("Client disconnected")
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}

		s.touch()
		if err := s.handle(ctx, data); err != nil {
			s.logger.Info().Err(err).Msg("Client disconnected")
			return err
		}
	}
}

// handle runs one turn. It only returns an error when the client is gone.
func (s *Session) handle(ctx context.Context, data []byte) error {
	ctx = tracing.NewTurnContext(ctx)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	req, err := decodeRequest(data)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected chat payload")
		return s.sendError(err.Error())
	}

	model := req.Model
	if model == "" {
		model, err = s.resolveModel(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("No model available")
			return s.sendError(noModelMessage)
		}
		logger.Debug().Str("model", model).Msg("Resolved default model")
	}

	messages := agent.EnsureSystemPrompt(req.Messages, s.prompt())

	start := time.Now()
	result, err := s.runTurn(ctx, model, messages)
	observability.RecordTurn(time.Since(start), len(result.Rounds), err == nil)

	s.mu.Lock()
	s.turns++
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrDisconnected) {
			return err
		}
		logger.Error().Err(err).Str("model", model).Msg("Turn failed")
		return s.sendError(err.Error())
	}

	logger.Info().
		Str("model", model).
		Int("rounds", len(result.Rounds)).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")
	return s.writeJSON(DoneEvent{Done: true})
}

func (s *Session) runTurn(ctx context.Context, model string, messages []agent.Message) (result agent.TurnResult, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		result, err = s.runner.RunTurn(ctx, model, messages, s)
	})
	if r := pc.Recovered(); r != nil {
		return result, fmt.Errorf("turn panicked: %w", r.AsError())
	}
	return result, err
}

// resolveModel picks the configured default, else the first model the
// backend lists.
func (s *Session) resolveModel(ctx context.Context) (string, error) {
	if s.defaultModel != "" {
		return s.defaultModel, nil
	}
	if s.models == nil {
		return "", ErrNoModel
	}
	ctx, cancel := context.WithTimeout(ctx, s.listTimeout)
	defer cancel()

	models, err := s.models.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("list models: %w", err)
	}
	if len(models) == 0 {
		return "", ErrNoModel
	}
	return models[0].Name, nil
}

// Text forwards a model text chunk as a raw frame.
func (s *Session) Text(chunk string) error {
	return s.write(websocket.TextMessage, []byte(chunk))
}

// Preview announces a tool call before it runs.
func (s *Session) Preview(tool, argument string) error {
	return s.Text(agent.FormatPreview(tool, argument))
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		ID:           s.ID,
		ConnectedAt:  s.connectedAt,
		LastActivity: s.lastActivity,
		IPAddress:    s.remoteAddr,
		Turns:        s.turns,
		Idle:         time.Since(s.lastActivity) > 5*time.Minute,
	}
}

// Close sends a close frame and drops the connection.
func (s *Session) Close() error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return s.conn.Close()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) sendError(message string) error {
	return s.writeJSON(ErrorEvent{Error: message, Done: true})
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return s.write(websocket.TextMessage, data)
}

func (s *Session) write(messageType int, data []byte) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// decodeRequest validates data against the payload schema before decoding.
func decodeRequest(data []byte) (ChatRequest, error) {
	var req ChatRequest

	result, err := payloadSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return req, fmt.Errorf("invalid payload: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return req, fmt.Errorf("invalid payload: %s", strings.Join(problems, "; "))
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("invalid payload: %w", err)
	}
	return req, nil
}
