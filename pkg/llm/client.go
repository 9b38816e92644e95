package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/seance/internal/observability"
	"github.com/harun/seance/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrToolsUnsupported is returned by providers when the model rejects tool schemas.
var ErrToolsUnsupported = errors.New("model does not support tools")

// IsToolsUnsupported reports whether err carries the "tools unsupported" signature.
func IsToolsUnsupported(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrToolsUnsupported) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not support tools")
}

// Capabilities tracks what the model accepted during one round.
type Capabilities struct {
	SupportsTools bool
}

// NewCapabilities starts optimistic: tools are offered until rejected.
func NewCapabilities() *Capabilities {
	return &Capabilities{SupportsTools: true}
}

// emitError marks failures raised by the caller's emit callback so they are
// never mistaken for backend errors.
type emitError struct {
	err error
}

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// Client streams chat completions through a Provider.
type Client struct {
	provider Provider
	options  Options
	logger   zerolog.Logger
}

// NewClient creates a streaming client
func NewClient(provider Provider, options Options, logger zerolog.Logger) *Client {
	return &Client{
		provider: provider,
		options:  options,
		logger:   logger.With().Str("component", "llm").Str("provider", provider.Name()).Logger(),
	}
}

// Provider returns the underlying backend
func (c *Client) Provider() Provider {
	return c.provider
}

// ListModels lists backend models
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return c.provider.ListModels(ctx)
}

// Preload warms a model on the backend
func (c *Client) Preload(ctx context.Context, model string) error {
	return c.provider.Preload(ctx, model)
}

// Stream sends messages to the model and forwards text chunks to emit as they
// arrive. Tools are attached only while caps.SupportsTools is true. When the
// backend rejects the schema, caps is downgraded and the request is retried
// once without tools.
func (c *Client) Stream(ctx context.Context, model string, messages []Message, tools []Tool, caps *Capabilities, emit func(string) error) (StreamResult, error) {
	if caps == nil {
		caps = NewCapabilities()
	}

	ctx, span := tracing.StartSpan(ctx, "seance.llm", "llm.stream",
		attribute.String("provider", c.provider.Name()),
		attribute.String("model", model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	req := ChatRequest{
		Model:    model,
		Messages: messages,
		Options:  c.options,
	}
	if caps.SupportsTools && len(tools) > 0 {
		req.Tools = tools
	}

	var result StreamResult
	result.ToolsAttached = len(req.Tools) > 0

	err := c.stream(ctx, req, &result, emit)
	if err != nil && result.ToolsAttached && IsToolsUnsupported(err) {
		logger.Warn().Err(err).Msg("Model rejected tool schema, retrying without tools")
		observability.RecordToolSchemaFallback(c.provider.Name())

		caps.SupportsTools = false
		req.Tools = nil
		result.Retried = true
		err = c.stream(ctx, req, &result, emit)
	}

	span.SetAttributes(
		attribute.Bool("tools_attached", result.ToolsAttached),
		attribute.Bool("retried", result.Retried),
		attribute.Int("tool_calls", len(result.ToolCalls)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var ee *emitError
		if errors.As(err, &ee) {
			return result, ee.err
		}
		return result, fmt.Errorf("model %s: %w", model, err)
	}

	span.SetStatus(codes.Ok, "completed")
	return result, nil
}

func (c *Client) stream(ctx context.Context, req ChatRequest, result *StreamResult, emit func(string) error) error {
	start := time.Now()
	var text strings.Builder
	text.WriteString(result.Text)

	err := c.provider.Chat(ctx, req, func(chunk ChatChunk) error {
		if chunk.Content != "" {
			text.WriteString(chunk.Content)
			if emit != nil {
				if err := emit(chunk.Content); err != nil {
					return &emitError{err: err}
				}
			}
		}
		result.ToolCalls = append(result.ToolCalls, chunk.ToolCalls...)
		return nil
	})

	result.Text = text.String()
	observability.RecordModelCall(c.provider.Name(), time.Since(start), err == nil)
	return err
}
