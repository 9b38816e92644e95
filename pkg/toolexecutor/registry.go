package toolexecutor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/harun/seance/internal/observability"
	"github.com/harun/seance/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a discovered catalog is reused.
const DefaultTTL = 300 * time.Second

// RegistryConfig configures the tool catalog cache.
type RegistryConfig struct {
	TTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type catalog struct {
	tools     []ToolSpec
	schemas   map[string]*gojsonschema.Schema
	fetchedAt time.Time
}

// Registry caches the tool catalog process-wide and routes invocations
// through the backend.
type Registry struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	cache   atomic.Pointer[catalog]
	group   singleflight.Group
	logger  zerolog.Logger
}

// NewRegistry creates a registry over the given backend
func NewRegistry(backend Backend, config RegistryConfig, logger zerolog.Logger) *Registry {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Registry{
		backend: backend,
		ttl:     config.TTL,
		now:     config.Now,
		logger:  logger.With().Str("component", "tool_registry").Logger(),
	}
}

// ListTools returns the cached catalog while it is fresh, otherwise
// rediscovers it. A failed discovery returns the previous catalog, or an
// empty list if there never was one.
func (r *Registry) ListTools(ctx context.Context) []ToolSpec {
	if c := r.cache.Load(); c != nil && r.now().Sub(c.fetchedAt) < r.ttl {
		observability.RecordToolCacheLookup(true)
		return c.tools
	}
	observability.RecordToolCacheLookup(false)
	return r.Refresh(ctx)
}

// Refresh forces a discovery regardless of cache age. Concurrent refreshes
// share one discovery, which is detached from the caller's cancellation so
// one departing session cannot fail it for the others.
func (r *Registry) Refresh(ctx context.Context) []ToolSpec {
	v, _, _ := r.group.Do("catalog", func() (any, error) {
		return r.discover(tracing.Detach(ctx)), nil
	})
	return v.([]ToolSpec)
}

// Cached returns the current catalog without triggering discovery.
func (r *Registry) Cached() ([]ToolSpec, time.Time) {
	c := r.cache.Load()
	if c == nil {
		return []ToolSpec{}, time.Time{}
	}
	return c.tools, c.fetchedAt
}

func (r *Registry) discover(ctx context.Context) []ToolSpec {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	prev := r.cache.Load()

	start := time.Now()
	tools, err := r.backend.Discover(ctx)
	observability.AuditDiscovery(ctx, tracing.GetSessionID(ctx), len(tools), time.Since(start), err)
	if err != nil {
		observability.RecordToolDiscovery(false)
		if prev != nil {
			logger.Warn().Err(err).Int("tools", len(prev.tools)).Msg("Tool discovery failed, serving stale catalog")
			return prev.tools
		}
		logger.Warn().Err(err).Msg("Tool discovery failed, no catalog available")
		return []ToolSpec{}
	}
	if tools == nil {
		tools = []ToolSpec{}
	}

	r.cache.Store(&catalog{
		tools:     tools,
		schemas:   compileSchemas(tools),
		fetchedAt: r.now(),
	})

	observability.RecordToolDiscovery(true)
	logger.Info().Int("tools", len(tools)).Msg("Tool catalog refreshed")
	return tools
}

// Invoke validates arguments when the tool is known and calls it through
// the backend. Unknown tools are still forwarded; the service decides.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "seance.toolexecutor", "tool.invoke",
		attribute.String("tool", name),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	text, err := r.invoke(ctx, name, args)

	duration := time.Since(start)
	observability.RecordToolExecution(name, duration, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("tool", name).Dur("duration", duration).Msg("Tool execution failed")
	} else {
		span.SetStatus(codes.Ok, "completed")
		logger.Info().Str("tool", name).Dur("duration", duration).Int("result_chars", len(text)).Msg("Tool executed")
	}
	observability.AuditToolCall(ctx, observability.ToolAudit{
		Session:     tracing.GetSessionID(ctx),
		Tool:        name,
		Arguments:   args,
		Duration:    duration,
		ResultChars: len(text),
		Err:         err,
	})

	return text, err
}

func (r *Registry) invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if c := r.cache.Load(); c != nil {
		if err := validateArguments(c.schemas[name], args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}
	return r.backend.Invoke(ctx, name, args)
}
