package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithTurnID(ctx, "turn-456")
	ctx = WithSessionID(ctx, "session-abc")

	var buf bytes.Buffer
	logger := PropagateToLogger(ctx, zerolog.New(&buf))
	logger.Info().Msg("test message")

	output := buf.String()
	assert.Contains(t, output, "trace-123")
	assert.Contains(t, output, "turn-456")
	assert.Contains(t, output, "session-abc")
}

func TestLoggerFromContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-xyz")

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("test")

	assert.Contains(t, buf.String(), "trace-xyz")
}

func TestDetach(t *testing.T) {
	t.Run("should keep tracing values", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-1")
		ctx = WithSessionID(ctx, "session-1")

		detached := Detach(ctx)

		assert.Equal(t, "trace-1", GetTraceID(detached))
		assert.Equal(t, "session-1", GetSessionID(detached))
	})

	t.Run("should not inherit cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		detached := Detach(ctx)
		cancel()

		assert.Error(t, ctx.Err())
		assert.NoError(t, detached.Err())
	})
}
