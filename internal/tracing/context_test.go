package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestNewTurnID(t *testing.T) {
	id1 := NewTurnID()
	id2 := NewTurnID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithSessionID(ctx, "session-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "turn-1", GetTurnID(ctx))
	assert.Equal(t, "session-1", GetSessionID(ctx))
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetTurnID(ctx))
	assert.Empty(t, GetSessionID(ctx))
}

func TestNewContextPartial(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{TraceID: "only-trace"})

	assert.Equal(t, "only-trace", GetTraceID(ctx))
	assert.Empty(t, GetTurnID(ctx))
	assert.Empty(t, GetSessionID(ctx))
}

func TestNewTurnContext(t *testing.T) {
	parent := WithSessionID(context.Background(), "session-1")
	parent = WithTraceID(parent, "old-trace")

	ctx := NewTurnContext(parent)

	assert.NotEqual(t, "old-trace", GetTraceID(ctx))
	assert.NotEmpty(t, GetTurnID(ctx))
	assert.Equal(t, "session-1", GetSessionID(ctx))
}
