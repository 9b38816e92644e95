package toolexecutor

import (
	"context"
	"errors"
)

// ErrToolFailed wraps errors reported by the tool service itself.
var ErrToolFailed = errors.New("tool reported an error")

// ToolSpec describes a tool published by the tool service.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema is the object schema of a tool's arguments.
type ParameterSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// Conn is one live session with the tool service.
type Conn interface {
	ListTools(ctx context.Context) ([]ToolSpec, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Dialer opens sessions with the tool service.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Backend performs discovery and invocation against the tool service.
type Backend interface {
	Discover(ctx context.Context) ([]ToolSpec, error)
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}
