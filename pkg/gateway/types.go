package gateway

import (
	"time"

	"github.com/harun/seance/pkg/llm"
)

// ChatRequest is one inbound chat payload.
type ChatRequest struct {
	Messages []llm.Message `json:"messages"`
	Model    string        `json:"model"`
}

// DoneEvent terminates a turn.
type DoneEvent struct {
	Done bool `json:"done"`
}

// ErrorEvent terminates a turn that failed. The session stays open.
type ErrorEvent struct {
	Error string `json:"error"`
	Done  bool   `json:"done"`
}

// ModelsResponse is returned by GET /api/models
type ModelsResponse struct {
	Models []llm.ModelInfo `json:"models"`
	Error  string          `json:"error,omitempty"`
}

// PreloadRequest is accepted by POST /api/preload
type PreloadRequest struct {
	Model string `json:"model"`
}

// StatusResponse is a generic status body
type StatusResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ContextResponse carries the seed prompt built from the context query.
type ContextResponse struct {
	Context string `json:"context"`
}

// ToolInfo describes a cached tool for operators
type ToolInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
}

// ToolsResponse is returned by GET /api/tools
type ToolsResponse struct {
	Tools     []ToolInfo `json:"tools"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
}

// SessionInfo represents information about a connected session
type SessionInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Turns        int       `json:"turns"`
	Idle         bool      `json:"idle"`
}
