package llm

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a request from the model to invoke a named tool.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Tool is the function-calling schema offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is an object-typed JSON schema.
type ToolParameters struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// ModelInfo describes a model available on the backend.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Options are the sampling options sent with every chat request.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx"`
	NumPredict  int     `json:"num_predict"`
}

// DefaultOptions returns deterministic sampling with a bounded context.
func DefaultOptions() Options {
	return Options{
		Temperature: 0,
		NumCtx:      4096,
		NumPredict:  1024,
	}
}

// ChatRequest is a single streaming chat call.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []Tool
	Options  Options
}

// ChatChunk is one increment of a streaming response.
type ChatChunk struct {
	Content   string
	ToolCalls []ToolCall
}

// StreamResult is the outcome of one streamed model call.
type StreamResult struct {
	Text          string
	ToolCalls     []ToolCall
	ToolsAttached bool
	Retried       bool
}
