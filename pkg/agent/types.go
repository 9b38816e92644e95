package agent

import (
	"github.com/harun/seance/pkg/llm"
)

// Message is one conversation turn.
type Message = llm.Message

// ToolCall is one requested tool invocation.
type ToolCall = llm.ToolCall

const (
	RoleSystem    = llm.RoleSystem
	RoleUser      = llm.RoleUser
	RoleAssistant = llm.RoleAssistant
)

// ToolResult is the outcome of one tool call. Text holds the folded text,
// which is the error message when Err is set.
type ToolResult struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Text      string         `json:"text"`
	Err       error          `json:"-"`
}

// Round is one model call plus the tool calls it produced.
type Round struct {
	Index    int          `json:"index"`
	Text     string       `json:"text"`
	Calls    []ToolCall   `json:"calls,omitempty"`
	Results  []ToolResult `json:"results,omitempty"`
	Strategy string       `json:"strategy,omitempty"`
	Retried  bool         `json:"retried,omitempty"`
}

// TurnResult summarises a completed turn.
type TurnResult struct {
	Model  string  `json:"model"`
	Rounds []Round `json:"rounds"`
}

// Sink receives everything the turn streams to the client.
type Sink interface {
	// Text forwards a raw model text chunk.
	Text(chunk string) error
	// Preview announces a tool call before it runs.
	Preview(tool, argument string) error
}
