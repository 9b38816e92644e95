package agent

// EnsureSystemPrompt returns messages with prompt inserted at index 0 unless
// some message already has the system role. The input is not modified.
func EnsureSystemPrompt(messages []Message, prompt string) []Message {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return messages
		}
	}

	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: prompt})
	return append(out, messages...)
}

// Trim keeps every system message followed by the last window non-system
// messages, preserving relative order.
func Trim(messages []Message, window int) []Message {
	if window < 0 {
		window = 0
	}

	system := make([]Message, 0, 1)
	other := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}
	if len(other) > window {
		other = other[len(other)-window:]
	}

	return append(system, other...)
}

// WithDirective returns a copy of messages whose trailing user message has
// directive appended. Messages not ending in a user turn are returned as is.
func WithDirective(messages []Message, directive string) []Message {
	if directive == "" || len(messages) == 0 || messages[len(messages)-1].Role != RoleUser {
		return messages
	}

	out := make([]Message, len(messages))
	copy(out, messages)
	last := &out[len(out)-1]
	last.Content += directive
	return out
}
