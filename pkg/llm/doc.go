// Package llm streams chat completions from a model backend and negotiates
// tool-schema support per round.
//
// Invariants:
// - Text chunks reach the emit callback as soon as the backend yields them.
// - Structured tool calls are buffered and returned with the final result.
// - A backend that rejects tool schemas is retried once, without tools, in the same round.
//
// Usage:
//
//	provider, _ := llm.NewProvider(llm.ProviderConfig{Kind: "ollama", BaseURL: "http://localhost:11434"})
//	client := llm.NewClient(provider, llm.DefaultOptions(), logger)
//	caps := llm.NewCapabilities()
//	result, _ := client.Stream(ctx, "llama3.1:8b", messages, tools, caps, func(chunk string) error {
//		return conn.WriteMessage(websocket.TextMessage, []byte(chunk))
//	})
//	_ = result
package llm
