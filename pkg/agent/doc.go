// Package agent runs the bounded tool-calling loop behind one chat turn.
//
// Invariants:
// - Conversation state is fresh per turn; nothing persists between turns.
// - At most MaxRounds model calls happen per turn.
// - Tool calls run sequentially in extraction order; each is previewed first.
// - A failing tool never aborts the turn; its error text is folded back instead.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Model:     llmClient,
//		Tools:     registry,
//		Extractor: agent.NewExtractor("search_splunk", "search_query"),
//		Logger:    logger,
//	})
//	messages := agent.EnsureSystemPrompt(incoming, prompts.Current())
//	result, _ := runner.RunTurn(ctx, "llama3.1:8b", messages, sink)
//	_ = result
package agent
