// Package toolexecutor discovers and invokes tools exposed by an external MCP
// service, caching the catalog and isolating every call.
//
// Invariants:
// - The tool catalog is reused while younger than the TTL and replaced atomically.
// - A failed discovery never clears or overwrites a good catalog.
// - Every remote call runs on its own goroutine with its own context and MCP session.
// - A captured result survives failures while releasing the session.
//
// Usage:
//
//	dialer := toolexecutor.NewMCPDialer(toolexecutor.MCPConfig{Endpoint: "http://mcp:8050/sse", Token: token})
//	isolator := toolexecutor.NewIsolator(dialer, logger)
//	registry := toolexecutor.NewRegistry(isolator, toolexecutor.RegistryConfig{TTL: 5 * time.Minute}, logger)
//	tools := registry.ListTools(ctx)
//	text, err := registry.Invoke(ctx, "search_splunk", map[string]any{"search_query": "search index=main"})
package toolexecutor
