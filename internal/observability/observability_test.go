package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	SetActiveSessions(2)
	RecordTurn(1500*time.Millisecond, 2, true)
	RecordModelCall("ollama", time.Second, true)
	RecordToolSchemaFallback("ollama")
	RecordToolExecution("search_splunk", 200*time.Millisecond, false)
	RecordToolDiscovery(true)
	RecordToolCacheLookup(true)
	RecordExtraction("query-line")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "chat_sessions_active 2")
	assert.Contains(t, body, `model_tool_schema_fallback_total{provider="ollama"} 1`)
	assert.Contains(t, body, `tool_errors_total{tool="search_splunk"} 1`)
	assert.Contains(t, body, `tool_call_extraction_total{strategy="query-line"} 1`)
	assert.Contains(t, body, `tool_cache_lookups_total{result="hit"} 1`)
}

func TestAuditLogger(t *testing.T) {
	t.Run("invocation record", func(t *testing.T) {
		var buf bytes.Buffer
		a := NewAuditLogger(zerolog.New(&buf))

		a.Record(context.Background(), ToolAudit{
			Session:     "session-1",
			Operation:   OpInvoke,
			Tool:        "search_splunk",
			Arguments:   map[string]any{"search_query": "search index=main"},
			Duration:    12 * time.Millisecond,
			ResultChars: 340,
		})

		out := buf.String()
		assert.Contains(t, out, `"operation":"invoke"`)
		assert.Contains(t, out, `"status":"success"`)
		assert.Contains(t, out, `"session":"session-1"`)
		assert.Contains(t, out, `"tool":"search_splunk"`)
		assert.Contains(t, out, `"search_query":"search index=main"`)
		assert.Contains(t, out, `"duration_ms":12`)
		assert.Contains(t, out, `"result_chars":340`)
		assert.NotContains(t, out, `"error"`)
	})

	t.Run("discovery failure record", func(t *testing.T) {
		var buf bytes.Buffer
		a := NewAuditLogger(zerolog.New(&buf))

		a.Record(context.Background(), ToolAudit{
			Operation: OpDiscover,
			Err:       errors.New("connection refused"),
		})

		out := buf.String()
		assert.Contains(t, out, `"operation":"discover"`)
		assert.Contains(t, out, `"status":"failure"`)
		assert.Contains(t, out, `"tools":0`)
		assert.Contains(t, out, `"error":"connection refused"`)
		assert.NotContains(t, out, `"session"`)
	})

	t.Run("file sink", func(t *testing.T) {
		prev := GetAuditLogger()
		t.Cleanup(func() { SetAuditLogger(prev) })

		path := filepath.Join(t.TempDir(), "logs", "audit.log")
		require.NoError(t, InitAuditLogger(path))

		AuditToolCall(context.Background(), ToolAudit{
			Session: "session-2",
			Tool:    "search_splunk",
			Err:     errors.New("splunk unreachable"),
		})
		AuditDiscovery(context.Background(), "", 3, time.Second, nil)
		require.NoError(t, GetAuditLogger().Close())
		require.NoError(t, GetAuditLogger().Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"operation":"invoke"`)
		assert.Contains(t, lines[0], `"status":"failure"`)
		assert.Contains(t, lines[1], `"operation":"discover"`)
		assert.Contains(t, lines[1], `"tools":3`)
	})

	t.Run("default sink", func(t *testing.T) {
		prev := GetAuditLogger()
		t.Cleanup(func() { SetAuditLogger(prev) })

		SetAuditLogger(nil)
		assert.NotNil(t, GetAuditLogger())
	})
}
