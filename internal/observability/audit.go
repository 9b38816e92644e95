package observability

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit operations against the tool service.
const (
	OpInvoke   = "invoke"
	OpDiscover = "discover"
)

// ToolAudit is one interaction with the tool service.
type ToolAudit struct {
	Session     string
	Operation   string
	Tool        string
	Arguments   map[string]any
	Duration    time.Duration
	ResultChars int
	Tools       int
	Err         error
}

// Status is "success" or "failure".
func (e ToolAudit) Status() string {
	if e.Err != nil {
		return "failure"
	}
	return "success"
}

// AuditLogger writes one JSON line per tool-service interaction
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var auditInst atomic.Pointer[AuditLogger]

// GetAuditLogger returns the process audit logger, stderr until configured.
func GetAuditLogger() *AuditLogger {
	if a := auditInst.Load(); a != nil {
		return a
	}
	auditInst.CompareAndSwap(nil, NewAuditLogger(zerolog.New(os.Stderr).With().Timestamp().Logger()))
	return auditInst.Load()
}

// InitAuditLogger points the process audit logger at a JSON-lines file.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	SetAuditLogger(&AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	})
	return nil
}

// NewAuditLogger builds an audit logger over an arbitrary zerolog logger.
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// SetAuditLogger replaces the process audit logger.
func SetAuditLogger(a *AuditLogger) {
	auditInst.Store(a)
}

// Record writes the event and mirrors it onto the active span, if any.
func (a *AuditLogger) Record(ctx context.Context, e ToolAudit) {
	var traceID string
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+e.Operation, trace.WithAttributes(
			attribute.String("audit.tool", e.Tool),
			attribute.String("audit.status", e.Status()),
			attribute.String("audit.session", e.Session),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("operation", e.Operation).
		Str("status", e.Status()).
		Int64("duration_ms", e.Duration.Milliseconds())
	if e.Session != "" {
		entry.Str("session", e.Session)
	}
	if traceID != "" {
		entry.Str("trace_id", traceID)
	}
	switch e.Operation {
	case OpInvoke:
		entry.Str("tool", e.Tool).Interface("arguments", e.Arguments).Int("result_chars", e.ResultChars)
	case OpDiscover:
		entry.Int("tools", e.Tools)
	}
	if e.Err != nil {
		entry.Str("error", e.Err.Error())
	}
	entry.Msg("")
}

// Close closes the audit file, if any
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// AuditToolCall records one tool invocation.
func AuditToolCall(ctx context.Context, e ToolAudit) {
	e.Operation = OpInvoke
	GetAuditLogger().Record(ctx, e)
}

// AuditDiscovery records one catalog discovery.
func AuditDiscovery(ctx context.Context, session string, tools int, duration time.Duration, err error) {
	GetAuditLogger().Record(ctx, ToolAudit{
		Session:   session,
		Operation: OpDiscover,
		Tools:     tools,
		Duration:  duration,
		Err:       err,
	})
}
