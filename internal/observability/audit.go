package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event categories.
const (
	AuditTool    = "tool"
	AuditCall    = "call"
	AuditCatalog = "catalog"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Category string
	Action   string // "navigate_to", "register_web_call", "reload"
	CallID   string
	Status   string // "success" or "error"
	Fields   map[string]interface{}
}

// AuditTrail appends JSON lines describing side effects the relay performed
// on behalf of a call: queued page commands, registered web calls and data
// file reloads.
type AuditTrail struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var (
	auditMu    sync.RWMutex
	auditTrail = &AuditTrail{logger: zerolog.Nop()}
)

// OpenAuditTrail opens (or creates) the audit file at path and installs it as
// the process audit trail. An empty path keeps auditing disabled.
func OpenAuditTrail(path string) (*AuditTrail, error) {
	if path == "" {
		return Audit(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	trail := NewAuditTrail(file)
	trail.closer = file
	SetAudit(trail)
	return trail, nil
}

// NewAuditTrail writes audit lines to w.
func NewAuditTrail(w io.Writer) *AuditTrail {
	return &AuditTrail{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Audit returns the process audit trail. It discards events until one is
// installed.
func Audit() *AuditTrail {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditTrail
}

// SetAudit installs trail; nil restores the discarding trail.
func SetAudit(trail *AuditTrail) {
	if trail == nil {
		trail = &AuditTrail{logger: zerolog.Nop()}
	}
	auditMu.Lock()
	auditTrail = trail
	auditMu.Unlock()
}

// Record writes event and mirrors it onto the active span, if any.
func (a *AuditTrail) Record(ctx context.Context, event AuditEvent) {
	traceID := ""
	if ctx != nil {
		span := trace.SpanFromContext(ctx)
		if sc := span.SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
			span.AddEvent("audit."+event.Category, trace.WithAttributes(
				attribute.String("audit.action", event.Action),
				attribute.String("audit.status", event.Status),
			))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("category", event.Category).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.CallID != "" {
		entry = entry.Str("call_id", event.CallID)
	}
	if traceID != "" {
		entry = entry.Str("trace_id", traceID)
	}
	if len(event.Fields) > 0 {
		entry = entry.Fields(event.Fields)
	}
	entry.Send()
}

// Close closes the audit file, if one was opened.
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	a.logger = zerolog.Nop()
	return err
}

// RecordToolAudit notes a tool that ran for a call.
func RecordToolAudit(ctx context.Context, tool, callID string, success bool, took time.Duration) {
	Audit().Record(ctx, AuditEvent{
		Category: AuditTool,
		Action:   tool,
		CallID:   callID,
		Status:   statusLabel(success),
		Fields:   map[string]interface{}{"duration_ms": took.Milliseconds()},
	})
}

// RecordCallAudit notes a web-call registration attempt.
func RecordCallAudit(ctx context.Context, agentID, callID string, success bool) {
	Audit().Record(ctx, AuditEvent{
		Category: AuditCall,
		Action:   "register_web_call",
		CallID:   callID,
		Status:   statusLabel(success),
		Fields:   map[string]interface{}{"agent_id": agentID},
	})
}

// RecordCatalogAudit notes a data file reload.
func RecordCatalogAudit(source, path string, success bool) {
	Audit().Record(context.Background(), AuditEvent{
		Category: AuditCatalog,
		Action:   "reload",
		Status:   statusLabel(success),
		Fields:   map[string]interface{}{"source": source, "path": path},
	})
}
