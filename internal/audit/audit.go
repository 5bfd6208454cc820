// Package audit emits the discrete domain events the security engine produces
// (token issued/rotated/revoked, session started/ended/trusted, role changes).
// The engine only publishes; formatting and retention belong to the sink.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sentra.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Sink receives domain events. Implementations must tolerate concurrent use.
type Sink interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

// LogSink writes events as structured JSON lines through the shared logger.
type LogSink struct{}

// Record implements Sink. Marshalling errors surface as an error log line
// rather than an error return; audit emission never fails a business flow.
func (LogSink) Record(ctx context.Context, event string, fields map[string]any) {
	_ = LogEvent(ctx, event, fields)
}

// nopSink drops every event.
type nopSink struct{}

func (nopSink) Record(context.Context, string, map[string]any) {}

// Nop returns a sink that discards events, for tests and optional wiring.
func Nop() Sink { return nopSink{} }

// LogEvent writes an audit log entry enriched with request context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
