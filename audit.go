package authcache

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the engine. Only security-relevant
// decisions are audited; plain cache traffic is visible through metrics.
const (
	// AuditTamperDetected fires when a cached session blob fails its
	// authenticated decryption.
	AuditTamperDetected = "session.tamper_detected"
	// AuditRateLimited fires when a request is refused on budget.
	AuditRateLimited = "request.rate_limited"
	// AuditKeysUnavailable fires when authentication fails closed because
	// no verification keys are available within grace.
	AuditKeysUnavailable = "jwks.keys_unavailable"
	// AuditSessionInvalidated fires on explicit session invalidation.
	AuditSessionInvalidated = "session.invalidated"
	// AuditAuthRejected fires when a presented token is rejected.
	AuditAuthRejected = "auth.rejected"
)

// AuditEvent is one security event. Events are emitted asynchronously and
// must not be mutated after Emit.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	EventID   string            `json:"event_id"`
	SubjectID string            `json:"subject_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives engine audit events. Emit must be safe for concurrent
// use and should return promptly; the dispatcher already decouples it from
// the request path.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink hands events to a consumer over a buffered channel.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
