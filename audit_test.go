package authcache

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(4)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	d.Emit(context.Background(), AuditEvent{EventType: AuditTamperDetected, SubjectID: "user-1"})

	select {
	case ev := <-sink.Events():
		if ev.EventType != AuditTamperDetected || ev.SubjectID != "user-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.EventID == "" || ev.Timestamp.IsZero() {
			t.Fatalf("event not stamped: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{}, NewChannelSink(1))
	if d != nil {
		t.Fatal("disabled audit built a dispatcher")
	}
	d.Emit(context.Background(), AuditEvent{}) // nil receiver must be safe
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func TestDispatcherDropIfFull(t *testing.T) {
	// A stalled sink keeps the worker busy, so the dispatch buffer fills
	// and further events drop instead of blocking the caller.
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer d.Close()
	defer close(sink.release)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditRateLimited})
	}
	if d.Dropped() == 0 {
		t.Fatal("no events counted as dropped")
	}
}

func TestDispatcherCloseDrains(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditSessionInvalidated})
	}
	d.Close()

	lines := strings.Count(buf.String(), "\n")
	if lines != 5 {
		t.Fatalf("drained %d events, want 5", lines)
	}
}

func TestJSONWriterSinkOutput(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		EventType: AuditAuthRejected,
		ClientIP:  "203.0.113.9",
		Error:     "bad signature",
	})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["event_type"] != AuditAuthRejected || decoded["client_ip"] != "203.0.113.9" {
		t.Fatalf("unexpected fields: %v", decoded)
	}
}
