package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/config"
	"github.com/friendsincode/inkpress/internal/events"
)

type sent struct {
	subject string
	data    []byte
}

type fakeSink struct {
	mu     sync.Mutex
	sent   []sent
	fail   bool
	closed bool
}

func (s *fakeSink) Send(_ context.Context, subject string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker down")
	}
	s.sent = append(s.sent, sent{subject, data})
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func waitCount(t *testing.T, s *fakeSink, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink received %d messages, want %d", s.count(), n)
}

func TestRelayForwardsEvents(t *testing.T) {
	bus := events.NewBus()
	sink := &fakeSink{}
	r := NewRelay(bus, sink, "fake", "inkpress.events", "node-a", zerolog.Nop())
	r.Start(context.Background())

	bus.Publish(events.EventChapterReady, events.Payload{"chapter_id": "c1"})
	waitCount(t, sink, 1)

	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !sink.closed {
		t.Fatal("sink not closed")
	}

	got := sink.sent[0]
	if got.subject != "inkpress.events.chapter.ready" {
		t.Fatalf("subject = %q", got.subject)
	}
	msg, err := Unmarshal(got.data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.EventType != events.EventChapterReady || msg.NodeID != "node-a" || msg.MessageID == "" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Payload["chapter_id"] != "c1" {
		t.Fatalf("payload = %v", msg.Payload)
	}
}

func TestRelayKeepsRunningAfterSendFailure(t *testing.T) {
	bus := events.NewBus()
	sink := &fakeSink{fail: true}
	r := NewRelay(bus, sink, "fake", "", "", zerolog.Nop())
	r.Start(context.Background())
	defer r.Stop()

	bus.Publish(events.EventFileFailed, events.Payload{"file_id": "f"})
	time.Sleep(20 * time.Millisecond)

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	bus.Publish(events.EventFileProcessed, events.Payload{"file_id": "f"})
	waitCount(t, sink, 1)
	if s := sink.sent[0].subject; s != string(events.EventFileProcessed) {
		t.Fatalf("subject = %q", s)
	}
}

func TestNewMemoryBackendHasNoRelay(t *testing.T) {
	r, err := New(&config.Config{EventBus: config.EventBusMemory}, events.NewBus(), zerolog.Nop())
	if err != nil || r != nil {
		t.Fatalf("New = %v, %v", r, err)
	}
	if _, err := New(&config.Config{EventBus: "kafka"}, events.NewBus(), zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
