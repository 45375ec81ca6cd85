package ringlog

import (
	"sync"
	"time"
)

const DefaultCapacity = 200

// Event is one processing-stage record kept for operational triage.
// Events are never persisted; the buffer exists so a misbehaving webhook
// can be inspected without shelling into the database.
type Event struct {
	Stage     string    `json:"stage"`
	Type      string    `json:"type"`
	EventID   string    `json:"event_id"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Buffer is a fixed-capacity append-only ring. Oldest entries are evicted
// first; existing entries are never mutated or deleted individually.
type Buffer struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	count int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{buf: make([]Event, capacity)}
}

// Append records an event, evicting the oldest entry when full.
func (b *Buffer) Append(stage, typ, eventID, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf[b.next] = Event{
		Stage:     stage,
		Type:      typ,
		EventID:   eventID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	b.next = (b.next + 1) % len(b.buf)
	if b.count < len(b.buf) {
		b.count++
	}
}

// Snapshot returns the buffered events oldest-first.
func (b *Buffer) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, b.count)
	start := b.next - b.count
	if start < 0 {
		start += len(b.buf)
	}
	for i := 0; i < b.count; i++ {
		out = append(out, b.buf[(start+i)%len(b.buf)])
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
