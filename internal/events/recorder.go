package events

import (
	"sync"

	"github.com/portmonhq/portmon/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// Buffer keeps the most recent events, oldest first.
type Buffer struct {
	mu     sync.Mutex
	limit  int
	events []types.Event
}

func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = 256
	}
	return &Buffer{limit: limit}
}

func (b *Buffer) Record(event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	if over := len(b.events) - b.limit; over > 0 {
		b.events = append([]types.Event(nil), b.events[over:]...)
	}
}

func (b *Buffer) Events() []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Event(nil), b.events...)
}
