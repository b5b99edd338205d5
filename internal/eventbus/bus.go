// Package eventbus carries events from many worker goroutines to one consumer.
//
// Producers only append to an in-memory queue. The consumer drains it on a fixed
// interval and dispatches every event, in queue order, to the subscribers of its
// Kind. Subscribers therefore always run on the consumer goroutine.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

type Bus struct {
	mu    sync.Mutex
	queue []Event

	drainMu sync.Mutex
	topics  evbus.Bus
}

func New() *Bus {
	return &Bus{topics: evbus.New()}
}

// Publish enqueues e. Safe for concurrent use; events from one goroutine keep their order.
func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()
}

// Logf publishes an info-level Log event.
func (b *Bus) Logf(format string, args ...any) {
	b.Publish(Log{Level: slog.LevelInfo, Text: fmt.Sprintf(format, args...)})
}

func (b *Bus) Warnf(format string, args ...any) {
	b.Publish(Log{Level: slog.LevelWarn, Text: fmt.Sprintf(format, args...)})
}

// Subscribe registers fn for events of kind k. Register before the consumer starts;
// fn must not call Subscribe itself.
func (b *Bus) Subscribe(k Kind, fn func(Event)) error {
	return b.topics.Subscribe(string(k), fn)
}

// Len is the number of queued, not yet dispatched events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Drain dispatches everything queued so far and returns how many events it handled.
// Events published by subscribers during the drain wait for the next one.
func (b *Bus) Drain() int {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, e := range batch {
		b.dispatch(e)
	}
	return len(batch)
}

func (b *Bus) dispatch(e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.Publish(Log{Level: slog.LevelError, Text: fmt.Sprintf("[bus] handler for %s panicked: %v", e.Kind(), r)})
		}
	}()
	b.topics.Publish(string(e.Kind()), e)
}

// Run drains the queue every interval until ctx is done, then drains until the queue is empty.
func (b *Bus) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			for b.Drain() > 0 {
			}
			return
		case <-t.C:
			b.Drain()
		}
	}
}
