// Package bus provides the in-process publish point for position-change
// events. Producers (the position watcher) never see consumers directly;
// every consumer gets its own buffered queue with an explicit unsubscribe
// lifecycle.
package bus

import (
	"log/slog"
	"sync"

	"polycopy/internal/domain"
)

// DefaultQueueSize is the per-consumer buffer. The coordinator drains far
// faster than traders are polled, so this never fills in practice.
const DefaultQueueSize = 64

// ChangeBus fans position changes out to subscribers. Publishing to a full
// subscriber queue drops the event for that subscriber only.
type ChangeBus struct {
	mu        sync.RWMutex
	subs      map[int]chan domain.PositionChange
	nextID    int
	queueSize int
	logger    *slog.Logger
}

// New creates a ChangeBus with the given per-consumer queue size; size <= 0
// uses DefaultQueueSize.
func New(queueSize int, logger *slog.Logger) *ChangeBus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &ChangeBus{
		subs:      make(map[int]chan domain.PositionChange),
		queueSize: queueSize,
		logger:    logger.With(slog.String("component", "change_bus")),
	}
}

// Subscribe registers a new consumer and returns its receive channel together
// with an unsubscribe function. Unsubscribing closes the channel and is safe
// to call more than once.
func (b *ChangeBus) Subscribe() (<-chan domain.PositionChange, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan domain.PositionChange, b.queueSize)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if cur, ok := b.subs[id]; ok && cur == ch {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

// Publish delivers the change to every subscriber without blocking. A
// subscriber whose queue is full misses this event.
func (b *ChangeBus) Publish(change domain.PositionChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
			b.logger.Warn("subscriber queue full, dropping change",
				slog.String("trader_id", change.TraderID),
				slog.String("token_id", change.TokenID),
				slog.String("type", string(change.Type)),
			)
		}
	}
}

// Subscribers returns the current consumer count.
func (b *ChangeBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Pending events already queued remain readable
// until each channel is drained.
func (b *ChangeBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
