// ABOUTME: Fan-out of full message-list snapshots to controller observers
// ABOUTME: Every publish replaces the subscriber's view; latest snapshot always wins

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/chat-sync/internal/chat"
)

// Broadcaster provides in-memory pub/sub of message-list snapshots.
// Each publish carries the complete ordered list; subscribers must
// tolerate the entire visible list changing on every event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan []chat.Message
	closed bool
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string]chan []chat.Message),
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe registers an observer. Returns the snapshot channel and a
// subscription ID for later unsubscription. The subscription is cleaned
// up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan []chat.Message, string) {
	subID := uuid.New().String()
	ch := make(chan []chat.Message, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subs[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("observer added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers a snapshot to every observer. Snapshots coalesce:
// a slow observer skips intermediate lists but always receives the
// latest one. The lock is held across the sends, which are all
// non-blocking; Unsubscribe closes channels under the write lock, so a
// channel can never be closed while a send is in flight.
func (b *Broadcaster) Publish(list []chat.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- list:
		default:
			// Stale snapshot pending; replace it with the current one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- list:
			default:
			}
		}
	}
}

// Unsubscribe removes an observer and closes its channel. Idempotent.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[subID]
	if !ok {
		return
	}
	delete(b.subs, subID)
	close(ch)

	b.logger.Debug("observer removed", "sub_id", subID)
}

// Close shuts the broadcaster down and closes all observer channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for subID, ch := range b.subs {
		close(ch)
		delete(b.subs, subID)
	}
}
