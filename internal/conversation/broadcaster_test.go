// ABOUTME: Tests for the message-list broadcaster
// ABOUTME: Verifies fan-out, snapshot coalescing and idempotent unsubscription

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-sync/internal/chat"
)

func listOf(texts ...string) []chat.Message {
	out := make([]chat.Message, 0, len(texts))
	for i, text := range texts {
		out = append(out, chat.Message{
			ID:        text,
			Text:      text,
			CreatedAt: time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		})
	}
	return out
}

func TestBroadcaster_PublishReachesAllObservers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	ch1, _ := b.Subscribe(ctx)
	ch2, _ := b.Subscribe(ctx)

	b.Publish(listOf("a"))

	for _, ch := range []<-chan []chat.Message{ch1, ch2} {
		select {
		case list := <-ch:
			require.Len(t, list, 1)
			assert.Equal(t, "a", list[0].Text)
		case <-time.After(time.Second):
			t.Fatal("observer did not receive snapshot")
		}
	}
}

func TestBroadcaster_SlowObserverGetsLatest(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background())

	// Nobody reading: intermediate snapshots coalesce, the latest wins.
	b.Publish(listOf("a"))
	b.Publish(listOf("a", "b"))
	b.Publish(listOf("a", "b", "c"))

	select {
	case list := <-ch:
		assert.Len(t, list, 3)
	case <-time.After(time.Second):
		t.Fatal("observer did not receive snapshot")
	}
}

func TestBroadcaster_UnsubscribeIdempotent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background())
	b.Unsubscribe(subID)
	b.Unsubscribe(subID) // no-op

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Publishing after unsubscribe must not panic.
	b.Publish(listOf("a"))
}

func TestBroadcaster_ContextCancelCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel did not close after context cancellation")
		}
	}
}

// Observers come and go while the controller loop keeps publishing;
// a channel being closed mid-publish must never panic the publisher.
func TestBroadcaster_PublishDuringObserverChurn(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			_, subID := b.Subscribe(context.Background())
			b.Unsubscribe(subID)
		}
	}()

	snapshot := listOf("a")
	for {
		select {
		case <-done:
			return
		default:
			b.Publish(snapshot)
		}
	}
}

func TestBroadcaster_CloseIdempotent(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(context.Background())

	b.Close()
	b.Close() // no-op

	_, ok := <-ch
	assert.False(t, ok)

	// Subscribing after close yields a closed channel.
	late, _ := b.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)
}
