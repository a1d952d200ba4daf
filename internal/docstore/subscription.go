// ABOUTME: Snapshot subscriptions and the per-collection change notifier
// ABOUTME: Subscriptions re-run their query on every change and emit full snapshots

package docstore

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription delivers full snapshots of a query's results. The first
// snapshot reflects the state at subscribe time; each subsequent change
// to the underlying collection produces a fresh full snapshot.
// Intermediate snapshots may be coalesced, the latest always arrives.
type Subscription struct {
	snapshots  chan []Document
	signal     chan struct{}
	done       chan struct{}
	cancelOnce sync.Once
	unsub      func()
}

// Snapshots returns the channel snapshots are delivered on. The channel
// is closed after Cancel.
func (s *Subscription) Snapshots() <-chan []Document {
	return s.snapshots
}

// Cancel tears the subscription down. Synchronous and idempotent:
// calling it twice, or after the subscription already ended, is a no-op.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.unsub()
		close(s.done)
	})
}

// run is the subscription goroutine: query, emit, wait for a change
// signal, repeat. Query errors are logged and skipped; the subscription
// stays alive (transport recovery is the store's concern).
func (s *Subscription) run(query func() ([]Document, error), logger *slog.Logger) {
	defer close(s.snapshots)
	for {
		docs, err := query()
		if err != nil {
			logger.Warn("snapshot query failed", "error", err)
		} else {
			select {
			case s.snapshots <- docs:
			case <-s.done:
				return
			}
		}
		select {
		case <-s.signal:
		case <-s.done:
			return
		}
	}
}

// notifier is in-process pub/sub of collection change signals. Writers
// signal the collection path; each subscription coalesces signals
// through a capacity-1 channel so writers never block.
type notifier struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan struct{} // collection path -> subID -> signal
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[string]chan struct{})}
}

func (n *notifier) subscribe(path string) (chan struct{}, string) {
	subID := uuid.New().String()
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if _, ok := n.subs[path]; !ok {
		n.subs[path] = make(map[string]chan struct{})
	}
	n.subs[path][subID] = ch
	n.mu.Unlock()

	return ch, subID
}

func (n *notifier) unsubscribe(path, subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.subs[path]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(n.subs, path)
	}
}

func (n *notifier) notify(path string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs[path] {
		select {
		case ch <- struct{}{}:
		default:
			// A signal is already pending; the next re-query covers this change.
		}
	}
}

// newSubscription wires a query loop to the notifier and starts it.
func newSubscription(n *notifier, path string, query func() ([]Document, error), logger *slog.Logger) *Subscription {
	signal, subID := n.subscribe(path)
	s := &Subscription{
		snapshots: make(chan []Document, 1),
		signal:    signal,
		done:      make(chan struct{}),
		unsub:     func() { n.unsubscribe(path, subID) },
	}
	go s.run(query, logger)
	return s
}

// sortByField orders documents ascending by the given field, using
// timestamp comparison where both values are times and falling back to
// string comparison otherwise. Documents missing the field sort first.
func sortByField(docs []Document, field string) {
	sort.SliceStable(docs, func(i, j int) bool {
		return lessValues(docs[i].Fields[field], docs[j].Fields[field])
	})
}

func lessValues(a, b any) bool {
	at, aok := asTime(a)
	bt, bok := asTime(b)
	if aok && bok {
		return at.Before(bt)
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return as < bs
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// arrayContains reports whether the array field value contains want.
func arrayContains(v, want any) bool {
	switch arr := v.(type) {
	case []any:
		for _, e := range arr {
			if e == want {
				return true
			}
		}
	case []string:
		s, ok := want.(string)
		if !ok {
			return false
		}
		for _, e := range arr {
			if e == s {
				return true
			}
		}
	}
	return false
}
