// ABOUTME: Conversation lifecycle state machine for lazy 1:1 creation
// ABOUTME: Tracks the creation race and guarantees single teardown of its listener

package conversation

import (
	"log/slog"

	"github.com/2389/chat-sync/internal/chat"
	"github.com/2389/chat-sync/internal/codec"
	"github.com/2389/chat-sync/internal/docstore"
)

// lifecycleState is the creation state for the "no conversation yet" case.
type lifecycleState string

const (
	lifecycleNone     lifecycleState = "no_conversation"
	lifecycleRacing   lifecycleState = "racing_creation"
	lifecycleCreating lifecycleState = "creating"
	lifecycleResolved lifecycleState = "resolved"
)

// lifecycle coordinates lazy conversation creation. All methods run on
// the controller loop; there is no locking here.
//
// Transitions: none -> racing -> creating -> resolved, with creating
// falling back to none when the remote create fails, or none ->
// resolved directly when a conversation is supplied at construction.
// Once resolved the race listener is torn down and never reactivated.
// At most one create is in flight at a time; concurrent senders wait
// on its outcome instead of creating again.
type lifecycle struct {
	state      lifecycleState
	raceSub    *docstore.Subscription
	createDone chan struct{}
	logger     *slog.Logger
}

func newLifecycle(logger *slog.Logger) *lifecycle {
	return &lifecycle{
		state:  lifecycleNone,
		logger: logger,
	}
}

// beginRace enters RacingCreation with the given listener on
// "conversations containing the current user".
func (l *lifecycle) beginRace(sub *docstore.Subscription) {
	l.state = lifecycleRacing
	l.raceSub = sub
	l.logger.Debug("creation race started")
}

// racing reports whether the race listener is live.
func (l *lifecycle) racing() bool {
	return l.state == lifecycleRacing
}

// creating reports whether a remote conversation create is in flight.
func (l *lifecycle) creating() bool {
	return l.state == lifecycleCreating
}

// beginCreate claims the single creation slot. The race listener is
// torn down in the same step, so a peer-created conversation can no
// longer resolve this lifecycle once a local create is committed to.
func (l *lifecycle) beginCreate() {
	l.teardownRace()
	l.state = lifecycleCreating
	l.createDone = make(chan struct{})
	l.logger.Debug("conversation create in flight")
}

// inFlight returns the channel closed when the current create ends.
// Only meaningful while creating.
func (l *lifecycle) inFlight() <-chan struct{} {
	return l.createDone
}

// endCreate releases the creation slot and wakes every waiter. A
// failed create falls back to none; a successful one has already
// resolved. Idempotent.
func (l *lifecycle) endCreate() {
	if l.createDone != nil {
		close(l.createDone)
		l.createDone = nil
	}
	if l.state == lifecycleCreating {
		l.state = lifecycleNone
	}
}

// resolved reports whether a conversation identifier is final.
func (l *lifecycle) resolved() bool {
	return l.state == lifecycleResolved
}

// teardownRace cancels the race listener. Idempotent: calling it twice,
// or after the race already resolved, is a no-op. The listener is never
// restarted afterwards.
func (l *lifecycle) teardownRace() {
	if l.raceSub != nil {
		l.raceSub.Cancel()
		l.raceSub = nil
	}
	if l.state == lifecycleRacing {
		l.state = lifecycleNone
	}
}

// resolve finalizes the lifecycle. The race listener, if still live, is
// torn down permanently.
func (l *lifecycle) resolve() {
	if l.raceSub != nil {
		l.raceSub.Cancel()
		l.raceSub = nil
	}
	l.state = lifecycleResolved
}

// matchRace scans a conversations snapshot for a conversation with
// exactly the two given participants and returns its id.
func matchRace(docs []docstore.Document, users *chat.Directory, selfID, peerID string) (string, bool) {
	for _, doc := range docs {
		conv, ok := codec.DecodeConversation(doc, users)
		if !ok {
			continue
		}
		if !conv.IsOneToOne() {
			continue
		}
		var hasSelf, hasPeer bool
		for _, p := range conv.Participants {
			switch p.ID {
			case selfID:
				hasSelf = true
			case peerID:
				hasPeer = true
			}
		}
		if hasSelf && hasPeer {
			return conv.ID, true
		}
	}
	return "", false
}
