// Package conversation implements the real-time conversation sync
// controller: it keeps a local, ordered view of a conversation's
// messages consistent with the remote message log while supporting
// optimistic local sends and lazy 1:1 conversation creation.
//
// # Controller
//
// A Controller owns exactly one conversation context:
//
//	ctrl, err := conversation.New(conversation.Options{
//		Store:        store,
//		Uploader:     uploader,
//		Session:      sess,
//		Users:        directory,
//		Conversation: conv,
//	})
//
// Key operations:
//
//   - Send(draft): append a pending message and deliver it remotely
//   - Subscribe(ctx): observe the full ordered message list
//   - Messages(): snapshot of the current list
//   - ConversationID(): resolved identifier, "" before creation
//
// # Concurrency
//
// All mutation of the message list and conversation state happens on a
// single run-loop goroutine. Send network legs run concurrently (two
// sends may be in flight at once) but reconcile their outcomes on the
// loop, targeting entries by id lookup. The stream subscription's
// publishes are full replacements of the visible list.
//
// # Lazy 1:1 creation
//
// A controller opened against a single other user with no existing
// conversation races its own first-send creation against a listener for
// conversations created by the peer. Whichever resolves first wins; the
// loser never creates because it tears down its race listener before
// writing. At most one create is in flight per controller: sends that
// arrive while a create is pending wait for its outcome rather than
// creating again. Both peers converge on one shared conversation record.
//
// # Status lifecycle
//
// A sent message is Pending the moment Send returns, then transitions
// to exactly one of Confirmed or Failed when the remote write ends.
// Failed entries retain the original draft for retry. Once the stream
// reports a message id, its record is authoritative and replaces the
// local pending copy.
package conversation
