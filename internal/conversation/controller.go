// ABOUTME: Sync controller keeping the local ordered message list consistent with the remote log
// ABOUTME: Coordinates optimistic sends, the message stream and lazy conversation creation

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-sync/internal/chat"
	"github.com/2389/chat-sync/internal/codec"
	"github.com/2389/chat-sync/internal/docstore"
	"github.com/2389/chat-sync/internal/media"
	"github.com/2389/chat-sync/internal/session"
)

// Fixed collection names spoken against the remote store.
const (
	collectionConversations = "conversations"
	collectionMessages      = "messages"
)

// messagesPath addresses the nested per-conversation message log.
func messagesPath(conversationID string) string {
	return collectionConversations + "/" + conversationID + "/" + collectionMessages
}

// Construction errors
var (
	ErrNoStore   = errors.New("store is required")
	ErrNoSession = errors.New("session provider is required")
	ErrNoUser    = errors.New("no current user")
)

// Options configures a Controller.
type Options struct {
	Store    docstore.Store
	Uploader media.Uploader
	Session  session.Provider
	Users    *chat.Directory

	// Conversation is the conversation context. A non-empty ID means the
	// conversation already exists (e.g. a group created elsewhere) and
	// the message stream attaches immediately. An empty ID with exactly
	// two participants enters the 1:1 creation race; the conversation is
	// then created lazily on first send or discovered when the peer
	// creates it first.
	Conversation *chat.Conversation

	Logger *slog.Logger
}

// Controller owns one conversation context: the local ordered message
// list, the lifecycle of a not-yet-created 1:1 conversation, and the
// single active stream subscription. All state mutation happens on one
// run-loop goroutine; send network legs run concurrently and post their
// status mutations back to the loop by message id.
type Controller struct {
	store    docstore.Store
	uploader media.Uploader
	session  session.Provider
	users    *chat.Directory
	logger   *slog.Logger

	broadcaster *Broadcaster

	apply   chan applyReq
	stop    chan struct{}
	stopped chan struct{}

	// Loop-owned state. Never touched off the loop.
	messages  []*chat.Message
	conv      *chat.Conversation
	lifecycle *lifecycle
	stream    *docstore.Subscription
	streamCh  <-chan []docstore.Document
	raceCh    <-chan []docstore.Document
}

type applyReq struct {
	fn   func()
	done chan struct{}
}

// New builds a controller and starts its run loop. The caller must
// Close it when done.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	if opts.Session == nil {
		return nil, ErrNoSession
	}
	if _, ok := opts.Session.CurrentUserID(); !ok {
		return nil, ErrNoUser
	}
	if opts.Users == nil {
		opts.Users = chat.NewDirectory()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "controller")

	conv := opts.Conversation
	if conv == nil {
		conv = &chat.Conversation{}
	}

	c := &Controller{
		store:       opts.Store,
		uploader:    opts.Uploader,
		session:     opts.Session,
		users:       opts.Users,
		logger:      logger,
		broadcaster: NewBroadcaster(opts.Logger),
		apply:       make(chan applyReq),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		conv:        conv,
		lifecycle:   newLifecycle(logger),
	}

	go c.run()

	// Initial lifecycle setup happens on the loop so subscription state
	// is owned by a single goroutine from the start.
	c.do(func() {
		if c.conv.ID != "" {
			c.lifecycle.resolve()
			c.attachStream(c.conv.ID)
			return
		}
		if c.conv.IsOneToOne() {
			c.beginRace()
		}
	})

	return c, nil
}

// Close tears down all subscriptions, stops the loop and closes every
// observer channel. Idempotent.
func (c *Controller) Close() {
	select {
	case <-c.stopped:
		return
	default:
	}
	select {
	case c.stop <- struct{}{}:
		<-c.stopped
	case <-c.stopped:
	}
}

// run is the single-threaded controller loop. Listener callbacks and
// send completions are scheduled here, never run in parallel with each
// other with respect to shared state.
func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case req := <-c.apply:
			req.fn()
			close(req.done)
		case docs, ok := <-c.streamCh:
			if !ok {
				c.streamCh = nil
				continue
			}
			c.handleStreamSnapshot(docs)
		case docs, ok := <-c.raceCh:
			if !ok {
				c.raceCh = nil
				continue
			}
			c.handleRaceSnapshot(docs)
		case <-c.stop:
			c.lifecycle.teardownRace()
			c.lifecycle.endCreate()
			c.detachStream()
			c.broadcaster.Close()
			return
		}
	}
}

// do executes fn on the loop and waits for it to complete. Returns
// false if the controller stopped before fn could run.
func (c *Controller) do(fn func()) bool {
	req := applyReq{fn: fn, done: make(chan struct{})}
	select {
	case c.apply <- req:
		<-req.done
		return true
	case <-c.stopped:
		return false
	}
}

// Subscribe registers an observer of the full ordered message list.
// Every update replaces the whole visible list.
func (c *Controller) Subscribe(ctx context.Context) (<-chan []chat.Message, string) {
	return c.broadcaster.Subscribe(ctx)
}

// Unsubscribe removes an observer registered with Subscribe.
func (c *Controller) Unsubscribe(subID string) {
	c.broadcaster.Unsubscribe(subID)
}

// Messages returns a copy of the current ordered message list.
func (c *Controller) Messages() []chat.Message {
	var out []chat.Message
	c.do(func() {
		out = c.snapshotLocked()
	})
	return out
}

// ConversationID returns the resolved conversation identifier, or ""
// while no conversation exists yet.
func (c *Controller) ConversationID() string {
	var id string
	c.do(func() {
		id = c.conv.ID
	})
	return id
}

// Send appends a pending message for the draft and kicks off its
// delivery. Fire-and-forget: by the time Send returns the pending entry
// is visible in the message list; the remote outcome later resolves its
// status to confirmed or failed without disturbing other entries.
func (c *Controller) Send(draft chat.Draft) {
	author, ok := c.session.CurrentUser()
	if !ok {
		c.logger.Warn("send without a session user dropped")
		return
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}

	// The id is chosen before any network I/O; it is what lets the
	// pending entry and the later stream-confirmed entry be treated as
	// the same logical message.
	id := uuid.New().String()
	pending := &chat.Message{
		ID:          id,
		Author:      author,
		CreatedAt:   draft.CreatedAt,
		Text:        draft.Text,
		Attachments: placeholderAttachments(draft.Media),
		Reply:       draft.Reply,
		Status:      chat.StatusPending,
	}

	if !c.do(func() { c.appendMessage(pending) }) {
		return
	}

	go c.deliver(id, author, draft)
}

// deliver is the asynchronous remainder of a send call: establish a
// conversation if needed, resolve the draft to its wire record, write
// it, and reconcile the pending entry's status.
func (c *Controller) deliver(id string, author chat.User, draft chat.Draft) {
	ctx := context.Background()

	convID := c.ensureConversation(ctx)
	if convID == "" {
		// Could not establish a conversation this attempt. The pending
		// entry stays visible; a later send retries creation.
		c.logger.Warn("send has no conversation context, skipping remote write", "message_id", id)
		return
	}

	resolved := &chat.Message{
		ID:          id,
		Author:      author,
		CreatedAt:   draft.CreatedAt,
		Text:        draft.Text,
		Attachments: c.uploadAttachments(ctx, draft.Media),
		Reply:       draft.Reply,
	}
	fields := codec.Encode(resolved)

	writeErr := c.store.SetDocument(ctx, messagesPath(convID), id, fields)
	c.do(func() { c.resolveStatus(id, draft, writeErr) })

	// Best-effort latest-message summary; its failure never reaches the
	// message's status.
	if err := c.store.UpdateDocument(ctx, collectionConversations, convID,
		map[string]any{codec.FieldLatestMessage: fields}); err != nil {
		c.logger.Debug("latest-message summary update failed", "conversation_id", convID, "error", err)
	}
}

// uploadAttachments resolves draft media to uploaded attachments. An
// attachment whose upload fails is omitted; the send proceeds without it.
func (c *Controller) uploadAttachments(ctx context.Context, refs []chat.LocalMedia) []chat.Attachment {
	if c.uploader == nil {
		if len(refs) > 0 {
			c.logger.Warn("draft media dropped, no uploader configured", "count", len(refs))
		}
		return nil
	}
	var out []chat.Attachment
	for _, ref := range refs {
		url, typeTag, err := c.uploader.Upload(ctx, ref)
		if err != nil {
			c.logger.Warn("attachment upload failed, dropping attachment", "ref", ref.Ref, "error", err)
			continue
		}
		out = append(out, chat.Attachment{
			ID:   uuid.New().String(),
			URL:  url,
			Type: typeTag,
		})
	}
	return out
}

// ensureConversation returns the conversation id, creating the
// conversation when this is a 1:1 context without one. Returns "" when
// no conversation could be established for this call.
func (c *Controller) ensureConversation(ctx context.Context) string {
	var (
		id       string
		oneToOne bool
		template *chat.Conversation
		inFlight <-chan struct{}
	)
	if !c.do(func() {
		id = c.conv.ID
		oneToOne = c.conv.IsOneToOne()
		if id != "" || !oneToOne {
			return
		}
		// Claiming the creation slot and tearing down the race listener
		// happen in one loop step. This is the tie-break: a controller
		// that saw the peer's conversation has already resolved and
		// never reaches this create, and a send arriving while a create
		// is in flight waits for its outcome instead of creating a
		// duplicate. The race subscription is not restarted on failure.
		if c.lifecycle.creating() {
			inFlight = c.lifecycle.inFlight()
			return
		}
		c.lifecycle.beginCreate()
		cp := *c.conv
		template = &cp
	}) {
		return ""
	}
	if id != "" {
		return id
	}
	if !oneToOne {
		return ""
	}

	if inFlight != nil {
		select {
		case <-inFlight:
		case <-c.stopped:
			return ""
		}
		// Adopt whatever the in-flight create produced; "" means it
		// failed and this send stays pending like any other
		// no-conversation attempt.
		c.do(func() { id = c.conv.ID })
		return id
	}

	createdID, err := c.store.AddDocument(ctx, collectionConversations, codec.EncodeConversation(template))
	if err != nil {
		c.logger.Warn("conversation creation failed", "error", err)
		c.do(func() { c.lifecycle.endCreate() })
		return ""
	}

	c.do(func() {
		c.resolveConversation(createdID)
		c.lifecycle.endCreate()
	})
	return createdID
}

// beginRace subscribes to conversations containing the current user and
// enters RacingCreation. Loop-owned.
func (c *Controller) beginRace() {
	selfID, ok := c.session.CurrentUserID()
	if !ok {
		return
	}
	sub, err := c.store.QueryWhereArrayContains(context.Background(),
		collectionConversations, codec.FieldParticipants, selfID)
	if err != nil {
		c.logger.Warn("creation race subscription failed", "error", err)
		return
	}
	c.lifecycle.beginRace(sub)
	c.raceCh = sub.Snapshots()
}

// handleRaceSnapshot checks a conversations snapshot for a conversation
// with exactly this controller's two participants. Loop-owned.
func (c *Controller) handleRaceSnapshot(docs []docstore.Document) {
	if !c.lifecycle.racing() {
		// The race was torn down (resolved or creation in flight);
		// late snapshots are ignored.
		return
	}
	selfID, ok := c.session.CurrentUserID()
	if !ok {
		return
	}
	peer, ok := c.conv.Other(selfID)
	if !ok {
		return
	}
	id, found := matchRace(docs, c.users, selfID, peer.ID)
	if !found {
		return
	}
	c.logger.Debug("conversation discovered via peer", "conversation_id", id)
	c.resolveConversation(id)
}

// resolveConversation assigns the conversation id and attaches the
// stream. The id, once assigned, never changes; a second resolution is
// a no-op. Loop-owned.
func (c *Controller) resolveConversation(id string) {
	if c.conv.ID != "" {
		return
	}
	c.conv.ID = id
	c.lifecycle.resolve()
	c.raceCh = nil
	c.attachStream(id)
	c.logger.Debug("conversation resolved", "conversation_id", id)
}

// attachStream replaces the active message stream subscription with one
// for the given conversation. Loop-owned.
func (c *Controller) attachStream(conversationID string) {
	c.detachStream()
	sub, err := c.store.QueryOrdered(context.Background(),
		messagesPath(conversationID), codec.FieldCreatedAt)
	if err != nil {
		c.logger.Warn("message stream subscription failed", "conversation_id", conversationID, "error", err)
		return
	}
	c.stream = sub
	c.streamCh = sub.Snapshots()
}

// detachStream releases the active stream subscription, if any. Loop-owned.
func (c *Controller) detachStream() {
	if c.stream != nil {
		c.stream.Cancel()
		c.stream = nil
	}
	c.streamCh = nil
}

// handleStreamSnapshot rebuilds the message list from a remote
// snapshot. The stream is authoritative: its decoded records replace
// local copies with the same id. Local entries that are still pending
// or failed and absent from the snapshot are carried over so optimistic
// sends and retry affordances survive the full replace. Loop-owned.
func (c *Controller) handleStreamSnapshot(docs []docstore.Document) {
	seen := make(map[string]struct{}, len(docs))
	next := make([]*chat.Message, 0, len(docs))
	for _, doc := range docs {
		msg, ok := codec.Decode(doc, c.users)
		if !ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		next = append(next, msg)
	}

	for _, local := range c.messages {
		if _, ok := seen[local.ID]; ok {
			continue
		}
		if local.Status == chat.StatusPending || local.Status == chat.StatusFailed {
			next = append(next, local)
		}
	}

	sort.SliceStable(next, func(i, j int) bool {
		return next[i].CreatedAt.Before(next[j].CreatedAt)
	})

	c.messages = next
	c.publish()
}

// appendMessage inserts a message keeping ascending creation-time
// order, then publishes. Loop-owned.
func (c *Controller) appendMessage(msg *chat.Message) {
	c.messages = append(c.messages, msg)
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].CreatedAt.Before(c.messages[j].CreatedAt)
	})
	c.publish()
}

// resolveStatus applies a terminal write outcome to the entry with the
// given id. Lookup is by id, never index: if the stream already
// replaced or dropped the entry this is a no-op. Loop-owned.
func (c *Controller) resolveStatus(id string, draft chat.Draft, writeErr error) {
	for _, msg := range c.messages {
		if msg.ID != id {
			continue
		}
		if writeErr != nil {
			d := draft
			msg.Status = chat.StatusFailed
			msg.FailedDraft = &d
			c.logger.Warn("message write failed", "message_id", id, "error", writeErr)
		} else {
			msg.Status = chat.StatusConfirmed
			msg.FailedDraft = nil
		}
		c.publish()
		return
	}
	// Id no longer present; the stream's full replace won. Nothing to do.
}

// publish hands the current list to observers. Loop-owned.
func (c *Controller) publish() {
	c.broadcaster.Publish(c.snapshotLocked())
}

// snapshotLocked copies the loop-owned list for external consumption.
func (c *Controller) snapshotLocked() []chat.Message {
	out := make([]chat.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Clone())
	}
	return out
}

// placeholderAttachments renders unuploaded draft media as
// in-progress attachments on the pending entry.
func placeholderAttachments(refs []chat.LocalMedia) []chat.Attachment {
	if len(refs) == 0 {
		return nil
	}
	out := make([]chat.Attachment, 0, len(refs))
	for _, ref := range refs {
		out = append(out, chat.Attachment{
			ID:  uuid.New().String(),
			URL: ref.Ref,
		})
	}
	return out
}
