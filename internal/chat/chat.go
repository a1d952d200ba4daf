// ABOUTME: Core domain types for conversation synchronization
// ABOUTME: Defines User, Conversation, Message, Attachment, Draft and SendStatus

package chat

import (
	"time"
)

// User is a chat participant. Users are looked up, never mutated here.
type User struct {
	ID        string
	Name      string
	AvatarURL string
}

// Conversation is a container for a message log. ID is assigned by the
// remote store on creation and is empty before the conversation exists.
type Conversation struct {
	ID           string
	Participants []User
	Title        string

	// LatestMessage is the cached wire record of the most recent message,
	// maintained best-effort by the send path.
	LatestMessage map[string]any
}

// IsOneToOne reports whether the conversation has exactly two participants,
// which makes it eligible for lazy/racing creation.
func (c *Conversation) IsOneToOne() bool {
	return c != nil && len(c.Participants) == 2
}

// Other returns the participant that is not the given user.
// Only meaningful for 1:1 conversations.
func (c *Conversation) Other(userID string) (User, bool) {
	if c == nil {
		return User{}, false
	}
	for _, p := range c.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return User{}, false
}

// SendStatus tracks a message through the optimistic send lifecycle.
type SendStatus string

const (
	StatusPending   SendStatus = "pending"   // appended locally, write in flight
	StatusConfirmed SendStatus = "confirmed" // remote write acknowledged
	StatusFailed    SendStatus = "failed"    // remote write failed, draft retained
)

// Attachment is a resolved (uploaded) piece of media on a message.
// The ID is generated locally and is not a stable remote key.
type Attachment struct {
	ID   string
	URL  string
	Type string
}

// ReplyRef is a single-level reference to the message being replied to.
// Replies do not recurse: a ReplyRef never carries its own reply.
type ReplyRef struct {
	ID          string
	Author      User
	Text        string
	Attachments []Attachment
}

// Message is one entry in a conversation's ordered log. The ID is chosen
// by the sender before the remote write, which lets the pending local copy
// and the later server-confirmed copy be recognized as the same message.
type Message struct {
	ID          string
	Author      User
	CreatedAt   time.Time
	Text        string
	Attachments []Attachment
	Reply       *ReplyRef
	Status      SendStatus

	// FailedDraft holds the original draft when Status is StatusFailed,
	// so the caller can offer a retry without data loss.
	FailedDraft *Draft
}

// Clone returns a deep enough copy for handing across the controller
// boundary: slices are copied, the reply ref is copied by value.
func (m *Message) Clone() Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = make([]Attachment, len(m.Attachments))
		copy(out.Attachments, m.Attachments)
	}
	if m.Reply != nil {
		r := *m.Reply
		if m.Reply.Attachments != nil {
			r.Attachments = make([]Attachment, len(m.Reply.Attachments))
			copy(r.Attachments, m.Reply.Attachments)
		}
		out.Reply = &r
	}
	return out
}

// LocalMedia is an unuploaded media reference produced by the caller,
// typically a filesystem path. Resolution to a URL happens at send time.
type LocalMedia struct {
	Ref string
}

// Draft is unsent user input prior to any network interaction.
type Draft struct {
	Text      string
	Media     []LocalMedia
	Reply     *ReplyRef
	CreatedAt time.Time
}
