// ABOUTME: Bidirectional mapping between wire-level document records and domain types
// ABOUTME: Decode drops malformed entities per-item and never aborts a batch

package codec

import (
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-sync/internal/chat"
	"github.com/2389/chat-sync/internal/docstore"
)

// Wire field names. Nested objects use plain scalar/array composition only.
const (
	FieldAuthorID    = "authorId"
	FieldCreatedAt   = "createdAt"
	FieldText        = "text"
	FieldAttachments = "attachments"
	FieldURL         = "url"
	FieldType        = "type"
	FieldReplyTo     = "replyTo"
	FieldReplyID     = "id"

	FieldParticipants  = "participantIds"
	FieldTitle         = "title"
	FieldLatestMessage = "latestMessage"
)

// Decode maps a wire record to a Message. It returns false when the
// record has no id, no creation timestamp, or an author that is not in
// the directory; callers skip such records and keep going. An embedded
// reply that fails the same rules is dropped while the message
// survives. A malformed attachment URL drops only that attachment.
func Decode(doc docstore.Document, users *chat.Directory) (*chat.Message, bool) {
	if doc.ID == "" {
		return nil, false
	}

	createdAt, ok := decodeTime(doc.Fields[FieldCreatedAt])
	if !ok {
		return nil, false
	}

	authorID, _ := doc.Fields[FieldAuthorID].(string)
	author, ok := users.Lookup(authorID)
	if !ok {
		return nil, false
	}

	text, _ := doc.Fields[FieldText].(string)

	msg := &chat.Message{
		ID:          doc.ID,
		Author:      author,
		CreatedAt:   createdAt,
		Text:        text,
		Attachments: decodeAttachments(doc.Fields[FieldAttachments]),
		Reply:       decodeReply(doc.Fields[FieldReplyTo], users),
		Status:      chat.StatusConfirmed,
	}
	return msg, true
}

// Encode maps a resolved message (attachments already uploaded) to its
// wire record. The creation timestamp is the store's server-timestamp
// sentinel; the message id is not part of the record because messages
// are written at documents keyed by their id.
func Encode(msg *chat.Message) map[string]any {
	fields := map[string]any{
		FieldAuthorID:    msg.Author.ID,
		FieldCreatedAt:   docstore.ServerTimestamp,
		FieldText:        msg.Text,
		FieldAttachments: encodeAttachments(msg.Attachments),
	}
	if msg.Reply != nil {
		fields[FieldReplyTo] = map[string]any{
			FieldReplyID:     msg.Reply.ID,
			FieldAuthorID:    msg.Reply.Author.ID,
			FieldText:        msg.Reply.Text,
			FieldAttachments: encodeAttachments(msg.Reply.Attachments),
		}
	}
	return fields
}

// EncodeConversation maps a not-yet-created conversation to its wire
// record: participant ids, title and a server-assigned creation time.
func EncodeConversation(c *chat.Conversation) map[string]any {
	ids := make([]any, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return map[string]any{
		FieldParticipants: ids,
		FieldTitle:        c.Title,
		FieldCreatedAt:    docstore.ServerTimestamp,
	}
}

// DecodeConversation maps a conversation document back to the domain
// type. Participants that are not in the directory are kept as bare
// id-only users so membership checks still work.
func DecodeConversation(doc docstore.Document, users *chat.Directory) (*chat.Conversation, bool) {
	if doc.ID == "" {
		return nil, false
	}
	rawIDs, ok := doc.Fields[FieldParticipants].([]any)
	if !ok {
		return nil, false
	}

	conv := &chat.Conversation{ID: doc.ID}
	for _, raw := range rawIDs {
		id, ok := raw.(string)
		if !ok || id == "" {
			continue
		}
		if u, ok := users.Lookup(id); ok {
			conv.Participants = append(conv.Participants, u)
		} else {
			conv.Participants = append(conv.Participants, chat.User{ID: id})
		}
	}
	if title, ok := doc.Fields[FieldTitle].(string); ok {
		conv.Title = title
	}
	if latest, ok := doc.Fields[FieldLatestMessage].(map[string]any); ok {
		conv.LatestMessage = latest
	}
	return conv, true
}

func encodeAttachments(atts []chat.Attachment) []any {
	out := make([]any, 0, len(atts))
	for _, a := range atts {
		out = append(out, map[string]any{
			FieldURL:  a.URL,
			FieldType: a.Type,
		})
	}
	return out
}

func decodeAttachments(v any) []chat.Attachment {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []chat.Attachment
	for _, e := range raw {
		rec, ok := e.(map[string]any)
		if !ok {
			continue
		}
		rawURL, _ := rec[FieldURL].(string)
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Scheme == "" {
			// Malformed URL drops this attachment, never the message.
			continue
		}
		typeTag, _ := rec[FieldType].(string)
		out = append(out, chat.Attachment{
			ID:   uuid.New().String(),
			URL:  rawURL,
			Type: typeTag,
		})
	}
	return out
}

func decodeReply(v any, users *chat.Directory) *chat.ReplyRef {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	id, _ := rec[FieldReplyID].(string)
	if id == "" {
		return nil
	}
	authorID, _ := rec[FieldAuthorID].(string)
	author, ok := users.Lookup(authorID)
	if !ok {
		return nil
	}
	text, _ := rec[FieldText].(string)
	atts := decodeAttachments(rec[FieldAttachments])
	return &chat.ReplyRef{
		ID:          id,
		Author:      author,
		Text:        text,
		Attachments: atts,
	}
}

func decodeTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, t)
			if err != nil {
				return time.Time{}, false
			}
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
