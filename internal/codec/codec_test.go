// ABOUTME: Tests for the message codec
// ABOUTME: Verifies per-item drop semantics and the encode/decode round trip

package codec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-sync/internal/chat"
	"github.com/2389/chat-sync/internal/docstore"
)

var (
	alice = chat.User{ID: "alice", Name: "Alice"}
	bob   = chat.User{ID: "bob", Name: "Bob"}
)

func testDirectory() *chat.Directory {
	return chat.NewDirectory(alice, bob)
}

func validDoc(id string) docstore.Document {
	return docstore.Document{
		ID: id,
		Fields: map[string]any{
			FieldAuthorID:  "alice",
			FieldCreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			FieldText:      "hello",
		},
	}
}

func TestDecode_ValidRecord(t *testing.T) {
	msg, ok := Decode(validDoc("m1"), testDirectory())
	require.True(t, ok)

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "alice", msg.Author.ID)
	assert.Equal(t, "Alice", msg.Author.Name)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, chat.StatusConfirmed, msg.Status)
	assert.Nil(t, msg.Reply)
}

func TestDecode_MissingID(t *testing.T) {
	doc := validDoc("")
	_, ok := Decode(doc, testDirectory())
	assert.False(t, ok)
}

func TestDecode_MissingTimestamp(t *testing.T) {
	doc := validDoc("m1")
	delete(doc.Fields, FieldCreatedAt)
	_, ok := Decode(doc, testDirectory())
	assert.False(t, ok)
}

func TestDecode_UnknownAuthor(t *testing.T) {
	doc := validDoc("m1")
	doc.Fields[FieldAuthorID] = "stranger"
	_, ok := Decode(doc, testDirectory())
	assert.False(t, ok)
}

func TestDecode_StringTimestamp(t *testing.T) {
	doc := validDoc("m1")
	doc.Fields[FieldCreatedAt] = "2026-03-01T12:00:00.5Z"
	msg, ok := Decode(doc, testDirectory())
	require.True(t, ok)
	assert.Equal(t, 2026, msg.CreatedAt.Year())
}

func TestDecode_MalformedAttachmentDropped(t *testing.T) {
	doc := validDoc("m1")
	doc.Fields[FieldAttachments] = []any{
		map[string]any{FieldURL: "https://example.com/a.png", FieldType: "image/png"},
		map[string]any{FieldURL: "not a url", FieldType: "image/png"},
		map[string]any{FieldURL: "", FieldType: "image/png"},
		"not even a map",
	}

	msg, ok := Decode(doc, testDirectory())
	require.True(t, ok)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "https://example.com/a.png", msg.Attachments[0].URL)
	assert.Equal(t, "image/png", msg.Attachments[0].Type)
	assert.NotEmpty(t, msg.Attachments[0].ID)
}

func TestDecode_UnresolvableReplyDropped(t *testing.T) {
	doc := validDoc("m1")
	doc.Fields[FieldReplyTo] = map[string]any{
		FieldReplyID:  "m0",
		FieldAuthorID: "stranger",
		FieldText:     "earlier",
	}

	// Message survives without its reply.
	msg, ok := Decode(doc, testDirectory())
	require.True(t, ok)
	assert.Nil(t, msg.Reply)
}

func TestDecode_ValidReply(t *testing.T) {
	doc := validDoc("m1")
	doc.Fields[FieldReplyTo] = map[string]any{
		FieldReplyID:  "m0",
		FieldAuthorID: "bob",
		FieldText:     "earlier",
		FieldAttachments: []any{
			map[string]any{FieldURL: "https://example.com/b.png", FieldType: "image/png"},
		},
	}

	msg, ok := Decode(doc, testDirectory())
	require.True(t, ok)
	require.NotNil(t, msg.Reply)
	assert.Equal(t, "m0", msg.Reply.ID)
	assert.Equal(t, "bob", msg.Reply.Author.ID)
	assert.Equal(t, "earlier", msg.Reply.Text)
	assert.Len(t, msg.Reply.Attachments, 1)
}

func TestDecode_SiblingsSurviveBadRecord(t *testing.T) {
	users := testDirectory()
	docs := []docstore.Document{
		validDoc("m1"),
		{ID: "m2", Fields: map[string]any{FieldAuthorID: "stranger", FieldCreatedAt: time.Now()}},
		validDoc("m3"),
	}

	var decoded []*chat.Message
	for _, d := range docs {
		if msg, ok := Decode(d, users); ok {
			decoded = append(decoded, msg)
		}
	}
	require.Len(t, decoded, 2)
	assert.Equal(t, "m1", decoded[0].ID)
	assert.Equal(t, "m3", decoded[1].ID)
}

func TestEncode_WireShape(t *testing.T) {
	msg := &chat.Message{
		ID:     "m1",
		Author: alice,
		Text:   "hello",
		Attachments: []chat.Attachment{
			{ID: "local", URL: "https://example.com/a.png", Type: "image/png"},
		},
		Reply: &chat.ReplyRef{
			ID:     "m0",
			Author: bob,
			Text:   "earlier",
		},
	}

	fields := Encode(msg)

	// Author is an id scalar, not an object.
	assert.Equal(t, "alice", fields[FieldAuthorID])
	assert.Equal(t, docstore.ServerTimestamp, fields[FieldCreatedAt])
	assert.Equal(t, "hello", fields[FieldText])

	atts, ok := fields[FieldAttachments].([]any)
	require.True(t, ok)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	assert.Equal(t, "https://example.com/a.png", att[FieldURL])
	assert.Equal(t, "image/png", att[FieldType])

	reply, ok := fields[FieldReplyTo].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m0", reply[FieldReplyID])
	assert.Equal(t, "bob", reply[FieldAuthorID])
	assert.Equal(t, "earlier", reply[FieldText])
}

// Round trip through a real store so the server-timestamp sentinel gets
// resolved: no data loss in text, attachment count or reply presence.
func TestEncodeDecode_RoundTrip(t *testing.T) {
	msg := &chat.Message{
		ID:     "m1",
		Author: alice,
		Text:   "round trip",
		Attachments: []chat.Attachment{
			{URL: "https://example.com/a.png", Type: "image/png"},
			{URL: "https://example.com/b.mp4", Type: "video/mp4"},
		},
		Reply: &chat.ReplyRef{ID: "m0", Author: bob, Text: "earlier"},
	}

	store := docstore.NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, store.SetDocument(ctx, "conversations/c1/messages", "m1", Encode(msg)))

	doc, err := store.GetDocument(ctx, "conversations/c1/messages", "m1")
	require.NoError(t, err)

	decoded, ok := Decode(doc, testDirectory())
	require.True(t, ok)
	assert.Equal(t, msg.Text, decoded.Text)
	assert.Len(t, decoded.Attachments, len(msg.Attachments))
	require.NotNil(t, decoded.Reply)
	assert.Equal(t, msg.Reply.Text, decoded.Reply.Text)
	assert.False(t, decoded.CreatedAt.IsZero())
}

func TestConversation_EncodeDecode(t *testing.T) {
	conv := &chat.Conversation{
		Participants: []chat.User{alice, bob},
		Title:        "Bob",
	}
	fields := EncodeConversation(conv)
	assert.Equal(t, []any{"alice", "bob"}, fields[FieldParticipants])
	assert.Equal(t, "Bob", fields[FieldTitle])

	store := docstore.NewMemoryStore(nil)
	ctx := context.Background()
	id, err := store.AddDocument(ctx, "conversations", fields)
	require.NoError(t, err)

	doc, err := store.GetDocument(ctx, "conversations", id)
	require.NoError(t, err)

	decoded, ok := DecodeConversation(doc, testDirectory())
	require.True(t, ok)
	assert.Equal(t, id, decoded.ID)
	assert.True(t, decoded.IsOneToOne())
	assert.Equal(t, "Bob", decoded.Title)
}

func TestDecodeConversation_UnknownParticipantKept(t *testing.T) {
	doc := docstore.Document{
		ID: "c1",
		Fields: map[string]any{
			FieldParticipants: []any{"alice", "stranger"},
		},
	}
	decoded, ok := DecodeConversation(doc, testDirectory())
	require.True(t, ok)
	require.Len(t, decoded.Participants, 2)
	assert.Equal(t, "stranger", decoded.Participants[1].ID)
	assert.Empty(t, decoded.Participants[1].Name)
}
