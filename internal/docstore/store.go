// ABOUTME: Document store abstraction consumed by the sync controller
// ABOUTME: Defines Document, the Store interface and snapshot subscriptions

package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one record in a collection. Fields hold plain scalars,
// arrays and nested maps only.
type Document struct {
	ID     string
	Fields map[string]any
}

// serverTimestamp is the sentinel type behind ServerTimestamp.
type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value that stores replace with
// their own clock at write time.
var ServerTimestamp any = serverTimestamp{}

// Store is the remote document store collaborator. Collections are
// addressed by slash-separated paths ("conversations",
// "conversations/<id>/messages").
type Store interface {
	// QueryOrdered subscribes to the full contents of a collection,
	// ordered ascending by the given field. Every change to the
	// collection produces a fresh full snapshot.
	QueryOrdered(ctx context.Context, path, orderField string) (*Subscription, error)

	// QueryWhereArrayContains subscribes to the documents whose array
	// field contains the given value.
	QueryWhereArrayContains(ctx context.Context, path, field string, value any) (*Subscription, error)

	// AddDocument creates a document with a store-assigned id.
	AddDocument(ctx context.Context, path string, fields map[string]any) (string, error)

	// SetDocument creates or replaces the document with the given id.
	SetDocument(ctx context.Context, path, id string, fields map[string]any) error

	// UpdateDocument merges fields into an existing document.
	UpdateDocument(ctx context.Context, path, id string, fields map[string]any) error

	// GetDocument fetches a single document.
	GetDocument(ctx context.Context, path, id string) (Document, error)
}

// resolveServerTimestamps replaces ServerTimestamp sentinels with now,
// recursing into nested maps and arrays. The input is not modified.
func resolveServerTimestamps(fields map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case map[string]any:
		return resolveServerTimestamps(t, now)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, now)
		}
		return out
	default:
		return v
	}
}
