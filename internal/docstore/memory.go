// ABOUTME: In-memory Store implementation
// ABOUTME: Backs tests and single-process setups without SQLite

package docstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. It is safe for
// concurrent use and shares snapshots across every subscriber, which
// makes it suitable for multi-controller tests (e.g. two peers racing
// conversation creation against one store).
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any // path -> id -> fields
	notifier    *notifier
	logger      *slog.Logger

	nextAddErr    error
	nextSetErr    error
	nextUpdateErr error
}

// NewMemoryStore creates an empty MemoryStore. Pass nil logger for default.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		notifier:    newNotifier(),
		logger:      logger.With("component", "memstore"),
	}
}

// FailNextAdd makes the next AddDocument call return err.
func (m *MemoryStore) FailNextAdd(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAddErr = err
}

// FailNextSet makes the next SetDocument call return err.
func (m *MemoryStore) FailNextSet(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSetErr = err
}

// FailNextUpdate makes the next UpdateDocument call return err.
func (m *MemoryStore) FailNextUpdate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUpdateErr = err
}

// AddDocument creates a document with a generated id.
func (m *MemoryStore) AddDocument(ctx context.Context, path string, fields map[string]any) (string, error) {
	m.mu.Lock()
	if err := m.nextAddErr; err != nil {
		m.nextAddErr = nil
		m.mu.Unlock()
		return "", err
	}
	id := uuid.New().String()
	m.putLocked(path, id, fields)
	m.mu.Unlock()

	m.notifier.notify(path)
	return id, nil
}

// SetDocument creates or replaces the document with the given id.
func (m *MemoryStore) SetDocument(ctx context.Context, path, id string, fields map[string]any) error {
	m.mu.Lock()
	if err := m.nextSetErr; err != nil {
		m.nextSetErr = nil
		m.mu.Unlock()
		return err
	}
	m.putLocked(path, id, fields)
	m.mu.Unlock()

	m.notifier.notify(path)
	return nil
}

// UpdateDocument merges fields into an existing document.
func (m *MemoryStore) UpdateDocument(ctx context.Context, path, id string, fields map[string]any) error {
	m.mu.Lock()
	if err := m.nextUpdateErr; err != nil {
		m.nextUpdateErr = nil
		m.mu.Unlock()
		return err
	}
	coll, ok := m.collections[path]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	existing, ok := coll[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	resolved := resolveServerTimestamps(fields, time.Now())
	for k, v := range resolved {
		existing[k] = copyValue(v)
	}
	m.mu.Unlock()

	m.notifier.notify(path)
	return nil
}

// GetDocument fetches a single document.
func (m *MemoryStore) GetDocument(ctx context.Context, path, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[path]
	if !ok {
		return Document{}, ErrNotFound
	}
	fields, ok := coll[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: copyFields(fields)}, nil
}

// QueryOrdered subscribes to the collection ordered by the given field.
func (m *MemoryStore) QueryOrdered(ctx context.Context, path, orderField string) (*Subscription, error) {
	query := func() ([]Document, error) {
		docs := m.list(path)
		sortByField(docs, orderField)
		return docs, nil
	}
	return newSubscription(m.notifier, path, query, m.logger), nil
}

// QueryWhereArrayContains subscribes to documents whose array field
// contains the given value.
func (m *MemoryStore) QueryWhereArrayContains(ctx context.Context, path, field string, value any) (*Subscription, error) {
	query := func() ([]Document, error) {
		var out []Document
		for _, d := range m.list(path) {
			if arrayContains(d.Fields[field], value) {
				out = append(out, d)
			}
		}
		return out, nil
	}
	return newSubscription(m.notifier, path, query, m.logger), nil
}

// putLocked stores a resolved copy of fields. Must hold mu.
func (m *MemoryStore) putLocked(path, id string, fields map[string]any) {
	coll, ok := m.collections[path]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[path] = coll
	}
	resolved := resolveServerTimestamps(fields, time.Now())
	coll[id] = copyFields(resolved)
}

// list returns copies of every document in the collection.
func (m *MemoryStore) list(path string) []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll := m.collections[path]
	docs := make([]Document, 0, len(coll))
	for id, fields := range coll {
		docs = append(docs, Document{ID: id, Fields: copyFields(fields)})
	}
	return docs
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
