// ABOUTME: SQLite-backed Store implementation with JSON document storage
// ABOUTME: Change notifications fan out in-process so subscriptions can re-query

package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite database. Documents
// are stored as JSON keyed by (collection, doc_id). Timestamps survive
// the JSON round-trip as RFC 3339 strings; consumers must accept both
// time.Time and string timestamp values.
type SQLiteStore struct {
	db       *sql.DB
	notifier *notifier
	logger   *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "docstore")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		notifier: newNotifier(),
		logger:   logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("document store initialized", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			fields TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (collection, doc_id)
		);

		CREATE INDEX IF NOT EXISTS idx_documents_collection
			ON documents(collection);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddDocument creates a document with a generated id.
func (s *SQLiteStore) AddDocument(ctx context.Context, path string, fields map[string]any) (string, error) {
	id := uuid.New().String()
	if err := s.SetDocument(ctx, path, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// SetDocument creates or replaces the document with the given id.
func (s *SQLiteStore) SetDocument(ctx context.Context, path, id string, fields map[string]any) error {
	resolved := resolveServerTimestamps(fields, time.Now())
	encoded, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}

	query := `
		INSERT INTO documents (collection, doc_id, fields, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, doc_id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, path, id, string(encoded), time.Now().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}

	s.notifier.notify(path)
	return nil
}

// UpdateDocument merges fields into an existing document.
func (s *SQLiteStore) UpdateDocument(ctx context.Context, path, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	row := tx.QueryRowContext(ctx,
		"SELECT fields FROM documents WHERE collection = ? AND doc_id = ?", path, id)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("reading document: %w", err)
	}

	existing := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	for k, v := range resolveServerTimestamps(fields, time.Now()) {
		existing[k] = v
	}

	encoded, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE documents SET fields = ?, updated_at = ? WHERE collection = ? AND doc_id = ?",
		string(encoded), time.Now().Format(time.RFC3339Nano), path, id)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing update: %w", err)
	}

	s.notifier.notify(path)
	return nil
}

// GetDocument fetches a single document.
func (s *SQLiteStore) GetDocument(ctx context.Context, path, id string) (Document, error) {
	var raw string
	row := s.db.QueryRowContext(ctx,
		"SELECT fields FROM documents WHERE collection = ? AND doc_id = ?", path, id)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("reading document: %w", err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Document{}, fmt.Errorf("decoding document: %w", err)
	}
	return Document{ID: id, Fields: fields}, nil
}

// QueryOrdered subscribes to the collection ordered by the given field.
func (s *SQLiteStore) QueryOrdered(ctx context.Context, path, orderField string) (*Subscription, error) {
	query := func() ([]Document, error) {
		docs, err := s.list(ctx, path)
		if err != nil {
			return nil, err
		}
		sortByField(docs, orderField)
		return docs, nil
	}
	return newSubscription(s.notifier, path, query, s.logger), nil
}

// QueryWhereArrayContains subscribes to documents whose array field
// contains the given value.
func (s *SQLiteStore) QueryWhereArrayContains(ctx context.Context, path, field string, value any) (*Subscription, error) {
	query := func() ([]Document, error) {
		docs, err := s.list(ctx, path)
		if err != nil {
			return nil, err
		}
		var out []Document
		for _, d := range docs {
			if arrayContains(d.Fields[field], value) {
				out = append(out, d)
			}
		}
		return out, nil
	}
	return newSubscription(s.notifier, path, query, s.logger), nil
}

// list loads every document in a collection.
func (s *SQLiteStore) list(ctx context.Context, path string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_id, fields FROM documents WHERE collection = ?", path)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		fields := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			s.logger.Warn("skipping undecodable document", "collection", path, "doc_id", id, "error", err)
			continue
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	return docs, rows.Err()
}
