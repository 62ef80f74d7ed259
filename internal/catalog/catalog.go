// Package catalog records ingested documents in SQLite so listings can show
// titles and page counts without reopening the PDFs.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"studybuddy/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	document_id  TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	num_pages    INTEGER NOT NULL DEFAULT 0,
	num_chunks   INTEGER NOT NULL DEFAULT 0,
	collection   TEXT NOT NULL,
	processed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
`

// Store is a SQLite-backed document catalog.
type Store struct {
	db *sql.DB
}

// Open creates or opens the catalog database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a document record.
func (s *Store) Save(ctx context.Context, doc domain.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, filename, title, author, num_pages, num_chunks, collection, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			filename = excluded.filename,
			title = excluded.title,
			author = excluded.author,
			num_pages = excluded.num_pages,
			num_chunks = excluded.num_chunks,
			collection = excluded.collection,
			processed_at = excluded.processed_at`,
		doc.DocumentID, doc.Filename, doc.Title, doc.Author, doc.NumPages, doc.NumChunks,
		doc.Collection, doc.ProcessedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.DocumentID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document_id, filename, title, author, num_pages, num_chunks, collection, processed_at
		FROM documents WHERE document_id = ?`, documentID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", documentID, err)
	}
	return doc, nil
}

// Delete removes a record. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

// List returns the documents of a collection, newest first. An empty collection lists all.
func (s *Store) List(ctx context.Context, collection string) ([]domain.Document, error) {
	query := `SELECT document_id, filename, title, author, num_pages, num_chunks, collection, processed_at FROM documents`
	var args []any
	if collection != "" {
		query += ` WHERE collection = ?`
		args = append(args, collection)
	}
	query += ` ORDER BY processed_at DESC, document_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*domain.Document, error) {
	var (
		doc       domain.Document
		processed int64
	)
	if err := row.Scan(&doc.DocumentID, &doc.Filename, &doc.Title, &doc.Author,
		&doc.NumPages, &doc.NumChunks, &doc.Collection, &processed); err != nil {
		return nil, err
	}
	doc.ProcessedAt = time.Unix(0, processed).UTC()
	return &doc, nil
}
