// Package docstore persists agent documents as opaque JSON blobs.
//
// The execution engine fully owns the shape of a document's content but not
// the storage mechanism; this package is the persistence collaborator it
// writes through. Writes replace the whole blob: there is no partial
// update, no lock, and no optimistic-concurrency token, so two concurrent
// invocations against the same document are last-writer-wins. That is a
// known correctness hazard of the system, kept deliberately.
package docstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added owner index
const currentSchemaVersion = 1

// ErrDocumentNotFound is returned by Get and Save for unknown document IDs.
var ErrDocumentNotFound = errors.New("document not found")

// Document is one persisted agent document. Content is the serialized
// {models, executionHistory, ...metadata} blob.
type Document struct {
	ID        string
	OwnerID   string
	Name      string
	Content   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides durable storage for agent documents.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new document.
func (s *Store) Create(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, name, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		doc.ID,
		doc.OwnerID,
		doc.Name,
		string(doc.Content),
		doc.CreatedAt.Format(time.RFC3339Nano),
		doc.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	return nil
}

// Get fetches one document by ID.
// Returns ErrDocumentNotFound for unknown IDs.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, content, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get document %s: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// Save replaces a document's entire content blob. This is the write-back
// half of reconciliation; the caller has already merged the mutated models
// and trimmed history into Content.
// Returns ErrDocumentNotFound for unknown IDs.
func (s *Store) Save(ctx context.Context, id string, content []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content = ?, updated_at = ? WHERE id = ?
	`,
		string(content),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("save document %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save document %s: rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("save document %s: %w", id, ErrDocumentNotFound)
	}
	return nil
}

// List returns all documents ordered by creation time.
// Used by the schedule runner to discover due schedules.
func (s *Store) List(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, content, created_at, updated_at
		FROM documents ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanDocument.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var content, createdAt, updatedAt string
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Name, &content, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Content = []byte(content)

	var err error
	if doc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &doc, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// No incremental migrations yet beyond the base schema.
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}
