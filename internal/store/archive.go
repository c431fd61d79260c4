package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Snapshot kinds stored in the archive.
const (
	KindCommunity = "community"
	KindDistro    = "distro"
)

// ErrNotFound is returned when the archive holds no matching snapshot.
var ErrNotFound = errors.New("snapshot not found")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	document   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_kind_subject ON snapshots(kind, subject, created_at);
`

// Record is one archived run.
type Record struct {
	ID        string
	Kind      string
	Subject   string
	CreatedAt time.Time
	Document  []byte
}

// Archive keeps a history of snapshots in a SQLite database.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

// OpenArchive opens (creating if needed) the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return &Archive{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Save archives v as a snapshot of kind for subject (an org or a repository).
func (a *Archive) Save(ctx context.Context, kind, subject string, v any) (*Record, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	rec := &Record{
		ID:        uuid.New().String(),
		Kind:      kind,
		Subject:   subject,
		CreatedAt: a.now().UTC(),
		Document:  buf.Bytes(),
	}
	query := `
		INSERT INTO snapshots (id, kind, subject, created_at, document)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := a.db.ExecContext(ctx, query, rec.ID, rec.Kind, rec.Subject, rec.CreatedAt, string(rec.Document)); err != nil {
		return nil, fmt.Errorf("failed to archive %s snapshot: %w", kind, err)
	}
	return rec, nil
}

// Latest returns the most recent snapshot of kind for subject.
func (a *Archive) Latest(ctx context.Context, kind, subject string) (*Record, error) {
	query := `
		SELECT id, kind, subject, created_at, document
		FROM snapshots
		WHERE kind = ? AND subject = ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	rec, err := scanRecord(a.db.QueryRowContext(ctx, query, kind, subject))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns up to limit snapshots of kind, newest first. A limit <= 0 lists all.
func (a *Archive) List(ctx context.Context, kind string, limit int) ([]Record, error) {
	query := `
		SELECT id, kind, subject, created_at, document
		FROM snapshots
		WHERE kind = ?
		ORDER BY created_at DESC
	`
	args := []any{kind}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var doc string
	if err := s.Scan(&rec.ID, &rec.Kind, &rec.Subject, &rec.CreatedAt, &doc); err != nil {
		return nil, err
	}
	rec.Document = []byte(doc)
	return &rec, nil
}
