package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists documents in a SQLite database, one row per key.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database and ensures the schema.
func NewSQLiteStore(dsn string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS documents (
		key            TEXT PRIMARY KEY,
		payload        TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		expires_at     TEXT NOT NULL,
		schema_version INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info().Msg("document store initialized")
	return &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "docstore").Logger(),
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Document, error) {
	const query = `SELECT payload, created_at, updated_at, expires_at, schema_version
		FROM documents WHERE key = ?`

	var doc Document
	var createdAt, updatedAt, expiresAt string
	err := s.db.QueryRowContext(ctx, query, key).
		Scan(&doc.Payload, &createdAt, &updatedAt, &expiresAt, &doc.SchemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if doc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if doc.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return &doc, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, doc *Document) error {
	const query = `INSERT INTO documents (key, payload, created_at, updated_at, expires_at, schema_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload        = excluded.payload,
			updated_at     = excluded.updated_at,
			expires_at     = excluded.expires_at,
			schema_version = excluded.schema_version`

	_, err := s.db.ExecContext(ctx, query, key, doc.Payload,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
		formatTime(doc.ExpiresAt), doc.SchemaVersion)
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
