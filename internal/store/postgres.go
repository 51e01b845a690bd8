package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"time"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
)

// PostgresStore keeps versioned documents in a single table:
//
//	CREATE TABLE documents (
//	    key        TEXT PRIMARY KEY,
//	    doc        JSONB NOT NULL,
//	    version    BIGINT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//
// The version column is the CAS token: updates are guarded by
// "WHERE key = $1 AND version = $2" and a zero rows-affected result means
// another writer committed since the caller's read.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Read(ctx context.Context, key string) ([]byte, string, error) {
	query := `SELECT doc, version FROM documents WHERE key = $1`

	var doc []byte
	var version int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		s.logger.Error("Failed to read document", "key", key, "error", err)
		return nil, "", errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	return doc, strconv.FormatInt(version, 10), nil
}

func (s *PostgresStore) Write(ctx context.Context, key string, doc []byte, expectedVersion, note string) error {
	if expectedVersion == "" {
		return s.insert(ctx, key, doc)
	}

	expected, err := strconv.ParseInt(expectedVersion, 10, 64)
	if err != nil {
		return errors.ErrStoreConflict
	}

	query := `
		UPDATE documents
		SET doc = $1, version = version + 1, updated_at = $2
		WHERE key = $3 AND version = $4
	`
	result, err := s.db.ExecContext(ctx, query, doc, time.Now(), key, expected)
	if err != nil {
		s.logger.Error("Failed to write document", "key", key, "error", err)
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	if rows == 0 {
		s.logger.Warn("Version conflict on document write", "key", key, "expected_version", expected)
		return errors.ErrStoreConflict
	}
	return nil
}

func (s *PostgresStore) insert(ctx context.Context, key string, doc []byte) error {
	query := `
		INSERT INTO documents (key, doc, version, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (key) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, key, doc, time.Now())
	if err != nil {
		s.logger.Error("Failed to create document", "key", key, "error", err)
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	if rows == 0 {
		// The key appeared between the caller's read and this insert.
		return errors.ErrStoreConflict
	}
	return nil
}

var _ domain.VersionedStore = (*PostgresStore)(nil)
