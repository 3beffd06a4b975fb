package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"visadesk/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.TokenStore using SQLite. The pair lives in a
// single row so one upsert replaces both tokens together.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.TokenStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) LoadCredential(ctx context.Context) (domain.Credential, error) {
	var cred domain.Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, operator FROM credentials WHERE id = 1`,
	).Scan(&cred.AccessToken, &cred.RefreshToken, &cred.Operator)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credential{}, nil
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("load credential: %w", err)
	}
	return cred, nil
}

func (s *SQLiteStore) SaveCredential(ctx context.Context, cred domain.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, access_token, refresh_token, operator, updated_at)
		 VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			operator = excluded.operator,
			updated_at = excluded.updated_at`,
		cred.AccessToken, cred.RefreshToken, cred.Operator,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearCredential(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.logger.Debug("credential cleared")
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
