// Package session persists the small set of identity values the engine
// reads at bootstrap: the active account identity and the last-used
// folder per account. Nothing else is durable — the mailbox cache is
// volatile by design.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed session-identity store.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the session database at dbPath, enables WAL
// mode, and runs any pending schema migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// ActiveAccount returns the persisted active account identity, or ""
// when none has been stored yet.
func (s *Store) ActiveAccount(ctx context.Context) (string, error) {
	var account string
	err := s.db.GetContext(ctx, &account,
		"SELECT account FROM active_session WHERE id = 1",
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading active account: %w", err)
	}
	return account, nil
}

// SetActiveAccount persists the active account identity.
func (s *Store) SetActiveAccount(ctx context.Context, account string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_session (id, account, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET account = excluded.account,
			updated_at = excluded.updated_at`,
		account, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing active account: %w", err)
	}
	return nil
}

// LastFolder returns the last-used folder for an account, or "" when
// none is remembered.
func (s *Store) LastFolder(ctx context.Context, account string) (string, error) {
	var folderID string
	err := s.db.GetContext(ctx, &folderID,
		"SELECT folder_id FROM account_folders WHERE account = ?", account,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading last folder for %s: %w", account, err)
	}
	return folderID, nil
}

// SetLastFolder persists the last-used folder for an account.
func (s *Store) SetLastFolder(
	ctx context.Context, account, folderID string,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_folders (account, folder_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET folder_id = excluded.folder_id,
			updated_at = excluded.updated_at`,
		account, folderID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing last folder for %s: %w", account, err)
	}
	return nil
}

// ClearAccount forgets the stored state for an unlinked account.
func (s *Store) ClearAccount(ctx context.Context, account string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM account_folders WHERE account = ?", account,
	); err != nil {
		return fmt.Errorf("clearing folders for %s: %w", account, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE active_session SET account = '' WHERE id = 1 AND account = ?",
		account,
	); err != nil {
		return fmt.Errorf("clearing active account %s: %w", account, err)
	}
	return nil
}
