// Package state persists the last committed change-feed cursor per account
// in a SQLite database, so a follower resumes where it stopped.
package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dirPerms matches the token file's directory permissions.
const dirPerms = 0o700

const (
	sqlGetCursor = `SELECT cursor FROM cursors WHERE account = ?`

	sqlUpsertCursor = `INSERT INTO cursors (account, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
		 cursor = excluded.cursor,
		 updated_at = excluded.updated_at`

	sqlDeleteCursor = `DELETE FROM cursors WHERE account = ?`
)

// Store is the sole writer to the state database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations. The database runs in WAL mode with synchronous=FULL.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), dirPerms); err != nil {
		return nil, fmt.Errorf("state: creating directory for %s: %w", dbPath, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state database ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("state: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("state: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("state: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// LoadCursor returns the saved cursor for account, or "" if none was saved.
func (s *Store) LoadCursor(ctx context.Context, account string) (string, error) {
	var cursor string

	err := s.db.QueryRowContext(ctx, sqlGetCursor, account).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("state: loading cursor for %s: %w", account, err)
	}

	return cursor, nil
}

// SaveCursor records cursor as account's last committed position.
func (s *Store) SaveCursor(ctx context.Context, account, cursor string) error {
	if cursor == "" {
		return fmt.Errorf("state: refusing to save empty cursor for %s", account)
	}

	if _, err := s.db.ExecContext(ctx, sqlUpsertCursor, account, cursor, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("state: saving cursor for %s: %w", account, err)
	}

	s.logger.Debug("saved cursor", slog.String("account", account), slog.String("cursor", cursor))

	return nil
}

// DeleteCursor forgets account's cursor. It reports whether one existed.
func (s *Store) DeleteCursor(ctx context.Context, account string) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqlDeleteCursor, account)
	if err != nil {
		return false, fmt.Errorf("state: deleting cursor for %s: %w", account, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("state: deleting cursor for %s: %w", account, err)
	}

	return n > 0, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
