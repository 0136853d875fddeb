package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite is a tab storage persisted in a sqlite file. Several tabs can share
// one file; every key is scoped by the tab id.
type SQLite struct {
	db     *sql.DB
	tabID  string
	logger *zap.Logger
	// timeout bounds each statement; the engine calls storage synchronously.
	timeout time.Duration
}

// OpenSQLite opens (creating if needed) the storage file at dbPath for tabID.
func OpenSQLite(dbPath, tabID string, logger *zap.Logger) (*SQLite, error) {
	if tabID == "" {
		return nil, errors.New("tab id is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage database: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY between goroutines.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, tabID: tabID, logger: logger.Named("tab_storage"), timeout: 2 * time.Second}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize storage schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	const query = `
	CREATE TABLE IF NOT EXISTS tab_storage (
		tab_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tab_id, key)
	);`
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// GetItem returns the value stored under key for this tab. Read failures are
// logged and reported as a missing key.
func (s *SQLite) GetItem(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM tab_storage WHERE tab_id = ? AND key = ?`, s.tabID, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to read tab storage", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, true
}

// SetItem stores value under key for this tab.
func (s *SQLite) SetItem(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tab_storage (tab_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tab_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.tabID, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write tab storage key %q: %w", key, err)
	}
	return nil
}

// Clear removes every key of this tab, the equivalent of closing the tab.
func (s *SQLite) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tab_storage WHERE tab_id = ?`, s.tabID); err != nil {
		return fmt.Errorf("clear tab storage: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
