package entitlements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultSQLiteFileName is the database SQLiteBackend opens under its data directory.
const DefaultSQLiteFileName = "entitlements.db"

var errSQLiteClosed = errors.New("sqlite entitlements backend not initialized")

// SQLiteBackend persists expirations in a single-table SQLite database.
// Timestamps are stored as Unix nanoseconds.
type SQLiteBackend struct {
	db     *sql.DB
	dbPath string

	// mu guards db against Close. Reads share it; writes and Close take it
	// exclusively.
	mu sync.RWMutex
}

func NewSQLiteBackend(dataPath string) (*SQLiteBackend, error) {
	if strings.TrimSpace(dataPath) == "" {
		return nil, fmt.Errorf("dataPath is required")
	}
	dataPath = filepath.Clean(dataPath)
	if err := os.MkdirAll(dataPath, 0o700); err != nil {
		return nil, fmt.Errorf("create entitlements data dir: %w", err)
	}

	dbPath := filepath.Join(dataPath, DefaultSQLiteFileName)
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entitlements db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteBackend{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlement_expirations (
		cache_key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init entitlements schema: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *SQLiteBackend) Path() string {
	return s.dbPath
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) (*time.Time, error) {
	if s == nil {
		return nil, errSQLiteClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errSQLiteClosed
	}
	var nanos int64
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM entitlement_expirations WHERE cache_key = ?`, key).Scan(&nanos)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load expiration %q: %w", key, err)
	}
	t := time.Unix(0, nanos).UTC()
	return &t, nil
}

func (s *SQLiteBackend) Set(ctx context.Context, key string, value *time.Time) error {
	if s == nil {
		return errSQLiteClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errSQLiteClosed
	}

	if value == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM entitlement_expirations WHERE cache_key = ?`, key); err != nil {
			return fmt.Errorf("clear expiration %q: %w", key, err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entitlement_expirations (cache_key, expires_at, updated_at) VALUES (?, ?, ?)`,
		key,
		value.UnixNano(),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put expiration %q: %w", key, err)
	}
	return nil
}

// Close releases the database handle. Safe to call more than once.
func (s *SQLiteBackend) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
