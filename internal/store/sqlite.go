package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// Preference keys.
const (
	KeyDarkMode = "HELIUM_DARK"
	KeyBanner   = "HELIUM_BANNER"
)

// Store represents the SQLite storage implementation
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite store instance
func NewStore(dbPath string) (*Store, error) {
	// Ensure target directory exists (e.g., ./data)
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate performs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS visited_cases (
			guid TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			visited_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_visited_cases_position ON visited_cases(position)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return s.setupActivityTables()
}

// Preference returns a stored preference. ok is false when the key is unset.
func (s *Store) Preference(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

// SetPreference stores a preference.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store preference %s: %w", key, err)
	}
	return nil
}

// DeletePreference removes a preference.
func (s *Store) DeletePreference(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete preference %s: %w", key, err)
	}
	return nil
}

// IsDarkModeEnabled reports whether the dark mode flag is present.
func (s *Store) IsDarkModeEnabled(ctx context.Context) (bool, error) {
	_, ok, err := s.Preference(ctx, KeyDarkMode)
	return ok, err
}

// ToggleDarkMode flips the dark mode flag and returns the new setting.
func (s *Store) ToggleDarkMode(ctx context.Context) (bool, error) {
	enabled, err := s.IsDarkModeEnabled(ctx)
	if err != nil {
		return false, err
	}
	if enabled {
		return false, s.DeletePreference(ctx, KeyDarkMode)
	}
	return true, s.SetPreference(ctx, KeyDarkMode, "1")
}

// BannerChecksum XORs the UTF-16 code units of text.
func BannerChecksum(text string) int {
	checksum := 0
	for _, r := range text {
		if r >= 0x10000 {
			r -= 0x10000
			checksum ^= int(0xD800 + (r >> 10))
			checksum ^= int(0xDC00 + (r & 0x3FF))
			continue
		}
		checksum ^= int(r)
	}
	return checksum
}

// Banner returns text unless a banner with the same checksum was acknowledged.
func (s *Store) Banner(ctx context.Context, text string) (string, error) {
	stored := 0
	value, ok, err := s.Preference(ctx, KeyBanner)
	if err != nil {
		return "", err
	}
	if ok {
		if n, err := strconv.Atoi(value); err == nil {
			stored = n
		}
	}
	if BannerChecksum(text) == stored {
		return "", nil
	}
	return text, nil
}

// AckBanner hides text until the banner changes.
func (s *Store) AckBanner(ctx context.Context, text string) error {
	return s.SetPreference(ctx, KeyBanner, strconv.Itoa(BannerChecksum(text)))
}

// StoredCaseGUIDs returns the visited case guids in the order they were first opened.
func (s *Store) StoredCaseGUIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guid FROM visited_cases ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query visited cases: %w", err)
	}
	defer rows.Close()

	guids := []string{}
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("failed to scan visited case: %w", err)
		}
		guids = append(guids, guid)
	}
	return guids, rows.Err()
}

// AddCaseGUID remembers a visited case. Known guids keep their position.
func (s *Store) AddCaseGUID(ctx context.Context, guid string) error {
	if guid == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO visited_cases (guid, position, visited_at)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM visited_cases), ?)
		ON CONFLICT(guid) DO UPDATE SET visited_at = excluded.visited_at`,
		guid, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to remember case %s: %w", guid, err)
	}
	return nil
}

// RefreshStoredCases replaces the visited cases with the given list.
func (s *Store) RefreshStoredCases(ctx context.Context, cases []helium.CaseMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM visited_cases`); err != nil {
		return fmt.Errorf("failed to clear visited cases: %w", err)
	}
	now := time.Now().Unix()
	for i, c := range cases {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO visited_cases (guid, position, visited_at) VALUES (?, ?, ?)`,
			c.GUID, i+1, now)
		if err != nil {
			return fmt.Errorf("failed to store case %s: %w", c.GUID, err)
		}
	}
	return tx.Commit()
}

// Reset clears preferences, visited cases and the activity log.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"preferences", "visited_cases", "activity_entries"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
