package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joescharf/ait/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
// The file holds bearer tokens in plain text, so it is restricted to the
// current user.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers; the web frontend and CLI may share the file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := os.Chmod(dbPath, 0o600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, fmt.Errorf("restrict database permissions: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Session ---

// SetSession writes all five session fields in one transaction so readers
// never observe a role without its token.
func (s *SQLiteStore) SetSession(ctx context.Context, sess models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_kv"); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}

	values := sessionValues(sess)
	now := time.Now().UTC()
	for _, key := range SessionKeys {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_kv (key, value, updated_at) VALUES (?, ?, ?)",
			key, values[key], now,
		); err != nil {
			return fmt.Errorf("write session %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// GetSession reads the stored session. Missing keys default to empty values.
func (s *SQLiteStore) GetSession(ctx context.Context) (models.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM session_kv")
	if err != nil {
		return models.EmptySession(), fmt.Errorf("read session: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, len(SessionKeys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return models.EmptySession(), fmt.Errorf("scan session: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return models.EmptySession(), fmt.Errorf("read session: %w", err)
	}
	return sessionFromValues(values), nil
}

// ClearSession removes every session field.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_kv"); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// sessionValues flattens sess for storage. A session without both a token
// and a concrete role is stored as the empty session.
func sessionValues(sess models.Session) map[string]string {
	if !sess.Authenticated() {
		sess = models.EmptySession()
	}
	return map[string]string{
		KeyAccessToken:  sess.AccessToken,
		KeyRefreshToken: sess.RefreshToken,
		KeyRole:         string(sess.Role),
		KeyUserID:       sess.UserID,
		KeyUsername:     sess.Username,
	}
}

func sessionFromValues(values map[string]string) models.Session {
	sess := models.Session{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		Role:         models.Role(values[KeyRole]),
		UserID:       values[KeyUserID],
		Username:     values[KeyUsername],
	}
	if !sess.Role.Valid() {
		sess.Role = models.RoleNone
	}
	return sess
}

// --- Issue cache ---

func (s *SQLiteStore) CacheIssues(ctx context.Context, owner string, issues []*models.Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM issue_cache WHERE owner = ?", owner); err != nil {
		return fmt.Errorf("reset issue cache: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO issue_cache_meta (owner, cached_at) VALUES (?, ?)
		ON CONFLICT(owner) DO UPDATE SET cached_at = excluded.cached_at`,
		owner, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("write issue cache meta: %w", err)
	}

	for i, issue := range issues {
		data, err := json.Marshal(issue)
		if err != nil {
			return fmt.Errorf("marshal issue %s: %w", issue.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO issue_cache (owner, issue_id, position, data) VALUES (?, ?, ?, ?)",
			owner, string(issue.ID), i, string(data),
		); err != nil {
			return fmt.Errorf("cache issue %s: %w", issue.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit issue cache: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CachedIssues(ctx context.Context, owner string) ([]*models.Issue, time.Time, bool, error) {
	var cachedAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT cached_at FROM issue_cache_meta WHERE owner = ?", owner).Scan(&cachedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("read issue cache meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT data FROM issue_cache WHERE owner = ? ORDER BY position", owner)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("read issue cache: %w", err)
	}
	defer rows.Close()

	issues := []*models.Issue{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, time.Time{}, false, fmt.Errorf("scan cached issue: %w", err)
		}
		issue := &models.Issue{}
		if err := json.Unmarshal([]byte(data), issue); err != nil {
			return nil, time.Time{}, false, fmt.Errorf("decode cached issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("read issue cache: %w", err)
	}
	return issues, cachedAt, true, nil
}

// InvalidateIssues drops the cached list for owner; an empty owner drops all.
func (s *SQLiteStore) InvalidateIssues(ctx context.Context, owner string) error {
	where, args := "", []any{}
	if owner != "" {
		where, args = " WHERE owner = ?", []any{owner}
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM issue_cache"+where, args...); err != nil {
		return fmt.Errorf("invalidate issue cache: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM issue_cache_meta"+where, args...); err != nil {
		return fmt.Errorf("invalidate issue cache: %w", err)
	}
	return nil
}
