package store

import (
	"context"
	"time"

	"github.com/joescharf/ait/internal/models"
)

// Session storage keys. These are the only keys ever written to session_kv.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyRole         = "role"
	KeyUserID       = "user_id"
	KeyUsername     = "username"
)

// SessionKeys lists every session key in write order.
var SessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyRole, KeyUserID, KeyUsername}

// SessionStore is the single source of truth for the persisted session.
type SessionStore interface {
	// SetSession replaces the stored session with s in one atomic write.
	SetSession(ctx context.Context, s models.Session) error
	// GetSession returns the stored session, or the empty session if unset.
	GetSession(ctx context.Context) (models.Session, error)
	// ClearSession removes every session field.
	ClearSession(ctx context.Context) error
}

// IssueCache holds the last server-confirmed issue list per session owner.
type IssueCache interface {
	CacheIssues(ctx context.Context, owner string, issues []*models.Issue) error
	// CachedIssues returns the cached list and when it was stored. ok is false
	// when nothing is cached for owner.
	CachedIssues(ctx context.Context, owner string) (issues []*models.Issue, cachedAt time.Time, ok bool, err error)
	InvalidateIssues(ctx context.Context, owner string) error
}

// Store defines the local persistence interface for ait.
type Store interface {
	SessionStore
	IssueCache

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
