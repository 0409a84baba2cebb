// Package router holds the client's authentication state machine and decides
// which views the current session may reach.
//
// The router starts in StateLoading and renders nothing until Restore has read
// the persisted session. From there it moves between StateAnonymous and
// StateAuthenticated on sign-in, logout, and server-side session rejection.
// Leaving StateAuthenticated always clears the session store.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/store"
	"github.com/joescharf/ait/internal/tokens"
)

// State is the router's authentication state.
type State int

const (
	StateLoading State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is an immutable view of the router state.
type Snapshot struct {
	State   State
	Session models.Session
}

// Role returns the authenticated role, or RoleNone.
func (s Snapshot) Role() models.Role {
	if s.State != StateAuthenticated {
		return models.RoleNone
	}
	return s.Session.Role
}

func (s Snapshot) String() string {
	if s.State == StateAuthenticated {
		return fmt.Sprintf("authenticated as %s", s.Session.Role)
	}
	return s.State.String()
}

// Listener observes state transitions.
type Listener func(from, to Snapshot)

// Router is safe for concurrent use.
type Router struct {
	sessions store.SessionStore
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	state     State
	session   models.Session
	listeners []Listener
}

// New returns a Router in StateLoading. logger may be nil.
func New(sessions store.SessionStore, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		sessions: sessions,
		logger:   logger.Named("router"),
		now:      time.Now,
		state:    StateLoading,
		session:  models.EmptySession(),
	}
}

// OnChange registers a listener for every transition.
func (r *Router) OnChange(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Current returns the current state.
func (r *Router) Current() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{State: r.state, Session: r.session}
}

// Restore reconstructs the state from the session store, resolving
// StateLoading. A persisted token whose JWT expiry has passed is discarded.
func (r *Router) Restore(ctx context.Context) (Snapshot, error) {
	sess, err := r.sessions.GetSession(ctx)
	if err != nil {
		// Unreadable storage means nobody is signed in.
		r.transition(StateAnonymous, models.EmptySession())
		return r.Current(), fmt.Errorf("restore session: %w", err)
	}

	if !sess.Authenticated() {
		r.transition(StateAnonymous, models.EmptySession())
		return r.Current(), nil
	}

	if tokens.Expired(sess.AccessToken, r.now()) {
		r.logger.Info("stored session expired", zap.String("username", sess.Username))
		if err := r.sessions.ClearSession(ctx); err != nil {
			r.transition(StateAnonymous, models.EmptySession())
			return r.Current(), fmt.Errorf("clear expired session: %w", err)
		}
		r.transition(StateAnonymous, models.EmptySession())
		return r.Current(), nil
	}

	r.transition(StateAuthenticated, sess)
	return r.Current(), nil
}

// SignedIn records a session the auth gateway has already persisted.
func (r *Router) SignedIn(sess models.Session) {
	if !sess.Authenticated() {
		r.logger.Warn("ignoring sign-in without token or role")
		return
	}
	r.transition(StateAuthenticated, sess)
}

// SignedOut records that the auth gateway has cleared the session store.
func (r *Router) SignedOut() {
	r.transition(StateAnonymous, models.EmptySession())
}

// Logout clears the session store and becomes anonymous. The state changes
// even if the store cannot be cleared.
func (r *Router) Logout(ctx context.Context) error {
	err := r.sessions.ClearSession(ctx)
	r.transition(StateAnonymous, models.EmptySession())
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Expire handles a server rejection of the session (401/403). Its signature
// matches apiclient.ExpiryHook.
func (r *Router) Expire(ctx context.Context, status int) {
	r.logger.Info("session expired", zap.Int("status", status))
	if err := r.Logout(ctx); err != nil {
		r.logger.Error("forced logout", zap.Error(err))
	}
}

func (r *Router) transition(state State, sess models.Session) {
	r.mu.Lock()
	from := Snapshot{State: r.state, Session: r.session}
	r.state = state
	r.session = sess
	to := Snapshot{State: r.state, Session: r.session}
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	if from.State == to.State && from.Session == to.Session {
		return
	}
	r.logger.Debug("transition", zap.Stringer("from", from), zap.Stringer("to", to))
	for _, l := range listeners {
		l(from, to)
	}
}

// Resolve decides whether route is reachable in the current state.
func (r *Router) Resolve(route Route) Decision {
	return route.Decide(r.Current())
}
