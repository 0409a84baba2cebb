// Package auth performs login and registration against the API for any role
// and persists the resulting session.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/joescharf/ait/internal/apiclient"
	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/store"
	"github.com/joescharf/ait/internal/tokens"
)

// Doer is the subset of apiclient.Client the gateway needs.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// TokenSource supplies the CSRF token for mutating requests.
type TokenSource interface {
	Ensure(ctx context.Context) (string, error)
}

// SessionListener is told about sessions the gateway has persisted or removed.
type SessionListener interface {
	SignedIn(models.Session)
	SignedOut()
}

// Endpoints are path templates; {role} is replaced with the role hint.
type Endpoints struct {
	Login    string
	Register string
}

// Gateway is role-agnostic apart from the endpoint it calls.
type Gateway struct {
	api       Doer
	csrf      TokenSource
	sessions  store.SessionStore
	listener  SessionListener
	endpoints Endpoints
	logger    *zap.Logger
}

// NewGateway wires a Gateway. listener and logger may be nil.
func NewGateway(api Doer, csrf TokenSource, sessions store.SessionStore, listener SessionListener, endpoints Endpoints, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		api:       api,
		csrf:      csrf,
		sessions:  sessions,
		listener:  listener,
		endpoints: endpoints,
		logger:    logger.Named("auth"),
	}
}

// LoginRequest holds sign-in form state.
type LoginRequest struct {
	Identifier string
	Password   string
	Role       models.Role
}

// Validate reports missing fields without touching the network.
func (r LoginRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Identifier) == "" {
		missing = append(missing, "identifier")
	}
	if r.Password == "" {
		missing = append(missing, "password")
	}
	if !r.Role.Valid() {
		missing = append(missing, "role")
	}
	if len(missing) > 0 {
		return apperr.NewValidation(missing...)
	}
	return nil
}

// Login signs in as req.Role.
func (g *Gateway) Login(ctx context.Context, req LoginRequest) (models.Session, error) {
	if err := req.Validate(); err != nil {
		return models.EmptySession(), err
	}
	body := map[string]string{
		"username": strings.TrimSpace(req.Identifier),
		"password": req.Password,
	}
	return g.exchange(ctx, g.endpoints.Login, req.Role, body, strings.TrimSpace(req.Identifier))
}

// Register creates an account for req.Role and signs in with it.
func (g *Gateway) Register(ctx context.Context, req RegisterRequest) (models.Session, error) {
	if err := req.Validate(); err != nil {
		return models.EmptySession(), err
	}
	return g.exchange(ctx, g.endpoints.Register, req.Role, req.body(), strings.TrimSpace(req.Username))
}

// Logout forgets the stored session. Listeners are told even when the store
// cannot be cleared.
func (g *Gateway) Logout(ctx context.Context) error {
	err := g.sessions.ClearSession(ctx)
	if g.listener != nil {
		g.listener.SignedOut()
	}
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (g *Gateway) exchange(ctx context.Context, tmpl string, role models.Role, body any, identifier string) (models.Session, error) {
	token, err := g.csrf.Ensure(ctx)
	if err != nil {
		return models.EmptySession(), err
	}

	path := apiclient.Expand(tmpl, map[string]string{"role": string(role)})
	resp, err := g.api.Do(ctx, apiclient.Request{
		Method:      http.MethodPost,
		Path:        path,
		JSON:        body,
		RequireCSRF: true,
		CSRFToken:   token,
	})
	if err != nil {
		return models.EmptySession(), err
	}
	if !resp.OK() {
		g.logger.Debug("auth rejected", zap.Int("status", resp.Status), zap.String("role", string(role)))
		return models.EmptySession(), &apperr.AuthError{Status: resp.Status, Message: resp.ErrorMessage()}
	}

	sess, err := sessionFromResponse(resp, role, identifier)
	if err != nil {
		return models.EmptySession(), err
	}
	if err := g.sessions.SetSession(ctx, sess); err != nil {
		return models.EmptySession(), fmt.Errorf("store session: %w", err)
	}
	if g.listener != nil {
		g.listener.SignedIn(sess)
	}
	g.logger.Info("signed in", zap.String("role", string(sess.Role)), zap.String("username", sess.Username))
	return sess, nil
}

// tokenResponse accepts the shapes the API uses for token issuance.
type tokenResponse struct {
	Access       string       `json:"access"`
	Refresh      string       `json:"refresh"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	Role         string       `json:"role"`
	UserID       models.RefID `json:"user_id"`
	Username     string       `json:"username"`
	User         *struct {
		ID       models.RefID `json:"id"`
		Username string       `json:"username"`
		Role     string       `json:"role"`
	} `json:"user"`
	Tokens *struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	} `json:"tokens"`
}

// sessionFromResponse builds a session from a 2xx body. Fields the body omits
// come from the access token claims, then from the caller's role hint and
// identifier.
func sessionFromResponse(resp *apiclient.Response, hint models.Role, identifier string) (models.Session, error) {
	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		return models.EmptySession(), &apperr.AuthError{Status: resp.Status, Message: "unexpected response from server"}
	}

	sess := models.Session{
		AccessToken:  firstNonEmpty(tr.Access, tr.AccessToken),
		RefreshToken: firstNonEmpty(tr.Refresh, tr.RefreshToken),
		Username:     tr.Username,
		UserID:       string(tr.UserID),
	}
	role := tr.Role
	if tr.Tokens != nil {
		sess.AccessToken = firstNonEmpty(sess.AccessToken, tr.Tokens.Access)
		sess.RefreshToken = firstNonEmpty(sess.RefreshToken, tr.Tokens.Refresh)
	}
	if tr.User != nil {
		sess.UserID = firstNonEmpty(sess.UserID, string(tr.User.ID))
		sess.Username = firstNonEmpty(sess.Username, tr.User.Username)
		role = firstNonEmpty(role, tr.User.Role)
	}
	if sess.AccessToken == "" {
		return models.EmptySession(), &apperr.AuthError{Status: resp.Status, Message: "server did not return an access token"}
	}

	if claims, err := tokens.Inspect(sess.AccessToken); err == nil {
		role = firstNonEmpty(role, claims.Role)
		sess.UserID = firstNonEmpty(sess.UserID, claims.UserID)
		sess.Username = firstNonEmpty(sess.Username, claims.Username)
	}

	sess.Role = models.Role(strings.ToLower(role))
	if !sess.Role.Valid() {
		sess.Role = hint
	}
	sess.Username = firstNonEmpty(sess.Username, identifier)
	return sess, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
