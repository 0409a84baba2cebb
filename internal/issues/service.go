// Package issues submits new issues and reads and updates existing ones on
// behalf of the signed-in user.
//
// Issues are owned by the server. The service never edits a local copy: after
// any write the server confirms, the cached list is dropped and the entity is
// fetched again.
package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joescharf/ait/internal/apiclient"
	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/store"
)

// DefaultCacheTTL is how long a cached issue list is served without refetching.
const DefaultCacheTTL = 2 * time.Minute

// Doer is the subset of apiclient.Client the service needs.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// TokenSource supplies a CSRF token.
type TokenSource interface {
	Ensure(ctx context.Context) (string, error)
}

// Paths are API path templates. Detail takes {id}; Profile takes {role}.
type Paths struct {
	Issues    string
	Detail    string
	Profile   string
	Lecturers string
}

// DefaultPaths match the reference backend.
var DefaultPaths = Paths{
	Issues:    "/api/issues/",
	Detail:    "/api/issues/{id}/",
	Profile:   "/api/{role}/profile/",
	Lecturers: "/api/lecturers/",
}

// Config tunes a Service.
type Config struct {
	Paths Paths
	// CSRF is consulted for writes only when CSRFOnBearer is set.
	CSRF         TokenSource
	CSRFOnBearer bool
	CacheTTL     time.Duration
}

// Service is safe for concurrent use.
type Service struct {
	api      Doer
	sessions store.SessionStore
	cache    store.IssueCache
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	submits singleflight.Group
}

// NewService wires a Service. cache and logger may be nil.
func NewService(api Doer, sessions store.SessionStore, cache store.IssueCache, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Paths == (Paths{}) {
		cfg.Paths = DefaultPaths
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Service{
		api:      api,
		sessions: sessions,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.Named("issues"),
		now:      time.Now,
	}
}

// Filter narrows List.
type Filter struct {
	Status models.IssueStatus
	// Refresh bypasses the cached list.
	Refresh bool
}

// List returns the issues visible to the signed-in user, newest first as the
// server orders them.
func (s *Service) List(ctx context.Context, f Filter) ([]*models.Issue, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &apperr.ValidationError{Fields: []string{"status"}, Message: fmt.Sprintf("unknown status %q", f.Status)}
	}
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	owner := ownerKey(sess)

	if s.cache != nil && !f.Refresh {
		cached, at, ok, err := s.cache.CachedIssues(ctx, owner)
		if err != nil {
			s.logger.Warn("read issue cache", zap.Error(err))
		} else if ok && s.now().Sub(at) < s.cfg.CacheTTL {
			return filter(cached, f.Status), nil
		}
	}

	var list []*models.Issue
	if err := s.get(ctx, s.cfg.Paths.Issues, nil, &listEnvelope[*models.Issue]{items: &list}); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.CacheIssues(ctx, owner, list); err != nil {
			s.logger.Warn("write issue cache", zap.Error(err))
		}
	}
	return filter(list, f.Status), nil
}

// Get fetches one issue.
func (s *Service) Get(ctx context.Context, id string) (*models.Issue, error) {
	if id == "" {
		return nil, apperr.NewValidation("id")
	}
	var iss models.Issue
	if err := s.get(ctx, s.detailPath(id), nil, &iss); err != nil {
		return nil, fmt.Errorf("get issue %s: %w", id, err)
	}
	return &iss, nil
}

// Assign hands a pending or assigned issue to a lecturer. Registrar only.
func (s *Service) Assign(ctx context.Context, id, lecturerID string) (*models.Issue, error) {
	if lecturerID == "" {
		return nil, apperr.NewValidation("lecturer")
	}
	if err := s.requireRole(ctx, "assign issues", models.RoleRegistrar); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.IssueStatusResolved {
		return nil, &apperr.ValidationError{Fields: []string{"status"}, Message: "resolved issues cannot be reassigned"}
	}

	body := map[string]string{"assigned_to": lecturerID}
	if current.Status == models.IssueStatusPending {
		body["status"] = string(models.IssueStatusAssigned)
	}
	if err := s.write(ctx, http.MethodPatch, s.detailPath(id), body); err != nil {
		return nil, fmt.Errorf("assign issue %s: %w", id, err)
	}
	s.logger.Info("issue assigned", zap.String("id", id), zap.String("lecturer", lecturerID))
	return s.Get(ctx, id)
}

// UpdateStatus moves an issue forward in the workflow. Lecturer or registrar.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.IssueStatus) (*models.Issue, error) {
	if !status.Valid() {
		return nil, &apperr.ValidationError{Fields: []string{"status"}, Message: fmt.Sprintf("unknown status %q", status)}
	}
	if err := s.requireRole(ctx, "change issue status", models.RoleLecturer, models.RoleRegistrar); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(status) {
		return nil, &apperr.ValidationError{
			Fields:  []string{"status"},
			Message: fmt.Sprintf("cannot move issue from %s to %s", current.Status, status),
		}
	}
	if err := s.write(ctx, http.MethodPatch, s.detailPath(id), map[string]string{"status": string(status)}); err != nil {
		return nil, fmt.Errorf("update issue %s: %w", id, err)
	}
	s.logger.Info("issue status changed", zap.String("id", id), zap.String("from", string(current.Status)), zap.String("to", string(status)))
	return s.Get(ctx, id)
}

// Lecturers lists staff the registrar can assign issues to.
func (s *Service) Lecturers(ctx context.Context) ([]models.Lecturer, error) {
	var out []models.Lecturer
	if err := s.get(ctx, s.cfg.Paths.Lecturers, nil, &listEnvelope[models.Lecturer]{items: &out}); err != nil {
		return nil, fmt.Errorf("list lecturers: %w", err)
	}
	return out, nil
}

// Profile fetches the signed-in user's account record.
func (s *Service) Profile(ctx context.Context) (*models.Profile, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	var p models.Profile
	path := apiclient.Expand(s.cfg.Paths.Profile, map[string]string{"role": string(sess.Role)})
	if err := s.get(ctx, path, nil, &p); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p.Role == "" {
		p.Role = sess.Role
	}
	return &p, nil
}

func (s *Service) session(ctx context.Context) (models.Session, error) {
	sess, err := s.sessions.GetSession(ctx)
	if err != nil {
		return models.EmptySession(), fmt.Errorf("read session: %w", err)
	}
	if !sess.Authenticated() {
		return models.EmptySession(), &apperr.SessionExpiredError{}
	}
	return sess, nil
}

func (s *Service) requireRole(ctx context.Context, action string, roles ...models.Role) error {
	sess, err := s.session(ctx)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if sess.Role == r {
			return nil
		}
	}
	return &apperr.ValidationError{Fields: []string{"role"}, Message: fmt.Sprintf("a %s cannot %s", sess.Role, action)}
}

func (s *Service) detailPath(id string) string {
	return apiclient.Expand(s.cfg.Paths.Detail, map[string]string{"id": url.PathEscape(id)})
}

func (s *Service) get(ctx context.Context, path string, q url.Values, v any) error {
	resp, err := s.api.Do(ctx, apiclient.Request{
		Method:        http.MethodGet,
		Path:          path,
		Query:         q,
		Authenticated: true,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &apperr.RequestError{Status: resp.Status, Message: resp.ErrorMessage()}
	}
	return resp.Decode(v)
}

// write sends an authenticated mutation and drops the cached lists once the
// server confirms it.
func (s *Service) write(ctx context.Context, method, path string, body any) error {
	req := apiclient.Request{
		Method:        method,
		Path:          path,
		JSON:          body,
		Authenticated: true,
	}
	if err := s.attachCSRF(ctx, &req); err != nil {
		return err
	}
	resp, err := s.api.Do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &apperr.SubmitError{Status: resp.Status, Message: resp.ErrorMessage()}
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) attachCSRF(ctx context.Context, req *apiclient.Request) error {
	if !s.cfg.CSRFOnBearer {
		return nil
	}
	if s.cfg.CSRF == nil {
		return fmt.Errorf("csrf on bearer requests is enabled but no token source is configured")
	}
	token, err := s.cfg.CSRF.Ensure(ctx)
	if err != nil {
		return err
	}
	req.RequireCSRF = true
	req.CSRFToken = token
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateIssues(ctx, ""); err != nil {
		s.logger.Warn("invalidate issue cache", zap.Error(err))
	}
}

func ownerKey(sess models.Session) string {
	id := sess.UserID
	if id == "" {
		id = sess.Username
	}
	return string(sess.Role) + ":" + id
}

func filter(list []*models.Issue, status models.IssueStatus) []*models.Issue {
	if status == "" {
		return list
	}
	out := make([]*models.Issue, 0, len(list))
	for _, iss := range list {
		if iss.Status == status {
			out = append(out, iss)
		}
	}
	return out
}

// listEnvelope decodes either a bare JSON array or a paginated
// {"results": [...]} page.
type listEnvelope[T any] struct {
	items *[]T
}

func (l *listEnvelope[T]) UnmarshalJSON(data []byte) error {
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(data, l.items); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return err
	}
	*l.items = page.Results
	return nil
}
