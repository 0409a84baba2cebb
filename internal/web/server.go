// Package web serves the role-gated views of the client over local HTTP.
//
// Every view is one route of the router table. A guard in front of each
// handler asks the router whether the current session may see it and answers
// 303 to the router's redirect target, or 503 while the session is still
// loading. Views are JSON documents; the embedded static shell is served for
// everything else.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/auth"
	"github.com/joescharf/ait/internal/backlog"
	"github.com/joescharf/ait/internal/issues"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/router"
	"github.com/joescharf/ait/internal/triage"
)

// Authenticator signs users in and out.
type Authenticator interface {
	Login(ctx context.Context, req auth.LoginRequest) (models.Session, error)
	Register(ctx context.Context, req auth.RegisterRequest) (models.Session, error)
	Logout(ctx context.Context) error
}

// IssueService reads and writes issues for the signed-in user.
type IssueService interface {
	List(ctx context.Context, f issues.Filter) ([]*models.Issue, error)
	Get(ctx context.Context, id string) (*models.Issue, error)
	Submit(ctx context.Context, d models.IssueDraft) (*models.Issue, error)
	Assign(ctx context.Context, id, lecturerID string) (*models.Issue, error)
	UpdateStatus(ctx context.Context, id string, status models.IssueStatus) (*models.Issue, error)
	Lecturers(ctx context.Context) ([]models.Lecturer, error)
	Profile(ctx context.Context) (*models.Profile, error)
}

// Deps wires a Server. Triage, UI and Logger may be nil. When AllowedHosts
// is set, requests naming any other Host are refused.
type Deps struct {
	Router       *router.Router
	Auth         Authenticator
	Issues       IssueService
	Triage       *triage.Suggester
	UI           http.Handler
	Logger       *zap.Logger
	AllowedHosts []string
}

// Server holds the HTTP handlers.
type Server struct {
	router *router.Router
	auth   Authenticator
	issues IssueService
	triage *triage.Suggester
	scorer *backlog.Scorer
	ui     http.Handler
	logger *zap.Logger
	hosts  map[string]bool
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Triage == nil {
		d.Triage = triage.NewSuggester(nil, d.Logger)
	}
	var hosts map[string]bool
	if len(d.AllowedHosts) > 0 {
		hosts = make(map[string]bool, len(d.AllowedHosts))
		for _, h := range d.AllowedHosts {
			hosts[strings.ToLower(h)] = true
		}
	}
	return &Server{
		hosts:  hosts,
		router: d.Router,
		auth:   d.Auth,
		issues: d.Issues,
		triage: d.Triage,
		scorer: backlog.NewScorer(),
		ui:     d.UI,
		logger: d.Logger.Named("web"),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(s.hostCheck)
	r.Use(s.crossOrigin)

	r.Get("/api/v1/session", s.currentSession)

	r.With(s.guard(router.Landing)).Get(router.Landing.Path, s.shell)

	r.With(s.guard(router.Login)).Get(router.Login.Path, s.shell)
	r.With(s.guard(router.Login)).Post(router.Login.Path, s.login)
	r.With(s.guard(router.Register)).Get(router.Register.Path, s.shell)
	r.With(s.guard(router.Register)).Post(router.Register.Path, s.register)
	r.Post("/logout", s.logout)

	r.With(s.guard(router.StudentDashboard)).Get(router.StudentDashboard.Path, s.view(s.dashboard))
	r.With(s.guard(router.LecturerDashboard)).Get(router.LecturerDashboard.Path, s.view(s.dashboard))
	r.With(s.guard(router.RegistrarDashboard)).Get(router.RegistrarDashboard.Path, s.view(s.dashboard))

	r.With(s.guard(router.StudentNewIssue)).Get(router.StudentNewIssue.Path, s.view(s.issueForm))
	r.With(s.guard(router.StudentNewIssue)).Post(router.StudentNewIssue.Path, s.submitIssue)
	r.With(s.guard(router.StudentNewIssue)).Post(router.StudentNewIssue.Path+"/suggest", s.suggest)

	r.With(s.guard(router.RegistrarAssign)).Get(router.RegistrarAssign.Path, s.view(s.assignView))
	r.With(s.guard(router.RegistrarAssign)).Post(router.RegistrarAssign.Path, s.assign)

	r.With(s.guard(router.IssueDetail)).Get(router.IssueDetail.Path, s.view(s.issueDetail))
	r.With(s.guard(router.IssueStatus)).Get(router.IssueStatus.Path, s.view(s.statusView))
	r.With(s.guard(router.IssueStatus)).Post(router.IssueStatus.Path, s.updateStatus)

	r.With(s.guard(router.Profile)).Get(router.Profile.Path, s.view(s.profile))

	r.NotFound(s.shell)
	return r
}

// guard enforces the route's access rule before the handler runs.
func (s *Server) guard(rt router.Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := s.router.Resolve(rt)
			switch d.Outcome {
			case router.Pending:
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: d.Reason, Kind: "loading"})
			case router.Redirect:
				s.logger.Debug("redirect", zap.String("route", rt.Name), zap.String("to", d.Location), zap.String("reason", d.Reason))
				http.Redirect(w, r, d.Location, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// hostCheck refuses requests for a Host outside the allowed set, which is
// what a DNS-rebound page would send.
func (s *Server) hostCheck(next http.Handler) http.Handler {
	if s.hosts == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = strings.Trim(strings.ToLower(host), "[]")
		if !s.hosts[host] {
			s.logger.Warn("host refused", zap.String("host", r.Host))
			writeJSON(w, http.StatusForbidden, errorBody{Error: "unknown host", Kind: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// crossOrigin rejects state-changing requests sent by another site. The
// server acts with the stored session, so no other origin may write.
func (s *Server) crossOrigin(next http.Handler) http.Handler {
	cop := http.NewCrossOriginProtection()
	cop.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Warn("cross-origin request refused",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("origin", r.Header.Get("Origin")),
		)
		writeJSON(w, http.StatusForbidden, errorBody{Error: "cross-origin request refused", Kind: "forbidden"})
	}))
	return cop.Handler(next)
}

// view serves the browser shell to clients asking for HTML, after the guard
// has already admitted them, and the JSON document to everyone else.
func (s *Server) view(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ui != nil && strings.Contains(r.Header.Get("Accept"), "text/html") {
			s.ui.ServeHTTP(w, r)
			return
		}
		h(w, r)
	}
}

func (s *Server) shell(w http.ResponseWriter, r *http.Request) {
	if s.ui == nil {
		http.NotFound(w, r)
		return
	}
	s.ui.ServeHTTP(w, r)
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error  string   `json:"error"`
	Kind   string   `json:"kind"`
	Fields []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a notification. An expired session always logs
// out and sends the user back to the landing page.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindSessionExpired {
		var se *apperr.SessionExpiredError
		status := 0
		if errors.As(err, &se) {
			status = se.Status
		}
		s.router.Expire(r.Context(), status)
		http.Redirect(w, r, router.Landing.Path, http.StatusSeeOther)
		return
	}

	body := errorBody{Error: apperr.UserMessage(err), Kind: string(kind)}
	status := http.StatusInternalServerError

	var (
		ve *apperr.ValidationError
		ae *apperr.AuthError
		se *apperr.SubmitError
		re *apperr.RequestError
	)
	switch {
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
		body.Fields = ve.Fields
	case errors.As(err, &ae):
		status = clientStatus(ae.Status)
	case errors.As(err, &se):
		status = clientStatus(se.Status)
	case errors.As(err, &re):
		status = clientStatus(re.Status)
	case kind == apperr.KindNetwork:
		status = http.StatusBadGateway
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// clientStatus passes through upstream 4xx and maps anything else to 502.
func clientStatus(upstream int) int {
	if upstream >= 400 && upstream < 500 {
		return upstream
	}
	return http.StatusBadGateway
}

// decode reads a JSON or form-encoded body into v. Form values are matched to
// JSON field names.
func decode(r *http.Request, v any) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if ct == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxUpload); err != nil {
				return &apperr.ValidationError{Message: fmt.Sprintf("invalid form: %v", err)}
			}
		} else if err := r.ParseForm(); err != nil {
			return &apperr.ValidationError{Message: fmt.Sprintf("invalid form: %v", err)}
		}
		fields := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	default:
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return &apperr.ValidationError{Message: "invalid JSON body"}
		}
		return nil
	}
}

const maxUpload = 10 << 20

// saveUpload copies the "attachment" form file to a temp file. The returned
// cleanup removes it.
func saveUpload(r *http.Request) (path string, cleanup func(), err error) {
	cleanup = func() {}
	if r.MultipartForm == nil {
		return "", cleanup, nil
	}
	f, hdr, err := r.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) {
		return "", cleanup, nil
	}
	if err != nil {
		return "", cleanup, &apperr.ValidationError{Fields: []string{"attachment"}, Message: "could not read attachment"}
	}
	defer f.Close()

	dir, err := os.MkdirTemp("", "ait-upload-*")
	if err != nil {
		return "", cleanup, fmt.Errorf("create upload dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(dir) }
	path = filepath.Join(dir, filepath.Base(hdr.Filename))
	out, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, f); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("save upload: %w", err)
	}
	return path, cleanup, nil
}

func roleParam(r *http.Request) (models.Role, error) {
	role, err := models.ParseRole(strings.ToLower(chi.URLParam(r, "role")))
	if err != nil || role == models.RoleNone {
		return models.RoleNone, &apperr.ValidationError{Fields: []string{"role"}, Message: "unknown role"}
	}
	return role, nil
}
