package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/auth"
	"github.com/joescharf/ait/internal/backlog"
	"github.com/joescharf/ait/internal/issues"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/router"
)

// sessionView is the public part of the session. Tokens never leave the process.
type sessionView struct {
	State     string      `json:"state"`
	Role      models.Role `json:"role"`
	Username  string      `json:"username,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	Dashboard string      `json:"dashboard"`
}

func viewOf(snap router.Snapshot) sessionView {
	return sessionView{
		State:     snap.State.String(),
		Role:      snap.Role(),
		Username:  snap.Session.Username,
		UserID:    snap.Session.UserID,
		Dashboard: router.DashboardFor(snap.Role()).Path,
	}
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.router.Current()))
}

// --- Auth ---

type signedInBody struct {
	Session  sessionView `json:"session"`
	Location string      `json:"location"`
}

type loginBody struct {
	Username   string `json:"username"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body loginBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := body.Identifier
	if id == "" {
		id = body.Username
	}
	if _, err := s.auth.Login(r.Context(), auth.LoginRequest{Identifier: id, Password: body.Password, Role: role}); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.signedIn(w)
}

type registerBody struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Password2       string `json:"password2"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Department      string `json:"department"`
	StudentNumber   string `json:"student_number"`
	StaffNumber     string `json:"staff_number"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var b registerBody
	if err := decode(r, &b); err != nil {
		s.writeError(w, r, err)
		return
	}
	confirm := b.ConfirmPassword
	if confirm == "" {
		confirm = b.Password2
	}
	_, err = s.auth.Register(r.Context(), auth.RegisterRequest{
		Role:            role,
		Username:        b.Username,
		Email:           b.Email,
		Password:        b.Password,
		ConfirmPassword: confirm,
		FirstName:       b.FirstName,
		LastName:        b.LastName,
		Department:      b.Department,
		StudentNumber:   b.StudentNumber,
		StaffNumber:     b.StaffNumber,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.signedIn(w)
}

func (s *Server) signedIn(w http.ResponseWriter) {
	snap := s.router.Current()
	writeJSON(w, http.StatusOK, signedInBody{
		Session:  viewOf(snap),
		Location: router.DashboardFor(snap.Role()).Path,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context()); err != nil {
		s.logger.Error("logout", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": router.Landing.Path})
}

// --- Dashboards ---

type dashboardBody struct {
	Session sessionView      `json:"session"`
	Issues  []*models.Issue  `json:"issues"`
	Summary *backlog.Summary `json:"summary"`
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	status := models.IssueStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, &apperr.ValidationError{Fields: []string{"status"}, Message: "unknown status"})
		return
	}
	all, err := s.issues.List(r.Context(), issues.Filter{Refresh: r.URL.Query().Get("refresh") == "1"})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	shown := all
	if status != "" {
		shown = make([]*models.Issue, 0, len(all))
		for _, iss := range all {
			if iss.Status == status {
				shown = append(shown, iss)
			}
		}
	}
	writeJSON(w, http.StatusOK, dashboardBody{
		Session: viewOf(s.router.Current()),
		Issues:  shown,
		Summary: s.scorer.Summarize(all),
	})
}

// --- Issues ---

type formBody struct {
	Categories []models.IssueCategory `json:"categories"`
	Priorities []models.IssuePriority `json:"priorities"`
	Defaults   models.IssueDraft      `json:"defaults"`
}

func (s *Server) issueForm(w http.ResponseWriter, r *http.Request) {
	snap := s.router.Current()
	writeJSON(w, http.StatusOK, formBody{
		Categories: []models.IssueCategory{
			models.IssueCategoryMissingMarks, models.IssueCategoryAppeal,
			models.IssueCategoryCorrection, models.IssueCategoryOther,
		},
		Priorities: []models.IssuePriority{
			models.IssuePriorityLow, models.IssuePriorityMedium,
			models.IssuePriorityHigh, models.IssuePriorityCritical,
		},
		Defaults: models.IssueDraft{
			Priority:    models.IssuePriorityMedium,
			StudentName: snap.Session.Username,
		},
	})
}

type submittedBody struct {
	Issue    *models.Issue `json:"issue"`
	Location string        `json:"location"`
}

func (s *Server) submitIssue(w http.ResponseWriter, r *http.Request) {
	var d models.IssueDraft
	if err := decode(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	path, cleanup, err := saveUpload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cleanup()
	d.AttachmentPath = path

	iss, err := s.issues.Submit(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submittedBody{Issue: iss, Location: router.StudentDashboard.Path})
}

func (s *Server) suggest(w http.ResponseWriter, r *http.Request) {
	var d models.IssueDraft
	if err := decode(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Description) == "" {
		s.writeError(w, r, apperr.NewValidation("title"))
		return
	}
	writeJSON(w, http.StatusOK, s.triage.Suggest(r.Context(), d))
}

func (s *Server) issueDetail(w http.ResponseWriter, r *http.Request) {
	iss, err := s.issues.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

type assignViewBody struct {
	Issue     *models.Issue     `json:"issue"`
	Lecturers []models.Lecturer `json:"lecturers"`
}

func (s *Server) assignView(w http.ResponseWriter, r *http.Request) {
	iss, err := s.issues.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ls, err := s.issues.Lecturers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignViewBody{Issue: iss, Lecturers: ls})
}

type assignBody struct {
	Lecturer   string `json:"lecturer"`
	AssignedTo string `json:"assigned_to"`
}

func (s *Server) assign(w http.ResponseWriter, r *http.Request) {
	var b assignBody
	if err := decode(r, &b); err != nil {
		s.writeError(w, r, err)
		return
	}
	lecturer := b.Lecturer
	if lecturer == "" {
		lecturer = b.AssignedTo
	}
	iss, err := s.issues.Assign(r.Context(), chi.URLParam(r, "id"), lecturer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

type statusViewBody struct {
	Issue *models.Issue        `json:"issue"`
	Next  []models.IssueStatus `json:"next"`
}

func (s *Server) statusView(w http.ResponseWriter, r *http.Request) {
	iss, err := s.issues.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	next := []models.IssueStatus{}
	for _, st := range models.IssueStatuses {
		if iss.Status.CanTransitionTo(st) {
			next = append(next, st)
		}
	}
	writeJSON(w, http.StatusOK, statusViewBody{Issue: iss, Next: next})
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var b struct {
		Status models.IssueStatus `json:"status"`
	}
	if err := decode(r, &b); err != nil {
		s.writeError(w, r, err)
		return
	}
	iss, err := s.issues.UpdateStatus(r.Context(), chi.URLParam(r, "id"), b.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

// --- Profile ---

type profileBody struct {
	*models.Profile
	FullName string `json:"full_name"`
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	p, err := s.issues.Profile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileBody{Profile: p, FullName: p.FullName()})
}
