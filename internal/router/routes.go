package router

import (
	"slices"
	"strings"

	"github.com/joescharf/ait/internal/models"
)

// Route is a named view. A route with Roles is reachable only when
// authenticated as one of them; an AnonymousOnly route only when signed out.
type Route struct {
	Name          string
	Path          string
	Roles         []models.Role
	AnonymousOnly bool
}

// Public reports whether anyone may view the route.
func (rt Route) Public() bool {
	return len(rt.Roles) == 0 && !rt.AnonymousOnly
}

// Allows reports whether role may view the route.
func (rt Route) Allows(role models.Role) bool {
	return slices.Contains(rt.Roles, role)
}

// PathFor fills {name} placeholders in the route path.
func (rt Route) PathFor(params map[string]string) string {
	p := rt.Path
	for k, v := range params {
		p = strings.ReplaceAll(p, "{"+k+"}", v)
	}
	return p
}

var anyRole = []models.Role{models.RoleStudent, models.RoleLecturer, models.RoleRegistrar}

// The route table.
var (
	Landing            = Route{Name: "landing", Path: "/"}
	Login              = Route{Name: "login", Path: "/login/{role}", AnonymousOnly: true}
	Register           = Route{Name: "register", Path: "/register/{role}", AnonymousOnly: true}
	StudentDashboard   = Route{Name: "student-dashboard", Path: "/student/dashboard", Roles: []models.Role{models.RoleStudent}}
	StudentNewIssue    = Route{Name: "student-new-issue", Path: "/student/issues/new", Roles: []models.Role{models.RoleStudent}}
	LecturerDashboard  = Route{Name: "lecturer-dashboard", Path: "/lecturer/dashboard", Roles: []models.Role{models.RoleLecturer}}
	RegistrarDashboard = Route{Name: "registrar-dashboard", Path: "/registrar/dashboard", Roles: []models.Role{models.RoleRegistrar}}
	RegistrarAssign    = Route{Name: "registrar-assign", Path: "/registrar/assign/{id}", Roles: []models.Role{models.RoleRegistrar}}
	IssueDetail        = Route{Name: "issue-detail", Path: "/issues/{id}", Roles: anyRole}
	IssueStatus        = Route{Name: "issue-status", Path: "/issues/{id}/status", Roles: []models.Role{models.RoleLecturer, models.RoleRegistrar}}
	Profile            = Route{Name: "profile", Path: "/profile", Roles: anyRole}
)

// Routes lists every route in the table.
var Routes = []Route{
	Landing, Login, Register,
	StudentDashboard, StudentNewIssue,
	LecturerDashboard,
	RegistrarDashboard, RegistrarAssign,
	IssueDetail, IssueStatus, Profile,
}

// DashboardFor returns the dashboard route of role, or Landing.
func DashboardFor(role models.Role) Route {
	switch role {
	case models.RoleStudent:
		return StudentDashboard
	case models.RoleLecturer:
		return LecturerDashboard
	case models.RoleRegistrar:
		return RegistrarDashboard
	default:
		return Landing
	}
}

// Outcome is the kind of routing decision.
type Outcome int

const (
	// Pending means the state is still loading; render nothing.
	Pending Outcome = iota
	Allow
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the result of resolving a route.
type Decision struct {
	Outcome  Outcome
	Location string
	Reason   string
}

// Decide applies the route guard to snapshot s.
func (rt Route) Decide(s Snapshot) Decision {
	if s.State == StateLoading {
		return Decision{Outcome: Pending, Reason: "session is loading"}
	}

	if rt.AnonymousOnly {
		if s.State == StateAuthenticated {
			return Decision{
				Outcome:  Redirect,
				Location: DashboardFor(s.Session.Role).Path,
				Reason:   "already signed in",
			}
		}
		return Decision{Outcome: Allow}
	}

	if len(rt.Roles) == 0 {
		return Decision{Outcome: Allow}
	}

	if s.State != StateAuthenticated {
		return Decision{Outcome: Redirect, Location: Landing.Path, Reason: "sign in required"}
	}
	if !rt.Allows(s.Session.Role) {
		return Decision{Outcome: Redirect, Location: Landing.Path, Reason: "not available to " + string(s.Session.Role)}
	}
	return Decision{Outcome: Allow}
}
