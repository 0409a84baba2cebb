package models

import "fmt"

// Role identifies which views and endpoints a session can reach.
type Role string

const (
	RoleNone      Role = "none"
	RoleStudent   Role = "student"
	RoleLecturer  Role = "lecturer"
	RoleRegistrar Role = "registrar"
)

// Roles lists the concrete roles a user can authenticate as.
var Roles = []Role{RoleStudent, RoleLecturer, RoleRegistrar}

// ParseRole converts a string to a concrete Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStudent, RoleLecturer, RoleRegistrar:
		return r, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q (use: student, lecturer, registrar)", s)
	}
}

// Valid reports whether r is a concrete, authenticatable role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleLecturer || r == RoleRegistrar
}

// Session is the client's record of being authenticated as a role.
// AccessToken is non-empty exactly when Role is not RoleNone.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         Role   `json:"role"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
}

// EmptySession returns the session of an anonymous user.
func EmptySession() Session {
	return Session{Role: RoleNone}
}

// Authenticated reports whether the session carries a token and a concrete role.
func (s Session) Authenticated() bool {
	return s.AccessToken != "" && s.Role.Valid()
}
