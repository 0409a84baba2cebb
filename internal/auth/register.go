package auth

import (
	"net/mail"
	"strings"

	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/models"
)

// RegisterRequest holds registration form state. Students identify with a
// student number, staff (lecturer, registrar) with a staff number.
type RegisterRequest struct {
	Role            models.Role
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	Department      string
	StudentNumber   string
	StaffNumber     string
}

// Validate reports missing or inconsistent fields without touching the network.
func (r RegisterRequest) Validate() error {
	var missing []string
	add := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if !r.Role.Valid() {
		missing = append(missing, "role")
	}
	add("username", r.Username)
	add("email", r.Email)
	if r.Password == "" {
		missing = append(missing, "password")
	}
	if r.ConfirmPassword == "" {
		missing = append(missing, "confirm_password")
	}
	add("first_name", r.FirstName)
	add("last_name", r.LastName)
	switch r.Role {
	case models.RoleStudent:
		add("student_number", r.StudentNumber)
	case models.RoleLecturer, models.RoleRegistrar:
		add("staff_number", r.StaffNumber)
	}
	if len(missing) > 0 {
		return apperr.NewValidation(missing...)
	}

	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		return &apperr.ValidationError{Fields: []string{"email"}, Message: "enter a valid email address"}
	}
	if r.Password != r.ConfirmPassword {
		return &apperr.ValidationError{Fields: []string{"confirm_password"}, Message: "passwords do not match"}
	}
	return nil
}

func (r RegisterRequest) body() map[string]string {
	b := map[string]string{
		"username":   strings.TrimSpace(r.Username),
		"email":      strings.TrimSpace(r.Email),
		"password":   r.Password,
		"password2":  r.ConfirmPassword,
		"first_name": strings.TrimSpace(r.FirstName),
		"last_name":  strings.TrimSpace(r.LastName),
		"role":       string(r.Role),
	}
	if r.Department != "" {
		b["department"] = strings.TrimSpace(r.Department)
	}
	if r.Role == models.RoleStudent {
		b["student_number"] = strings.TrimSpace(r.StudentNumber)
	} else {
		b["staff_number"] = strings.TrimSpace(r.StaffNumber)
	}
	return b
}
