package models

// Profile is the account record the API returns for the signed-in user.
type Profile struct {
	ID            RefID  `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Role          Role   `json:"role"`
	Department    string `json:"department"`
	StudentNumber string `json:"student_number,omitempty"`
	StaffNumber   string `json:"staff_number,omitempty"`
}

// FullName joins first and last name, falling back to the username.
func (p Profile) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	}
	return p.Username
}

// Lecturer is an assignable staff member as listed for the registrar.
type Lecturer struct {
	ID         RefID  `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	Department string `json:"department"`
}
