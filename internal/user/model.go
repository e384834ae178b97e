package user

import "time"

// Role is the mutually exclusive class that gates who may message whom.
type Role string

const (
	RoleStudent Role = "student"
	RoleAlumni  Role = "alumni"
)

// Valid reports whether r is one of the known role classes.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAlumni
}

// Counterpart is the role r is permitted to message.
func (r Role) Counterpart() Role {
	if r == RoleStudent {
		return RoleAlumni
	}
	return RoleStudent
}

// Plural is used in user-facing messages ("you can only chat with alumni").
func (r Role) Plural() string {
	if r == RoleStudent {
		return "students"
	}
	return string(r)
}

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Role       Role      `json:"role"`
	Department string    `json:"department,omitempty"`
	Batch      string    `json:"batch,omitempty"`
	LastSeen   time.Time `json:"lastSeen"`
}

// Profile is the public view embedded in conversation listings.
type Profile struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"`
	Batch      string `json:"batch,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:         u.ID,
		Name:       u.Name,
		Role:       u.Role,
		Department: u.Department,
		Batch:      u.Batch,
	}
}
