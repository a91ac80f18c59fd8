// Package models holds the data types shared by the relay server and the
// lesson-room client.
package models

// Role is a platform role. Only students and teachers join lessons.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// AuthUser is the caller identity taken from a verified access token.
// Authentication itself belongs to the identity provider.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
