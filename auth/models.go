package auth

import "time"

type Role string

const (
	RoleProfessional Role = "professional"
	RoleClient       Role = "client"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID              int64
	Email           string
	FullName        string
	PasswordHash    string
	Role            Role
	Specializations []string
	Verified        bool
	CreatedAt       time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	FullName        string   `json:"full_name"`
	Role            Role     `json:"role"`
	Specializations []string `json:"specializations"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Identity is what a verified token asserts.
type Identity struct {
	UserID          int64
	Role            Role
	Specializations []string
}
