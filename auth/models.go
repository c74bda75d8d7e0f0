package auth

import "time"

type Role string

const (
	RoleClient Role = "client"
	RoleDoer   Role = "doer"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// Staff reports whether the role may operate the dispute and withdrawal
// back office.
func (r Role) Staff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// User is the domain representation of an authenticated user. It mirrors the
// users table and carries no JSON annotations so it can be reused by
// different presentation layers.
type User struct {
	ID            string
	Email         string
	FullName      string
	PasswordHash  string
	Phone         *string
	Role          Role
	TrustScore    float64
	HasFamilyPlan bool
	FreeContract  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
