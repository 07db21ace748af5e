package model

import "github.com/golang-jwt/jwt/v5"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleNurse Role = "nurse"
	RoleStaff Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleNurse, RoleStaff:
		return true
	}
	return false
}

type Staff struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Active       bool   `json:"active"`
	Timestamps
}

// DisplayName is what appears as assignedTo on claimed work items.
func (s Staff) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Email
}

type TokenClaims struct {
	jwt.RegisteredClaims
	StaffID string `json:"staff_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Staff       Staff  `json:"staff"`
}
