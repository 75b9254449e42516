package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role identifies which application a caller acts as.
type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// InstructorLoginRequest authenticates the instructor on this device.
type InstructorLoginRequest struct {
	Passphrase string `json:"passphrase" validate:"required"`
}

// TokenResponse returns an issued access token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	Role        Role      `json:"role"`
	StudentID   string    `json:"student_id,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// JWTClaims represents the JWT payload for access tokens. StudentID is set
// only for student tokens and scopes them to that student.
type JWTClaims struct {
	Role      Role   `json:"role"`
	StudentID string `json:"student_id,omitempty"`
	DeviceID  string `json:"device_id"`
	jwt.RegisteredClaims
}
