// Package auth implements two-factor login and credential management.
// A password check issues a one-time code by email; redeeming that code
// within its lifetime yields a signed session token. Email and password
// changes re-validate identity against the store on every call.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// User is a registered account. PasswordHash is the bcrypt hash of the
// SHA-256 prehash of the password and never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Claims returns the session claims for this user.
func (u *User) Claims() Claims {
	return Claims{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

// OTPChallenge is the single outstanding one-time code for an email.
// OTPHash is the bcrypt hash of the code's prehash.
type OTPChallenge struct {
	Email     string
	OTPHash   string
	UserID    int64
	UsedUp    bool
	CreatedAt time.Time
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest is the body of POST /api/users/register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,min=3,max=200,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// LoginRequest is the body of POST /api/users/login. Either username or
// email identifies the account; email wins when both are given.
type LoginRequest struct {
	Username string `json:"username" validate:"omitempty,min=2,max=100"`
	Email    string `json:"email" validate:"omitempty,min=3,max=200,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// VerifyOTPRequest is the body of POST /api/users/otpCheckout.
type VerifyOTPRequest struct {
	Email   string `json:"email" validate:"required,min=3,max=200,email"`
	OTPCode string `json:"otpCode" validate:"required,min=6,max=64"`
}

// ChangeEmailRequest is the body of PUT /api/users/email.
type ChangeEmailRequest struct {
	Email   string `json:"email" validate:"required,min=3,max=200,email"`
	OTPCode string `json:"otpCode" validate:"required,min=6,max=64"`
}

// ChangePasswordRequest is the body of PUT /api/users/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,min=6,max=128"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=128"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the validated input for creating an account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	IsAdmin  bool
}

// LoginInput is the validated input for the password step of login.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// --- Responses ---

// VerifyResult is returned by a successful code verification.
type VerifyResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// MessageResponse is a plain acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}
