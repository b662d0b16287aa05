// Package users provides account administration on top of the auth core:
// admin listing and creation, profile reads, admin-flag changes and account
// deletion. All reads and writes go through auth.UserRepository.
package users

// CreateUserRequest is the body of POST /api/users (admin only). Unlike
// self-registration it can grant admin and does not issue a code.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,min=3,max=200,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	IsAdmin  bool   `json:"isAdmin"`
}

// UpdateProfileRequest is the body of PUT /api/users/profile/:username.
type UpdateProfileRequest struct {
	IsAdmin *bool `json:"isAdmin" validate:"required"`
}
