package user

import (
	"time"
)

// User is a clinician account.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Name         string    `db:"name" json:"name"`
	Title        string    `db:"title" json:"title"`
	ProfileImage string    `db:"profile_image" json:"profileImage"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

func (u *User) Key() int64 { return u.ID }

func (u *User) Stamp(id int64, now time.Time) {
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
}

func (u *User) Touch(now time.Time) { u.UpdatedAt = now }

type RegisterRequest struct {
	Username string `json:"username" form:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string `json:"email" form:"email" validate:"required,email,max=255"`
	Password string `json:"password" form:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name" form:"name" validate:"max=255"`
	Title    string `json:"title" form:"title" validate:"max=255"`
}

// CreateUserRequest is the admin variant of registration with an explicit role.
type CreateUserRequest struct {
	Username string `json:"username" form:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string `json:"email" form:"email" validate:"required,email,max=255"`
	Password string `json:"password" form:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name" form:"name" validate:"max=255"`
	Title    string `json:"title" form:"title" validate:"max=255"`
	Role     string `json:"role" form:"role" validate:"required,oneof=admin doctor researcher"`
}

func (r *CreateUserRequest) registration() *RegisterRequest {
	return &RegisterRequest{Username: r.Username, Email: r.Email, Password: r.Password, Name: r.Name, Title: r.Title}
}

type LoginRequest struct {
	// Username accepts either the username or the email address.
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

// UpdateProfileRequest carries a partial profile update. Nil fields are left
// unchanged.
type UpdateProfileRequest struct {
	Name         *string `json:"name" validate:"omitempty,max=255"`
	Title        *string `json:"title" validate:"omitempty,max=255"`
	ProfileImage *string `json:"profileImage" validate:"omitempty,max=2048"`
	Email        *string `json:"email" validate:"omitempty,email,max=255"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128"`
}

// LoginResponse is returned by bearer-mode logins. Session-mode logins omit
// the token fields.
type LoginResponse struct {
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	User      *User      `json:"user"`
}
