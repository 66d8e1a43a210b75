package user

import (
	"strings"
	"time"
)

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Bio            string    `json:"bio"`
	ProfilePicture string    `json:"profile_picture"`
	Password       string    `json:"-"`
	IsOnline       bool      `json:"is_online"`
	LastSeen       time.Time `json:"last_seen"`
	CreatedAt      time.Time `json:"created_at"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Profile is the public representation of a user.
type Profile struct {
	User
	FullName string `json:"full_name"`
}

func (u User) Profile() Profile {
	return Profile{User: u, FullName: u.FullName()}
}

type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Username        string `json:"username" validate:"required,max=150"`
	FirstName       string `json:"first_name" validate:"required,max=30"`
	LastName        string `json:"last_name" validate:"required,max=30"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	User        Profile `json:"user"`
}

// UpdateProfileRequest is a partial update: nil fields are left alone.
type UpdateProfileRequest struct {
	FirstName      *string `json:"first_name" validate:"omitempty,max=30"`
	LastName       *string `json:"last_name" validate:"omitempty,max=30"`
	Bio            *string `json:"bio" validate:"omitempty,max=500"`
	ProfilePicture *string `json:"profile_picture" validate:"omitempty,max=2048"`
}

// LookupQuery selects one user by exact match. The first set field in the
// order UserID, Username, Email wins.
type LookupQuery struct {
	UserID   int64
	Username string
	Email    string
}
