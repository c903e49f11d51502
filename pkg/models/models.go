package models

import "time"

// Roles understood by the ACL provider
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleGuest = "guest"
)

// User is an account allowed to open a relay socket
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"type:varchar(64);uniqueIndex"`
	DisplayName  string    `json:"display_name" gorm:"type:varchar(128)"`
	AvatarURL    string    `json:"avatar_url"`
	Role         string    `json:"role" gorm:"type:varchar(16)"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

// Session binds an opaque token to a user until it expires
type Session struct {
	Token     string    `json:"token" gorm:"type:varchar(64);primaryKey"`
	UserID    int64     `json:"user_id" gorm:"index"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the table name
func (Session) TableName() string {
	return "sessions"
}

// Expired reports whether the session is no longer valid at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
