package models

import (
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleTeacher   UserRole = "teacher"
	RoleAssistant UserRole = "assistant"
	RoleAdmin     UserRole = "admin"
)

// User mirrors the Casdoor identity; scanlink is not the owner of user data
// and only caches what it needs to scope rosters and authorize requests.
type User struct {
	ID       string   `json:"id" gorm:"primaryKey;size:255"`
	FullName string   `json:"full_name" gorm:"not null;size:100"`
	Email    string   `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Role     UserRole `json:"role" gorm:"-"`

	AvatarURL *string `json:"avatar_url" gorm:"size:500"`

	EmailVerified bool `json:"email_verified" gorm:"default:false"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}
