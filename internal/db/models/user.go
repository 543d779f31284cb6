package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// Habilitation levels gate access to application sections.
const (
	HabilitationDirection    = 1
	HabilitationGestion      = 2
	HabilitationConsultation = 3
)

type User struct {
	gorm.Model
	Login          string   `gorm:"unique;not null"`
	Email          string   `gorm:"unique;not null"`
	PasswordHash   string   `gorm:"not null"` // Bcrypt hash of password
	Role           UserRole `gorm:"not null;default:'USER'"`
	FirstName      string
	LastName       string
	Habilitation   int  `gorm:"not null;default:0"`
	ActiveStatus   bool `gorm:"not null;default:true"`
	LastLogin      time.Time
	FailedAttempts int `gorm:"not null;default:0"`
	LockoutUntil   time.Time
}

// DisplayName is the form used on overlays, certificates and emails.
func (u *User) DisplayName() string {
	return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
}
