package models

import (
	"time"
)

type AuditAction int

const (
	AuditCancelled  AuditAction = -2
	AuditExpired    AuditAction = -1
	AuditCreated    AuditAction = 0
	AuditViewed     AuditAction = 1
	AuditSigned     AuditAction = 2
	AuditDispatched AuditAction = 3
)

// SignatureAuditLog is append-only. Rows are never updated or deleted.
type SignatureAuditLog struct {
	ID         uint        `gorm:"primaryKey"`
	DocumentID uint        `gorm:"index;not null"`
	UserID     *uint       `gorm:"index"`
	Action     AuditAction `gorm:"not null"`
	Details    string      `gorm:"size:1000"`
	IPAddress  string      `gorm:"size:45"`
	UserAgent  string      `gorm:"size:500"`
	Timestamp  time.Time   `gorm:"not null"`
}
