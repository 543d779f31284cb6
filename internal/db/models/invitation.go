package models

import (
	"time"
)

// SignatureInvitation links a document to one invited signer. The token is
// shared by every invitee of the same document; the (document, user) pair is
// what makes a lookup unique. A signer has at most one active invitation per
// document.
type SignatureInvitation struct {
	ID         uint `gorm:"primaryKey"`
	DocumentID uint `gorm:"index;not null;uniqueIndex:idx_invitation_doc_user"`
	UserID     uint `gorm:"index;not null;uniqueIndex:idx_invitation_doc_user"`

	InvitationToken string `gorm:"size:128;index;not null"`
	OTPCode         string `gorm:"size:12;not null"`

	SentAt     time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null"`
	AccessedAt *time.Time
	SignedAt   *time.Time

	EmailSent     bool `gorm:"not null;default:false"`
	ReminderCount int  `gorm:"not null;default:0"`

	User User `gorm:"foreignKey:UserID"`
}
