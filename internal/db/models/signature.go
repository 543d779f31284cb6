package models

import (
	"time"
)

// UnknownSignatureHash is recorded when the client did not attest a hash of
// the graphic input.
const UnknownSignatureHash = "unknown"

// DocumentSignature is one successful signing action. Multiple points signed
// by the same user in one submission share a single row. Immutable after
// creation except for status rollbacks on cancellation.
type DocumentSignature struct {
	ID            uint        `gorm:"primaryKey"`
	DocumentID    uint        `gorm:"index;not null"`
	UserID        uint        `gorm:"index;not null"`
	SignedAt      time.Time   `gorm:"not null"`
	SignatureHash string      `gorm:"size:128;not null"`
	IPAddress     string      `gorm:"size:45"`
	UserAgent     string      `gorm:"size:500"`
	Status        PointStatus `gorm:"not null;default:0"`

	SignatureSVG       string `gorm:"type:text"` // traced vector graphic
	SignatureData      string `gorm:"type:text"` // coordinate JSON, alternate capture
	SignatureWidth     int
	SignatureHeight    int
	SignatureTimestamp time.Time

	User User `gorm:"foreignKey:UserID"`
}
