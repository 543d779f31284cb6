package models

import (
	"time"
)

type PointStatus int

const (
	PointCancelled PointStatus = -2
	PointExpired   PointStatus = -1
	PointPending   PointStatus = 0
	PointSigned    PointStatus = 1
)

// SignaturePoint is a page-relative location on a document assigned to one
// signer. SignatureID and SignedAt are set together when the point is signed.
type SignaturePoint struct {
	ID          uint        `gorm:"primaryKey"`
	DocumentID  uint        `gorm:"index;not null"`
	PageNum     int         `gorm:"not null"` // 1-indexed
	X           float64     `gorm:"not null"`
	Y           float64     `gorm:"not null"`
	UserID      uint        `gorm:"index;not null"`
	Status      PointStatus `gorm:"not null;default:0"`
	SignatureID *uint       `gorm:"index"`
	SignedAt    *time.Time

	User      User               `gorm:"foreignKey:UserID"`
	Signature *DocumentSignature `gorm:"foreignKey:SignatureID"`
}
