package models

import (
	"time"
)

type DocumentStatus int

const (
	DocumentCancelled DocumentStatus = -2
	DocumentExpired   DocumentStatus = -1
	DocumentPending   DocumentStatus = 0
	DocumentCompleted DocumentStatus = 1
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// ParsePriority maps the form value to the ordered enum, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low", "basse":
		return PriorityLow
	case "high", "haute":
		return PriorityHigh
	case "urgent", "urgente":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// SignatureDocument is one signable unit. FilePath and FileHash are set by
// intake once the staged file has been moved to final storage; outside that
// window they are never empty for a live row.
type SignatureDocument struct {
	ID                  uint     `gorm:"primaryKey"`
	DocumentName        string   `gorm:"size:255;not null"`
	DocumentType        string   `gorm:"size:50;not null"`
	DocumentSubtype     string   `gorm:"size:100"`
	Priority            Priority `gorm:"not null;default:1"`
	SigningDeadlineDays int      `gorm:"not null"` // 1-15, validated at creation
	ValidityDays        int      `gorm:"not null"`
	Description         string   `gorm:"size:1000"`
	FilePath            string   `gorm:"size:500"`
	FileHash            string   `gorm:"size:64"` // hex SHA-256
	CreatedBy           uint     `gorm:"index"`
	CreatedAt           time.Time
	Status              DocumentStatus `gorm:"not null;default:0"`
	SigningDeadline     time.Time      `gorm:"not null"`
	CompletedAt         *time.Time

	SignaturePoints []SignaturePoint    `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	Signatures      []DocumentSignature `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}
