package services

import (
	"context"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditService appends to the signature audit trail. Entries are never
// updated or deleted; a failed insert is logged and swallowed so an audit
// problem can never abort the operation being audited.
type AuditService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAuditService(db *gorm.DB, logger *zap.Logger) *AuditService {
	return &AuditService{
		db:     db,
		logger: logger.With(zap.String("service", "audit_service")),
	}
}

// RequestInfo carries the technical context of the acting request.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

func (as *AuditService) Record(ctx context.Context, documentID uint, userID *uint, action models.AuditAction, details string, req RequestInfo) {
	as.record(as.db, documentID, userID, action, details, req)
}

// RecordTx writes the entry inside an existing transaction so the audit row
// commits or rolls back with the operation it describes.
func (as *AuditService) RecordTx(tx *gorm.DB, documentID uint, userID *uint, action models.AuditAction, details string, req RequestInfo) {
	as.record(tx, documentID, userID, action, details, req)
}

func (as *AuditService) record(db *gorm.DB, documentID uint, userID *uint, action models.AuditAction, details string, req RequestInfo) {
	entry := models.SignatureAuditLog{
		DocumentID: documentID,
		UserID:     userID,
		Action:     action,
		Details:    details,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		Timestamp:  time.Now(),
	}
	if err := db.Create(&entry).Error; err != nil {
		as.logger.Error("failed to write audit entry",
			zap.Uint("document_id", documentID),
			zap.Int("action", int(action)),
			zap.Error(err))
	}
}

// ListForDocument returns the trail oldest first.
func (as *AuditService) ListForDocument(ctx context.Context, documentID uint) ([]models.SignatureAuditLog, error) {
	var entries []models.SignatureAuditLog
	if err := as.db.Where("document_id = ?", documentID).
		Order("timestamp ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
