package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrDocumentNotFound = errors.New("document not found or permission denied")

// DocumentService covers the read and administrative paths around signable
// documents: listings, cancellation, and the lazy expiry sweep that read
// paths trigger when a deadline has passed.
type DocumentService struct {
	db      *gorm.DB
	audit   *AuditService
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

type DocSummary struct {
	ID           uint
	Name         string
	Type         string
	Priority     models.Priority
	CreatedAt    time.Time
	Deadline     time.Time
	Status       models.DocumentStatus
	PointsTotal  int
	PointsSigned int
}

func NewDocumentService(db *gorm.DB, audit *AuditService, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *DocumentService {
	return &DocumentService{
		db:      db,
		audit:   audit,
		logger:  logger.With(zap.String("service", "document_service")),
		metrics: metricsCollector,
	}
}

func (ds *DocumentService) GetDocument(ctx context.Context, docID uint) (*models.SignatureDocument, error) {
	var doc models.SignatureDocument
	if err := ds.db.WithContext(ctx).First(&doc, "id = ?", docID).Error; err != nil {
		return nil, err
	}
	ds.expireIfOverdue(ctx, &doc)
	return &doc, nil
}

// ListForUser returns documents the user created or is invited to sign,
// newest first.
func (ds *DocumentService) ListForUser(ctx context.Context, userID uint) ([]DocSummary, error) {
	var docs []models.SignatureDocument
	if err := ds.db.WithContext(ctx).
		Where("created_by = ? OR id IN (?)", userID,
			ds.db.Model(&models.SignatureInvitation{}).Select("document_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&docs).Error; err != nil {
		return nil, err
	}

	summaries := make([]DocSummary, 0, len(docs))
	for i := range docs {
		ds.expireIfOverdue(ctx, &docs[i])

		var total, signed int64
		ds.db.Model(&models.SignaturePoint{}).Where("document_id = ?", docs[i].ID).Count(&total)
		ds.db.Model(&models.SignaturePoint{}).Where("document_id = ? AND status = ?", docs[i].ID, models.PointSigned).Count(&signed)

		summaries = append(summaries, DocSummary{
			ID:           docs[i].ID,
			Name:         docs[i].DocumentName,
			Type:         docs[i].DocumentType,
			Priority:     docs[i].Priority,
			CreatedAt:    docs[i].CreatedAt,
			Deadline:     docs[i].SigningDeadline,
			Status:       docs[i].Status,
			PointsTotal:  int(total),
			PointsSigned: int(signed),
		})
	}
	return summaries, nil
}

func (ds *DocumentService) CountDocuments(ctx context.Context, userID uint) (int, error) {
	var count int64
	if err := ds.db.WithContext(ctx).Model(&models.SignatureDocument{}).
		Where("created_by = ?", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CancelDocument is the administrative pending -> cancelled transition. It
// cascades to pending points and live signatures.
func (ds *DocumentService) CancelDocument(ctx context.Context, docID, userID uint, req RequestInfo) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.SignatureDocument
		if err := tx.First(&doc, "id = ? AND created_by = ?", docID, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDocumentNotFound
			}
			return err
		}
		if doc.Status != models.DocumentPending {
			return fmt.Errorf("document is not pending (status %d)", doc.Status)
		}

		if err := tx.Model(&doc).Update("status", models.DocumentCancelled).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.SignaturePoint{}).
			Where("document_id = ? AND status = ?", docID, models.PointPending).
			Update("status", models.PointCancelled).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.DocumentSignature{}).
			Where("document_id = ?", docID).
			Update("status", models.PointCancelled).Error; err != nil {
			return err
		}

		ds.audit.RecordTx(tx, docID, &userID, models.AuditCancelled, "document cancelled by creator", req)
		ds.logger.Info("Document cancelled", zap.Uint("document_id", docID), zap.Uint("user_id", userID))
		return nil
	})
}

// expireIfOverdue flips a pending document past its deadline to expired.
// There is no background scheduler; expiry is noticed lazily on read paths.
func (ds *DocumentService) expireIfOverdue(ctx context.Context, doc *models.SignatureDocument) {
	if doc.Status != models.DocumentPending || time.Now().Before(doc.SigningDeadline) {
		return
	}

	err := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(doc).Update("status", models.DocumentExpired).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.SignaturePoint{}).
			Where("document_id = ? AND status = ?", doc.ID, models.PointPending).
			Update("status", models.PointExpired).Error; err != nil {
			return err
		}
		ds.audit.RecordTx(tx, doc.ID, nil, models.AuditExpired, "signing deadline passed", RequestInfo{})
		return nil
	})
	if err != nil {
		ds.logger.Error("failed to expire overdue document", zap.Uint("document_id", doc.ID), zap.Error(err))
		return
	}

	doc.Status = models.DocumentExpired
	ds.metrics.IncrementCounter("documents_expired", nil)
	ds.logger.Info("Document expired", zap.Uint("document_id", doc.ID))
}
