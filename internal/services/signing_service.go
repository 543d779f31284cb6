package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidInvitation is the single generic authorization failure. It
	// deliberately does not distinguish a missing document, a stale hash, a
	// wrong token or a wrong one-time code.
	ErrInvalidInvitation = errors.New("invalid invitation")
	ErrAlreadySigned     = errors.New("document already signed")
	ErrInvitationExpired = errors.New("invitation expired")
)

// Submission carries everything a signer posts in one signing action.
type Submission struct {
	OTPCode       string
	SignatureHash string
	UserAgent     string
	SignatureSVG  string
	SignatureData string
	Width         int
	Height        int
	IPAddress     string
}

// SigningService validates an incoming signature submission and records it
// atomically.
type SigningService struct {
	db      *gorm.DB
	audit   *AuditService
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewSigningService(db *gorm.DB, audit *AuditService, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *SigningService {
	return &SigningService{
		db:      db,
		audit:   audit,
		logger:  logger.With(zap.String("service", "signing_service")),
		metrics: metricsCollector,
	}
}

// Authorize resolves a deep link for a signer. The document hash embedded in
// the link must match exactly, which doubles as a staleness check: a
// superseded document no longer resolves. First successful access is
// recorded on the invitation.
func (ss *SigningService) Authorize(ctx context.Context, docID uint, docHash, token string, signerID uint, req RequestInfo) (*models.SignatureDocument, *models.SignatureInvitation, error) {
	var doc models.SignatureDocument
	if err := ss.db.WithContext(ctx).First(&doc, "id = ?", docID).Error; err != nil {
		return nil, nil, ErrInvalidInvitation
	}
	if subtle.ConstantTimeCompare([]byte(doc.FileHash), []byte(docHash)) != 1 {
		return nil, nil, ErrInvalidInvitation
	}

	var invitation models.SignatureInvitation
	if err := ss.db.WithContext(ctx).
		First(&invitation, "document_id = ? AND user_id = ?", docID, signerID).Error; err != nil {
		return nil, nil, ErrInvalidInvitation
	}
	if subtle.ConstantTimeCompare([]byte(invitation.InvitationToken), []byte(token)) != 1 {
		return nil, nil, ErrInvalidInvitation
	}

	if invitation.AccessedAt == nil {
		now := time.Now()
		if err := ss.db.WithContext(ctx).Model(&invitation).Update("accessed_at", now).Error; err != nil {
			ss.logger.Error("failed to record first access", zap.Error(err))
		} else {
			invitation.AccessedAt = &now
		}
		ss.audit.Record(ctx, docID, &signerID, models.AuditViewed, "invitation link opened", req)
	}

	return &doc, &invitation, nil
}

// Apply is the atomic signing transition. All writes commit together: a
// half-applied submission (document flipped but points unlinked, or the
// reverse) can never be observed. The document completes only when its last
// pending point is signed.
func (ss *SigningService) Apply(ctx context.Context, docID, signerID uint, sub Submission) (*models.DocumentSignature, error) {
	start := time.Now()
	var signature *models.DocumentSignature
	var completed bool

	err := ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.SignatureDocument
		if err := tx.First(&doc, "id = ?", docID).Error; err != nil {
			return ErrInvalidInvitation
		}

		if doc.Status == models.DocumentCompleted {
			return ErrAlreadySigned
		}

		var invitation models.SignatureInvitation
		if err := tx.First(&invitation, "document_id = ? AND user_id = ?", docID, signerID).Error; err != nil {
			return ErrInvalidInvitation
		}
		if time.Now().After(invitation.ExpiresAt) {
			return ErrInvitationExpired
		}

		var points []models.SignaturePoint
		if err := tx.Where("document_id = ? AND user_id = ? AND status = ?",
			docID, signerID, models.PointPending).Find(&points).Error; err != nil {
			return err
		}
		if len(points) == 0 {
			return ErrInvalidInvitation
		}
		if subtle.ConstantTimeCompare([]byte(invitation.OTPCode), []byte(sub.OTPCode)) != 1 {
			return ErrInvalidInvitation
		}

		now := time.Now()
		sigHash := sub.SignatureHash
		if sigHash == "" {
			sigHash = models.UnknownSignatureHash
		}

		signature = &models.DocumentSignature{
			DocumentID:         docID,
			UserID:             signerID,
			SignedAt:           now,
			SignatureHash:      sigHash,
			IPAddress:          sub.IPAddress,
			UserAgent:          sub.UserAgent,
			Status:             models.PointSigned,
			SignatureSVG:       sub.SignatureSVG,
			SignatureData:      sub.SignatureData,
			SignatureWidth:     sub.Width,
			SignatureHeight:    sub.Height,
			SignatureTimestamp: now,
		}
		if err := tx.Create(signature).Error; err != nil {
			return err
		}

		for i := range points {
			if err := tx.Model(&points[i]).Updates(map[string]interface{}{
				"status":       models.PointSigned,
				"signed_at":    now,
				"signature_id": signature.ID,
			}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&invitation).Update("signed_at", now).Error; err != nil {
			return err
		}

		var pending int64
		if err := tx.Model(&models.SignaturePoint{}).
			Where("document_id = ? AND status = ?", docID, models.PointPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending == 0 {
			if err := tx.Model(&doc).Updates(map[string]interface{}{
				"status":       models.DocumentCompleted,
				"completed_at": now,
			}).Error; err != nil {
				return err
			}
			completed = true
		}

		ss.audit.RecordTx(tx, docID, &signerID, models.AuditSigned,
			"signature applied", RequestInfo{IPAddress: sub.IPAddress, UserAgent: sub.UserAgent})
		return nil
	})
	if err != nil {
		return nil, err
	}

	ss.metrics.IncrementCounter("signatures_applied", nil)
	ss.metrics.ObserveLatency("signature_apply", time.Since(start))
	if completed {
		ss.metrics.IncrementCounter("documents_fully_signed", nil)
	}
	ss.logger.Info("Signature applied",
		zap.Uint("document_id", docID),
		zap.Uint("user_id", signerID),
		zap.Bool("document_completed", completed))

	return signature, nil
}
