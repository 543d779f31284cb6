package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/mail"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const inviteMailTemplate = `<html><body>
<p>Bonjour %s,</p>
<p>Vous êtes invité(e) à signer le document <strong>%s</strong>.</p>
<p><a href="%s">Accéder au document et signer</a></p>
<p>Votre code de signature à usage unique : <strong>%s</strong></p>
<p>Cette invitation expire le %s.</p>
</body></html>`

// InviteService issues per-signer invitations for a committed document and
// dispatches the notification emails.
type InviteService struct {
	db      *gorm.DB
	audit   *AuditService
	mailer  mail.Mailer
	secret  []byte
	baseURL string

	defaultDeadlineDays int

	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewInviteService(db *gorm.DB, audit *AuditService, mailer mail.Mailer, serverSecret, baseURL string, defaultDeadlineDays int, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *InviteService {
	return &InviteService{
		db:                  db,
		audit:               audit,
		mailer:              mailer,
		secret:              []byte(serverSecret),
		baseURL:             baseURL,
		defaultDeadlineDays: defaultDeadlineDays,
		logger:              logger.With(zap.String("service", "invite_service")),
		metrics:             metricsCollector,
	}
}

// Issue creates one invitation per distinct signer referenced by the
// document's points and emails each a deep link plus a one-time code. The
// token is shared by every invitee of the document; the (document, user)
// pair is what binds an invitation to its signer. A failed dispatch never
// blocks issuing the rest.
func (iv *InviteService) Issue(ctx context.Context, doc *models.SignatureDocument, points []models.SignaturePoint, deadlineDays int, req RequestInfo) ([]models.SignatureInvitation, error) {
	if deadlineDays < 1 {
		deadlineDays = iv.defaultDeadlineDays
	}

	now := time.Now()
	token := iv.invitationToken(doc.ID, doc.FileHash, now)
	expiresAt := now.AddDate(0, 0, deadlineDays)

	seen := make(map[uint]bool)
	var signerIDs []uint
	for _, p := range points {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			signerIDs = append(signerIDs, p.UserID)
		}
	}

	link := fmt.Sprintf("%s/signature/signer/%d/%s?token=%s", iv.baseURL, doc.ID, doc.FileHash, token)

	var invitations []models.SignatureInvitation
	for _, signerID := range signerIDs {
		var signer models.User
		if err := iv.db.WithContext(ctx).First(&signer, signerID).Error; err != nil {
			iv.logger.Error("invitation skipped: signer not found",
				zap.Uint("document_id", doc.ID),
				zap.Uint("user_id", signerID),
				zap.Error(err))
			continue
		}

		otp, err := generateOTP()
		if err != nil {
			return invitations, fmt.Errorf("failed to generate one-time code: %w", err)
		}

		invitation := models.SignatureInvitation{
			DocumentID:      doc.ID,
			UserID:          signerID,
			InvitationToken: token,
			OTPCode:         otp,
			SentAt:          now,
			ExpiresAt:       expiresAt,
		}
		if err := iv.db.WithContext(ctx).Create(&invitation).Error; err != nil {
			return invitations, fmt.Errorf("failed to create invitation: %w", err)
		}

		body := fmt.Sprintf(inviteMailTemplate,
			signer.DisplayName(), doc.DocumentName, link, otp, expiresAt.Format("02/01/2006 15:04"))

		sendErr := iv.mailer.Send(signer.Email, fmt.Sprintf("Signature requise : %s", doc.DocumentName), body)
		updates := map[string]interface{}{"reminder_count": gorm.Expr("reminder_count + 1")}
		if sendErr != nil {
			iv.logger.Error("invitation email dispatch failed",
				zap.Uint("document_id", doc.ID),
				zap.Uint("user_id", signerID),
				zap.Error(sendErr))
		} else {
			updates["email_sent"] = true
			invitation.EmailSent = true
		}
		if err := iv.db.WithContext(ctx).Model(&invitation).Updates(updates).Error; err != nil {
			iv.logger.Error("failed to record dispatch state", zap.Error(err))
		}
		invitation.ReminderCount++

		invitations = append(invitations, invitation)
		iv.metrics.IncrementCounter("invitations_issued", nil)
	}

	creator := doc.CreatedBy
	iv.audit.Record(ctx, doc.ID, &creator, models.AuditDispatched,
		fmt.Sprintf("%d invitations issued, expiry %s", len(invitations), expiresAt.Format(time.RFC3339)), req)

	iv.logger.Info("Invitations issued",
		zap.Uint("document_id", doc.ID),
		zap.Int("count", len(invitations)),
		zap.Time("expires_at", expiresAt))

	return invitations, nil
}

// invitationToken is HMAC-SHA-256 over document id, document hash and the
// issuance timestamp, keyed by the server secret.
func (iv *InviteService) invitationToken(docID uint, docHash string, issuedAt time.Time) string {
	mac := hmac.New(sha256.New, iv.secret)
	fmt.Fprintf(mac, "%d%s%d", docID, docHash, issuedAt.UnixNano())
	return hex.EncodeToString(mac.Sum(nil))
}

// generateOTP returns a 6-digit one-time code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
