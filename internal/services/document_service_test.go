package services

import (
	"context"
	"testing"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDocumentListForUser(t *testing.T) {
	database := newTestDB(t)
	svc := NewDocumentService(database, newTestAudit(t, database), zap.NewNop(), newTestMetrics())
	users := seedTestUsers(t, database, 3)

	// users[0] creates, users[1] is invited, users[2] is unrelated.
	doc, _ := seedPendingDocument(t, database, users[0].ID, []models.User{users[1]})
	invitation := models.SignatureInvitation{
		DocumentID:      doc.ID,
		UserID:          users[1].ID,
		InvitationToken: "token",
		OTPCode:         "123456",
		SentAt:          time.Now(),
		ExpiresAt:       time.Now().AddDate(0, 0, 3),
	}
	require.NoError(t, database.Create(&invitation).Error)

	creatorDocs, err := svc.ListForUser(context.Background(), users[0].ID)
	require.NoError(t, err)
	require.Len(t, creatorDocs, 1)
	assert.Equal(t, doc.ID, creatorDocs[0].ID)
	assert.Equal(t, 1, creatorDocs[0].PointsTotal)
	assert.Equal(t, 0, creatorDocs[0].PointsSigned)

	invitedDocs, err := svc.ListForUser(context.Background(), users[1].ID)
	require.NoError(t, err)
	assert.Len(t, invitedDocs, 1)

	otherDocs, err := svc.ListForUser(context.Background(), users[2].ID)
	require.NoError(t, err)
	assert.Empty(t, otherDocs)
}

func TestDocumentLazyExpiry(t *testing.T) {
	database := newTestDB(t)
	svc := NewDocumentService(database, newTestAudit(t, database), zap.NewNop(), newTestMetrics())
	users := seedTestUsers(t, database, 2)

	doc, _ := seedPendingDocument(t, database, users[0].ID, []models.User{users[1]})
	require.NoError(t, database.Model(doc).
		Update("signing_deadline", time.Now().Add(-time.Hour)).Error)

	got, err := svc.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentExpired, got.Status, "overdue pending document flips on read")

	var point models.SignaturePoint
	require.NoError(t, database.First(&point, "document_id = ?", doc.ID).Error)
	assert.Equal(t, models.PointExpired, point.Status)

	var auditCount int64
	database.Model(&models.SignatureAuditLog{}).
		Where("document_id = ? AND action = ?", doc.ID, models.AuditExpired).
		Count(&auditCount)
	assert.EqualValues(t, 1, auditCount)
}

func TestDocumentCancel(t *testing.T) {
	database := newTestDB(t)
	svc := NewDocumentService(database, newTestAudit(t, database), zap.NewNop(), newTestMetrics())
	users := seedTestUsers(t, database, 2)

	doc, _ := seedPendingDocument(t, database, users[0].ID, []models.User{users[1]})

	// Only the creator may cancel.
	err := svc.CancelDocument(context.Background(), doc.ID, users[1].ID, testRequestInfo())
	require.ErrorIs(t, err, ErrDocumentNotFound)

	require.NoError(t, svc.CancelDocument(context.Background(), doc.ID, users[0].ID, testRequestInfo()))

	var stored models.SignatureDocument
	require.NoError(t, database.First(&stored, doc.ID).Error)
	assert.Equal(t, models.DocumentCancelled, stored.Status)

	var point models.SignaturePoint
	require.NoError(t, database.First(&point, "document_id = ?", doc.ID).Error)
	assert.Equal(t, models.PointCancelled, point.Status)

	// Cancelling twice fails: the document is no longer pending.
	err = svc.CancelDocument(context.Background(), doc.ID, users[0].ID, testRequestInfo())
	require.Error(t, err)
}
