package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingMailer captures dispatched messages instead of sending them.
type recordingMailer struct {
	sent []recordedMail
	fail bool
}

type recordedMail struct {
	To          string
	Subject     string
	Body        string
	Attachments []string
}

func (m *recordingMailer) Send(to, subject, htmlBody string, attachments ...string) error {
	if m.fail {
		return errors.New("smtp unreachable")
	}
	m.sent = append(m.sent, recordedMail{To: to, Subject: subject, Body: htmlBody, Attachments: attachments})
	return nil
}

func TestInviteIssue(t *testing.T) {
	database := newTestDB(t)
	mailer := &recordingMailer{}
	svc := NewInviteService(database, newTestAudit(t, database), mailer,
		"test-secret", "https://parapheur.example.test", 3, zap.NewNop(), newTestMetrics())

	users := seedTestUsers(t, database, 3)
	doc, points := seedPendingDocument(t, database, users[0].ID, []models.User{users[1], users[2], users[1]})

	invitations, err := svc.Issue(context.Background(), doc, points, 5, testRequestInfo())
	require.NoError(t, err)
	require.Len(t, invitations, 2, "one invitation per distinct signer")

	assert.Equal(t, invitations[0].InvitationToken, invitations[1].InvitationToken,
		"token is shared across the document's invitees")
	assert.Len(t, invitations[0].InvitationToken, 64)
	assert.Len(t, invitations[0].OTPCode, 6)
	assert.True(t, invitations[0].EmailSent)
	assert.Equal(t, 1, invitations[0].ReminderCount)

	wantExpiry := time.Now().AddDate(0, 0, 5)
	assert.WithinDuration(t, wantExpiry, invitations[0].ExpiresAt, time.Minute)

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, users[1].Email, mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Subject, doc.DocumentName)
	assert.Contains(t, mailer.sent[0].Body, invitations[0].OTPCode)

	wantLink := "https://parapheur.example.test/signature/signer/"
	assert.True(t, strings.Contains(mailer.sent[0].Body, wantLink), "mail carries the deep link")
	assert.Contains(t, mailer.sent[0].Body, doc.FileHash)

	var auditCount int64
	database.Model(&models.SignatureAuditLog{}).
		Where("document_id = ? AND action = ?", doc.ID, models.AuditDispatched).
		Count(&auditCount)
	assert.EqualValues(t, 1, auditCount)
}

func TestInviteIssueSurvivesMailFailure(t *testing.T) {
	database := newTestDB(t)
	mailer := &recordingMailer{fail: true}
	svc := NewInviteService(database, newTestAudit(t, database), mailer,
		"test-secret", "https://parapheur.example.test", 3, zap.NewNop(), newTestMetrics())

	users := seedTestUsers(t, database, 2)
	doc, points := seedPendingDocument(t, database, users[0].ID, []models.User{users[1]})

	invitations, err := svc.Issue(context.Background(), doc, points, 3, testRequestInfo())
	require.NoError(t, err, "a failed dispatch never blocks issuing")
	require.Len(t, invitations, 1)
	assert.False(t, invitations[0].EmailSent)

	var stored models.SignatureInvitation
	require.NoError(t, database.First(&stored, "document_id = ?", doc.ID).Error)
	assert.False(t, stored.EmailSent)
	assert.Equal(t, 1, stored.ReminderCount, "attempt counted even when dispatch failed")
}

func TestInviteIssueDefaultsDeadline(t *testing.T) {
	database := newTestDB(t)
	svc := NewInviteService(database, newTestAudit(t, database), &recordingMailer{},
		"test-secret", "https://parapheur.example.test", 3, zap.NewNop(), newTestMetrics())

	users := seedTestUsers(t, database, 2)
	doc, points := seedPendingDocument(t, database, users[0].ID, []models.User{users[1]})

	invitations, err := svc.Issue(context.Background(), doc, points, 0, testRequestInfo())
	require.NoError(t, err)
	require.Len(t, invitations, 1)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 3), invitations[0].ExpiresAt, time.Minute)
}
