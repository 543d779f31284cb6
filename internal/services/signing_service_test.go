package services

import (
	"context"
	"testing"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type signingFixture struct {
	db          *gorm.DB
	signing     *SigningService
	doc         *models.SignatureDocument
	invitations []models.SignatureInvitation
	signers     []models.User
}

// newSigningFixture builds a pending two-signer document with issued
// invitations.
func newSigningFixture(t *testing.T) *signingFixture {
	t.Helper()

	database := newTestDB(t)
	audit := newTestAudit(t, database)

	users := seedTestUsers(t, database, 3)
	doc, points := seedPendingDocument(t, database, users[0].ID, []models.User{users[1], users[2]})

	invite := NewInviteService(database, audit, &recordingMailer{},
		"test-secret", "https://parapheur.example.test", 3, zap.NewNop(), newTestMetrics())
	invitations, err := invite.Issue(context.Background(), doc, points, 3, testRequestInfo())
	require.NoError(t, err)
	require.Len(t, invitations, 2)

	return &signingFixture{
		db:          database,
		signing:     NewSigningService(database, audit, zap.NewNop(), newTestMetrics()),
		doc:         doc,
		invitations: invitations,
		signers:     []models.User{users[1], users[2]},
	}
}

func (f *signingFixture) submission(inv models.SignatureInvitation) Submission {
	return Submission{
		OTPCode:       inv.OTPCode,
		SignatureHash: "0011223344556677",
		UserAgent:     "test-agent/1.0",
		SignatureSVG:  `<svg xmlns="http://www.w3.org/2000/svg"><path d="M0 0 L10 10"/></svg>`,
		Width:         150,
		Height:        75,
		IPAddress:     "192.0.2.10",
	}
}

func TestSigningAuthorize(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()
	token := f.invitations[0].InvitationToken

	doc, inv, err := f.signing.Authorize(ctx, f.doc.ID, f.doc.FileHash, token, f.signers[0].ID, testRequestInfo())
	require.NoError(t, err)
	assert.Equal(t, f.doc.ID, doc.ID)
	require.NotNil(t, inv.AccessedAt, "first access recorded")
	firstAccess := *inv.AccessedAt

	// A second visit keeps the original access timestamp.
	_, inv, err = f.signing.Authorize(ctx, f.doc.ID, f.doc.FileHash, token, f.signers[0].ID, testRequestInfo())
	require.NoError(t, err)
	assert.True(t, inv.AccessedAt.Equal(firstAccess))

	var auditCount int64
	f.db.Model(&models.SignatureAuditLog{}).
		Where("document_id = ? AND action = ?", f.doc.ID, models.AuditViewed).
		Count(&auditCount)
	assert.EqualValues(t, 1, auditCount)
}

func TestSigningAuthorizeRejections(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()
	token := f.invitations[0].InvitationToken

	tests := []struct {
		name     string
		docID    uint
		hash     string
		token    string
		signerID uint
	}{
		{"unknown document", f.doc.ID + 99, f.doc.FileHash, token, f.signers[0].ID},
		{"stale hash", f.doc.ID, "deadbeef", token, f.signers[0].ID},
		{"wrong token", f.doc.ID, f.doc.FileHash, "forged-token", f.signers[0].ID},
		{"uninvited user", f.doc.ID, f.doc.FileHash, token, f.doc.CreatedBy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.signing.Authorize(ctx, tt.docID, tt.hash, tt.token, tt.signerID, testRequestInfo())
			assert.ErrorIs(t, err, ErrInvalidInvitation, "every rejection looks the same")
		})
	}
}

func TestSigningApplyEndToEnd(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	// First signer: document must stay pending.
	sig1, err := f.signing.Apply(ctx, f.doc.ID, f.signers[0].ID, f.submission(f.invitations[0]))
	require.NoError(t, err)
	assert.Equal(t, models.PointSigned, sig1.Status)

	var doc models.SignatureDocument
	require.NoError(t, f.db.First(&doc, f.doc.ID).Error)
	assert.Equal(t, models.DocumentPending, doc.Status, "one pending point remains")
	assert.Nil(t, doc.CompletedAt)

	var point models.SignaturePoint
	require.NoError(t, f.db.First(&point, "document_id = ? AND user_id = ?", f.doc.ID, f.signers[0].ID).Error)
	assert.Equal(t, models.PointSigned, point.Status)
	require.NotNil(t, point.SignatureID)
	assert.Equal(t, sig1.ID, *point.SignatureID)
	assert.NotNil(t, point.SignedAt)

	// Last signer completes the document.
	_, err = f.signing.Apply(ctx, f.doc.ID, f.signers[1].ID, f.submission(f.invitations[1]))
	require.NoError(t, err)

	require.NoError(t, f.db.First(&doc, f.doc.ID).Error)
	assert.Equal(t, models.DocumentCompleted, doc.Status)
	require.NotNil(t, doc.CompletedAt)

	var inv models.SignatureInvitation
	require.NoError(t, f.db.First(&inv, "document_id = ? AND user_id = ?", f.doc.ID, f.signers[1].ID).Error)
	assert.NotNil(t, inv.SignedAt)
}

func TestSigningApplyWrongOTP(t *testing.T) {
	f := newSigningFixture(t)

	sub := f.submission(f.invitations[0])
	sub.OTPCode = "000000"
	if f.invitations[0].OTPCode == "000000" {
		sub.OTPCode = "999999"
	}

	_, err := f.signing.Apply(context.Background(), f.doc.ID, f.signers[0].ID, sub)
	require.ErrorIs(t, err, ErrInvalidInvitation)

	var sigCount int64
	f.db.Model(&models.DocumentSignature{}).Where("document_id = ?", f.doc.ID).Count(&sigCount)
	assert.Zero(t, sigCount, "nothing persisted on a refused submission")
}

func TestSigningApplyAlreadyCompleted(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	_, err := f.signing.Apply(ctx, f.doc.ID, f.signers[0].ID, f.submission(f.invitations[0]))
	require.NoError(t, err)
	_, err = f.signing.Apply(ctx, f.doc.ID, f.signers[1].ID, f.submission(f.invitations[1]))
	require.NoError(t, err)

	_, err = f.signing.Apply(ctx, f.doc.ID, f.signers[0].ID, f.submission(f.invitations[0]))
	require.ErrorIs(t, err, ErrAlreadySigned)
}

func TestSigningApplyNoPendingPoints(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	_, err := f.signing.Apply(ctx, f.doc.ID, f.signers[0].ID, f.submission(f.invitations[0]))
	require.NoError(t, err)

	// Same signer again: their points are no longer pending, but the
	// document is not yet complete.
	_, err = f.signing.Apply(ctx, f.doc.ID, f.signers[0].ID, f.submission(f.invitations[0]))
	require.ErrorIs(t, err, ErrInvalidInvitation)
}

func TestSigningApplyExpiredInvitation(t *testing.T) {
	f := newSigningFixture(t)

	require.NoError(t, f.db.Model(&models.SignatureInvitation{}).
		Where("document_id = ? AND user_id = ?", f.doc.ID, f.signers[0].ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	_, err := f.signing.Apply(context.Background(), f.doc.ID, f.signers[0].ID, f.submission(f.invitations[0]))
	require.ErrorIs(t, err, ErrInvitationExpired)
}

func TestSigningApplyDefaultsSignatureHash(t *testing.T) {
	f := newSigningFixture(t)

	sub := f.submission(f.invitations[0])
	sub.SignatureHash = ""

	sig, err := f.signing.Apply(context.Background(), f.doc.ID, f.signers[0].ID, sub)
	require.NoError(t, err)
	assert.Equal(t, models.UnknownSignatureHash, sig.SignatureHash)
}
