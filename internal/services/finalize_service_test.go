package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/render"
	"github.com/remiv1/parapheur/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeRenderer stands in for the PDF overlay stage.
type fakeRenderer struct {
	fail  bool
	calls int
}

func (r *fakeRenderer) Overlay(inPath, outPath string, marks []render.Mark) error {
	r.calls++
	if r.fail {
		return errors.New("overlay failed")
	}
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, append(data, []byte("\n% overlay marks")...), 0o644)
}

type finalizeFixture struct {
	db       *gorm.DB
	svc      *FinalizeService
	certSvc  *CertificateService
	renderer *fakeRenderer
	mailer   *recordingMailer
	doc      *models.SignatureDocument
	creator  models.User
	signers  []models.User
}

// newFinalizeFixture builds a fully signed document with its file on disk.
func newFinalizeFixture(t *testing.T) *finalizeFixture {
	t.Helper()

	database := newTestDB(t)
	audit := newTestAudit(t, database)
	users := seedTestUsers(t, database, 3)

	storageDir := t.TempDir()
	filePath := filepath.Join(storageDir, "contrat_1.pdf")
	require.NoError(t, os.WriteFile(filePath, []byte("%PDF-1.4 original body"), 0o644))
	fileHash, err := utils.FileSHA256(filePath)
	require.NoError(t, err)

	now := time.Now()
	doc := &models.SignatureDocument{
		DocumentName:        "contrat",
		DocumentType:        "contrat",
		Priority:            models.PriorityNormal,
		SigningDeadlineDays: 3,
		ValidityDays:        3660,
		FilePath:            filePath,
		FileHash:            fileHash,
		CreatedBy:           users[0].ID,
		CreatedAt:           now,
		Status:              models.DocumentCompleted,
		SigningDeadline:     now.AddDate(0, 0, 3),
		CompletedAt:         &now,
	}
	require.NoError(t, database.Create(doc).Error)

	for i, signer := range users[1:] {
		sig := models.DocumentSignature{
			DocumentID:         doc.ID,
			UserID:             signer.ID,
			SignedAt:           now,
			SignatureHash:      "0011223344556677",
			IPAddress:          "192.0.2.10",
			UserAgent:          "test-agent/1.0",
			Status:             models.PointSigned,
			SignatureSVG:       `<svg xmlns="http://www.w3.org/2000/svg"><path d="M0 0 L10 10"/></svg>`,
			SignatureWidth:     150,
			SignatureHeight:    75,
			SignatureTimestamp: now,
		}
		require.NoError(t, database.Create(&sig).Error)

		point := models.SignaturePoint{
			DocumentID:  doc.ID,
			PageNum:     1,
			X:           float64(100 + 100*i),
			Y:           200,
			UserID:      signer.ID,
			Status:      models.PointSigned,
			SignatureID: &sig.ID,
			SignedAt:    &now,
		}
		require.NoError(t, database.Create(&point).Error)

		invitation := models.SignatureInvitation{
			DocumentID:      doc.ID,
			UserID:          signer.ID,
			InvitationToken: "token",
			OTPCode:         "123456",
			SentAt:          now,
			ExpiresAt:       now.AddDate(0, 0, 3),
		}
		require.NoError(t, database.Create(&invitation).Error)
	}

	renderer := &fakeRenderer{}
	mailer := &recordingMailer{}
	certSvc := NewCertificateService(zap.NewNop())
	svc := NewFinalizeService(database, audit, certSvc, renderer, mailer, zap.NewNop(), newTestMetrics())

	return &finalizeFixture{
		db:       database,
		svc:      svc,
		certSvc:  certSvc,
		renderer: renderer,
		mailer:   mailer,
		doc:      doc,
		creator:  users[0],
		signers:  users[1:],
	}
}

func TestFinalizePipeline(t *testing.T) {
	f := newFinalizeFixture(t)
	ctx := context.Background()

	result, err := f.svc.Finalize(ctx, f.doc.ID, f.doc.FileHash, f.creator.ID, testRequestInfo())
	require.NoError(t, err)
	require.NotNil(t, result.Certificate)
	assert.False(t, result.RenderFallback)
	assert.False(t, result.AlreadyFinalized)

	// The signed file replaced the original in place; the original survives
	// under its backup name.
	dir := filepath.Dir(f.doc.FilePath)
	assert.FileExists(t, f.doc.FilePath)
	assert.FileExists(t, filepath.Join(dir, "original_contrat_1.pdf"))

	swapped, err := os.ReadFile(f.doc.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(swapped), "% overlay marks")

	onDisk, err := utils.FileSHA256(f.doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, result.SignedFileHash, onDisk)

	var stored models.SignatureDocument
	require.NoError(t, f.db.First(&stored, f.doc.ID).Error)
	assert.Equal(t, models.DocumentCompleted, stored.Status)
	assert.Equal(t, result.SignedFileHash, stored.FileHash, "stored hash follows the signed artifact")

	// Sidecars: full bundle plus the compact summary, and the bundle still
	// verifies when read back from disk.
	assert.FileExists(t, result.CertificatePath)
	assert.FileExists(t, result.VerificationPath)

	raw, err := os.ReadFile(result.CertificatePath)
	require.NoError(t, err)
	var cert SecureCertificate
	require.NoError(t, json.Unmarshal(raw, &cert))
	assert.True(t, f.certSvc.Verify(&cert))
	assert.Equal(t, result.SignedFileHash, cert.Certificate.DocumentHash)
	assert.Len(t, cert.Certificate.Signatories, 2)

	// Distribution goes to the creator and every signer.
	assert.Len(t, f.mailer.sent, 3)
	for _, m := range f.mailer.sent {
		require.Len(t, m.Attachments, 1)
		assert.Equal(t, f.doc.FilePath, m.Attachments[0])
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	f := newFinalizeFixture(t)
	ctx := context.Background()

	first, err := f.svc.Finalize(ctx, f.doc.ID, f.doc.FileHash, f.creator.ID, testRequestInfo())
	require.NoError(t, err)

	second, err := f.svc.Finalize(ctx, f.doc.ID, first.Document.FileHash, f.creator.ID, testRequestInfo())
	require.NoError(t, err)
	assert.True(t, second.AlreadyFinalized)
	assert.Equal(t, 1, f.renderer.calls, "overlay not rendered twice")
	assert.Len(t, f.mailer.sent, 3, "distribution not repeated")
}

func TestFinalizeRenderFallback(t *testing.T) {
	f := newFinalizeFixture(t)
	f.renderer.fail = true

	result, err := f.svc.Finalize(context.Background(), f.doc.ID, f.doc.FileHash, f.creator.ID, testRequestInfo())
	require.NoError(t, err)
	assert.True(t, result.RenderFallback)

	swapped, err := os.ReadFile(f.doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 original body", string(swapped), "original certified unmodified")
	assert.True(t, f.certSvc.Verify(result.Certificate))
}

func TestFinalizeFileModified(t *testing.T) {
	f := newFinalizeFixture(t)

	require.NoError(t, os.WriteFile(f.doc.FilePath, []byte("tampered"), 0o644))

	_, err := f.svc.Finalize(context.Background(), f.doc.ID, f.doc.FileHash, f.creator.ID, testRequestInfo())
	require.ErrorIs(t, err, ErrFileModified)
}

func TestFinalizeSignaturesMissing(t *testing.T) {
	f := newFinalizeFixture(t)

	require.NoError(t, f.db.Model(&models.SignaturePoint{}).
		Where("document_id = ? AND user_id = ?", f.doc.ID, f.signers[0].ID).
		Updates(map[string]interface{}{"status": models.PointPending, "signature_id": nil}).Error)

	_, err := f.svc.Finalize(context.Background(), f.doc.ID, f.doc.FileHash, f.creator.ID, testRequestInfo())
	require.ErrorIs(t, err, ErrSignaturesMissing)
}

func TestFinalizeNoSignatureData(t *testing.T) {
	f := newFinalizeFixture(t)

	require.NoError(t, f.db.Where("document_id = ?", f.doc.ID).Delete(&models.SignaturePoint{}).Error)

	_, err := f.svc.Finalize(context.Background(), f.doc.ID, f.doc.FileHash, f.creator.ID, testRequestInfo())
	require.ErrorIs(t, err, ErrNoSignatureData)
}

func TestFinalizeAuthorization(t *testing.T) {
	f := newFinalizeFixture(t)
	ctx := context.Background()

	// Wrong hash and unknown caller both refuse identically.
	_, err := f.svc.Finalize(ctx, f.doc.ID, "deadbeef", f.creator.ID, testRequestInfo())
	require.ErrorIs(t, err, ErrUnauthorizedFinalize)

	outsider := seedOutsider(t, f.db)
	_, err = f.svc.Finalize(ctx, f.doc.ID, f.doc.FileHash, outsider.ID, testRequestInfo())
	require.ErrorIs(t, err, ErrUnauthorizedFinalize)

	// An invited signer may finalize.
	_, err = f.svc.Finalize(ctx, f.doc.ID, f.doc.FileHash, f.signers[0].ID, testRequestInfo())
	require.NoError(t, err)
}

func seedOutsider(t *testing.T, database *gorm.DB) models.User {
	t.Helper()
	outsider := models.User{
		Login:        "outsider",
		Email:        "outsider@example.test",
		PasswordHash: "x",
		Role:         models.RoleUser,
		ActiveStatus: true,
	}
	require.NoError(t, database.Create(&outsider).Error)
	return outsider
}
