package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/mail"
	"github.com/remiv1/parapheur/internal/render"
	"github.com/remiv1/parapheur/internal/utils"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnauthorizedFinalize = errors.New("unauthorized")
	ErrFileModified         = errors.New("file modified since creation")
	ErrNoSignatureData      = errors.New("no signature data")
	ErrSignaturesMissing    = errors.New("signatures missing")
	// ErrCertificateInvalid means a freshly minted certificate failed its own
	// verification. It must never be persisted.
	ErrCertificateInvalid = errors.New("certificate failed self-verification")
)

const (
	certSidecarSuffix         = ".secure.cert"
	verificationSidecarSuffix = ".verification.json"
	originalBackupPrefix      = "original_"
)

// OverlayRenderer is implemented by render.Overlayer.
type OverlayRenderer interface {
	Overlay(inPath, outPath string, marks []render.Mark) error
}

// FinalizeResult describes the produced artifacts.
type FinalizeResult struct {
	Document         *models.SignatureDocument
	Certificate      *SecureCertificate
	SignedFileHash   string
	CertificatePath  string
	VerificationPath string
	// RenderFallback is true when overlay rendering failed and the original
	// file was certified unmodified.
	RenderFallback bool
	// AlreadyFinalized is true when a previous finalize produced the
	// artifacts and this call was a no-op.
	AlreadyFinalized bool
}

// verificationSummary is the compact sidecar kept next to the full
// certificate for independent audit.
type verificationSummary struct {
	CertificateID  string   `json:"certificate_id"`
	DocumentHash   string   `json:"document_hash"`
	SignatureCount int      `json:"signature_count"`
	Signers        []string `json:"signers"`
	CreatedAt      string   `json:"created_at"`
	Verified       bool     `json:"verified"`
	Algorithm      string   `json:"algorithm"`
	Version        string   `json:"version"`
}

// keyedMutex provides one mutex per document id so concurrent finalize
// attempts on the same document serialize.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint]*sync.Mutex)}
}

func (km *keyedMutex) get(id uint) *sync.Mutex {
	km.mu.Lock()
	defer km.mu.Unlock()
	if _, ok := km.locks[id]; !ok {
		km.locks[id] = &sync.Mutex{}
	}
	return km.locks[id]
}

// FinalizeService turns a fully signed document into the terminal signed
// artifact: overlays rendered, certificate embedded, files swapped, copies
// distributed.
type FinalizeService struct {
	db       *gorm.DB
	audit    *AuditService
	certSvc  *CertificateService
	renderer OverlayRenderer
	mailer   mail.Mailer
	locks    *keyedMutex
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
}

func NewFinalizeService(db *gorm.DB, audit *AuditService, certSvc *CertificateService, renderer OverlayRenderer, mailer mail.Mailer, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *FinalizeService {
	return &FinalizeService{
		db:       db,
		audit:    audit,
		certSvc:  certSvc,
		renderer: renderer,
		mailer:   mailer,
		locks:    newKeyedMutex(),
		logger:   logger.With(zap.String("service", "finalize_service")),
		metrics:  metricsCollector,
	}
}

// Finalize runs the assembly pipeline. Stages before any durable write fail
// closed and leave no trace; distribution failures after the swap are logged
// and never undo it.
func (fs *FinalizeService) Finalize(ctx context.Context, docID uint, docHash string, callerID uint, req RequestInfo) (*FinalizeResult, error) {
	lock := fs.locks.get(docID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	// Stage 1: load and authorize.
	var doc models.SignatureDocument
	if err := fs.db.WithContext(ctx).First(&doc, "id = ? AND file_hash = ?", docID, docHash).Error; err != nil {
		return nil, ErrUnauthorizedFinalize
	}
	if !fs.callerMayFinalize(ctx, &doc, callerID) {
		return nil, ErrUnauthorizedFinalize
	}

	// A previous finalize already produced the artifacts: idempotent no-op.
	certPath := sidecarPath(doc.FilePath, certSidecarSuffix)
	if doc.Status == models.DocumentCompleted {
		if _, err := os.Stat(certPath); err == nil {
			fs.logger.Info("Finalize skipped, artifacts already present", zap.Uint("document_id", docID))
			return &FinalizeResult{
				Document:         &doc,
				CertificatePath:  certPath,
				VerificationPath: sidecarPath(doc.FilePath, verificationSidecarSuffix),
				AlreadyFinalized: true,
			}, nil
		}
	}

	// Stage 2: integrity check against the stored hash.
	onDisk, err := utils.FileSHA256(doc.FilePath)
	if err != nil || onDisk != doc.FileHash {
		return nil, ErrFileModified
	}

	// Stage 3: load the signature data.
	var points []models.SignaturePoint
	if err := fs.db.WithContext(ctx).
		Preload("Signature").Preload("User").
		Where("document_id = ?", docID).
		Order("page_num ASC, id ASC").
		Find(&points).Error; err != nil || len(points) == 0 {
		return nil, ErrNoSignatureData
	}

	// Stage 4: completeness. All-or-nothing across points.
	for _, p := range points {
		if p.Status != models.PointSigned || p.Signature == nil {
			return nil, ErrSignaturesMissing
		}
	}

	// Stage 5: overlay rendering. Failure degrades to certifying the
	// original unmodified, with a loud trace in log and audit trail.
	ext := filepath.Ext(doc.FilePath)
	renderedPath := strings.TrimSuffix(doc.FilePath, ext) + "_signed" + ext
	renderFallback := false
	if err := fs.renderer.Overlay(doc.FilePath, renderedPath, buildMarks(points)); err != nil {
		renderFallback = true
		fs.metrics.IncrementCounter("render_fallbacks", nil)
		fs.logger.Warn("overlay rendering failed, certifying unmodified copy",
			zap.Uint("document_id", docID), zap.Error(err))
		fs.audit.Record(ctx, docID, &callerID, models.AuditSigned,
			"overlay rendering failed; signed file is an unmodified copy of the original", req)
		if err := utils.CopyFile(doc.FilePath, renderedPath); err != nil {
			return nil, fmt.Errorf("render fallback copy failed: %w", err)
		}
	}

	// Stage 6: hash the rendered output.
	signedHash, err := utils.FileSHA256(renderedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash signed file: %w", err)
	}

	// Stage 7: certificate. A bundle that cannot self-verify is never
	// persisted.
	cert, err := fs.certSvc.Issue(buildCertificateInput(points, signedHash))
	if err != nil {
		return nil, err
	}
	if !fs.certSvc.Verify(cert) {
		return nil, ErrCertificateInvalid
	}
	verificationPath := sidecarPath(doc.FilePath, verificationSidecarSuffix)
	if err := fs.writeSidecars(cert, certPath, verificationPath); err != nil {
		return nil, err
	}

	// Stage 8: atomic swap and terminal status, one transaction.
	backupPath := filepath.Join(filepath.Dir(doc.FilePath), originalBackupPrefix+filepath.Base(doc.FilePath))
	if err := os.Rename(doc.FilePath, backupPath); err != nil {
		return nil, fmt.Errorf("failed to back up original: %w", err)
	}
	if err := os.Rename(renderedPath, doc.FilePath); err != nil {
		// Put the original back so the document stays consistent.
		if restoreErr := os.Rename(backupPath, doc.FilePath); restoreErr != nil {
			fs.logger.Error("failed to restore original after swap failure",
				zap.String("backup", backupPath), zap.Error(restoreErr))
		}
		return nil, fmt.Errorf("failed to swap signed file: %w", err)
	}

	now := time.Now()
	err = fs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":    models.DocumentCompleted,
			"file_hash": signedHash,
		}
		if doc.CompletedAt == nil {
			updates["completed_at"] = now
		}
		if err := tx.Model(&doc).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.DocumentSignature{}).
			Where("document_id = ?", docID).
			Update("status", models.PointSigned).Error; err != nil {
			return err
		}
		fs.audit.RecordTx(tx, docID, &callerID, models.AuditSigned,
			fmt.Sprintf("document finalized, certificate %s", cert.Certificate.CertificateID), req)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Stage 9: distribution. Best-effort by design.
	fs.distribute(ctx, &doc, points)

	fs.metrics.IncrementCounter("documents_finalized", nil)
	fs.metrics.ObserveLatency("document_finalize", time.Since(start))
	fs.logger.Info("Document finalized",
		zap.Uint("document_id", docID),
		zap.String("signed_hash", signedHash[:8]+"..."),
		zap.Bool("render_fallback", renderFallback))

	return &FinalizeResult{
		Document:         &doc,
		Certificate:      cert,
		SignedFileHash:   signedHash,
		CertificatePath:  certPath,
		VerificationPath: verificationPath,
		RenderFallback:   renderFallback,
	}, nil
}

// callerMayFinalize: the creator or any invitee of the document.
func (fs *FinalizeService) callerMayFinalize(ctx context.Context, doc *models.SignatureDocument, callerID uint) bool {
	if doc.CreatedBy == callerID {
		return true
	}
	var count int64
	fs.db.WithContext(ctx).Model(&models.SignatureInvitation{}).
		Where("document_id = ? AND user_id = ?", doc.ID, callerID).
		Count(&count)
	return count > 0
}

func (fs *FinalizeService) writeSidecars(cert *SecureCertificate, certPath, verificationPath string) error {
	certJSON, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode certificate: %w", err)
	}
	if err := os.WriteFile(certPath, certJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate sidecar: %w", err)
	}

	signers := make([]string, 0, len(cert.Certificate.Signatories))
	for _, s := range cert.Certificate.Signatories {
		signers = append(signers, s.Name)
	}
	summary := verificationSummary{
		CertificateID:  cert.Certificate.CertificateID,
		DocumentHash:   cert.Certificate.DocumentHash,
		SignatureCount: len(cert.Certificate.Signatures),
		Signers:        signers,
		CreatedAt:      cert.Certificate.CreatedAt,
		Verified:       true,
		Algorithm:      cert.Algorithm,
		Version:        cert.Version,
	}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode verification summary: %w", err)
	}
	if err := os.WriteFile(verificationPath, summaryJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write verification sidecar: %w", err)
	}
	return nil
}

func (fs *FinalizeService) distribute(ctx context.Context, doc *models.SignatureDocument, points []models.SignaturePoint) {
	recipients := make(map[uint]models.User)
	var creator models.User
	if err := fs.db.WithContext(ctx).First(&creator, doc.CreatedBy).Error; err == nil {
		recipients[creator.ID] = creator
	}
	for _, p := range points {
		recipients[p.User.ID] = p.User
	}

	subject := fmt.Sprintf("Document signé : %s", doc.DocumentName)
	body := fmt.Sprintf("<html><body><p>Le document <strong>%s</strong> a été signé par toutes les parties. Vous le trouverez en pièce jointe avec son certificat.</p></body></html>", doc.DocumentName)

	for _, user := range recipients {
		if err := fs.mailer.Send(user.Email, subject, body, doc.FilePath); err != nil {
			fs.logger.Error("failed to distribute signed document",
				zap.Uint("document_id", doc.ID),
				zap.String("recipient", user.Email),
				zap.Error(err))
		}
	}
}

func buildMarks(points []models.SignaturePoint) []render.Mark {
	marks := make([]render.Mark, 0, len(points))
	for _, p := range points {
		sig := p.Signature
		signedAt := sig.SignedAt
		hashPrefix := sig.SignatureHash
		if len(hashPrefix) > 8 {
			hashPrefix = hashPrefix[:8]
		}
		marks = append(marks, render.Mark{
			PageNum:      p.PageNum,
			X:            p.X,
			Y:            p.Y,
			SignerName:   p.User.DisplayName(),
			SignedAt:     signedAt,
			SignatureSVG: sig.SignatureSVG,
			Width:        sig.SignatureWidth,
			Height:       sig.SignatureHeight,
			MetaLine: fmt.Sprintf("%s - %s - %s - %s",
				hashPrefix, sig.IPAddress, signedAt.Format("02/01/2006 15:04:05"), p.User.DisplayName()),
		})
	}
	return marks
}

func buildCertificateInput(points []models.SignaturePoint, documentHash string) CertificateInput {
	// One entry per signature, not per point.
	bySignature := make(map[uint]models.SignaturePoint)
	var order []uint
	for _, p := range points {
		if p.SignatureID == nil {
			continue
		}
		if _, seen := bySignature[*p.SignatureID]; !seen {
			bySignature[*p.SignatureID] = p
			order = append(order, *p.SignatureID)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	input := CertificateInput{
		DocumentHash: documentHash,
		Integrity: IntegrityChecks{
			AllPointsSigned:      true,
			DocumentHashVerified: true,
		},
	}
	for _, sigID := range order {
		p := bySignature[sigID]
		sig := p.Signature
		uaHash := sha256.Sum256([]byte(sig.UserAgent))
		input.Signatories = append(input.Signatories, SignatorySummary{
			UserID:        p.User.ID,
			Name:          p.User.DisplayName(),
			Email:         p.User.Email,
			SignedAt:      sig.SignedAt.Format(time.RFC3339),
			IPAddress:     sig.IPAddress,
			UserAgentHash: hex.EncodeToString(uaHash[:]),
			SignatureHash: sig.SignatureHash,
		})
		input.Signatures = append(input.Signatures, SignatureDetail{
			GraphicHash: GraphicHash(sig.SignatureSVG, sig.SignatureData),
			Width:       sig.SignatureWidth,
			Height:      sig.SignatureHeight,
			Timestamp:   sig.SignatureTimestamp.Format(time.RFC3339),
		})
	}
	return input
}

func sidecarPath(filePath, suffix string) string {
	ext := filepath.Ext(filePath)
	return strings.TrimSuffix(filePath, ext) + suffix
}
