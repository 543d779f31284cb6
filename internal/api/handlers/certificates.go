package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CertificateHandler struct {
	certificateService *services.CertificateService
	db                 *gorm.DB
	logger             *zap.Logger
}

func NewCertificateHandler(
	certificateService *services.CertificateService,
	db *gorm.DB,
	logger *zap.Logger,
) *CertificateHandler {
	return &CertificateHandler{
		certificateService: certificateService,
		db:                 db,
		logger:             logger.With(zap.String("handler", "certificate")),
	}
}

// loadFinalizedDocument returns the document when the caller may read its
// certificate artifacts: creator or invited signer, document completed.
func (ch *CertificateHandler) loadFinalizedDocument(c *gin.Context) *models.SignatureDocument {
	userID := c.GetUint("userID")
	docID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Document introuvable"})
		return nil
	}

	var doc models.SignatureDocument
	if err := ch.db.First(&doc, uint(docID)).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Document introuvable"})
		return nil
	}

	authorized := doc.CreatedBy == userID
	if !authorized {
		var count int64
		ch.db.Model(&models.SignatureInvitation{}).
			Where("document_id = ? AND user_id = ?", doc.ID, userID).
			Count(&count)
		authorized = count > 0
	}
	if !authorized {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Accès refusé"})
		return nil
	}

	if doc.Status != models.DocumentCompleted {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Document non finalisé"})
		return nil
	}
	return &doc
}

// DownloadCertificate serves the full self-verifying attestation bundle of a
// finalized document.
func (ch *CertificateHandler) DownloadCertificate(c *gin.Context) {
	doc := ch.loadFinalizedDocument(c)
	if doc == nil {
		return
	}

	certPath := sidecar(doc.FilePath, ".secure.cert")
	if _, err := os.Stat(certPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Certificat introuvable"})
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="`+filepath.Base(certPath)+`"`)
	c.File(certPath)
}

// DownloadVerification serves the compact verification summary.
func (ch *CertificateHandler) DownloadVerification(c *gin.Context) {
	doc := ch.loadFinalizedDocument(c)
	if doc == nil {
		return
	}

	verPath := sidecar(doc.FilePath, ".verification.json")
	if _, err := os.Stat(verPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Fichier de vérification introuvable"})
		return
	}

	c.Header("Content-Type", "application/json")
	c.File(verPath)
}

// VerifyCertificate checks an uploaded attestation bundle with nothing but
// its own contents and reports the verdict.
func (ch *CertificateHandler) VerifyCertificate(c *gin.Context) {
	fileHeader, err := c.FormFile("certificate")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Aucun certificat reçu"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Certificat illisible"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Certificat illisible"})
		return
	}

	var cert services.SecureCertificate
	if err := json.Unmarshal(data, &cert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Format de certificat invalide"})
		return
	}

	valid := ch.certificateService.Verify(&cert)
	ch.logger.Info("Certificate verification requested",
		zap.String("certificate_id", cert.Certificate.CertificateID),
		zap.Bool("valid", valid))

	c.JSON(http.StatusOK, gin.H{
		"valid":           valid,
		"certificate_id":  cert.Certificate.CertificateID,
		"document_hash":   cert.Certificate.DocumentHash,
		"signature_count": len(cert.Certificate.Signatures),
	})
}

func sidecar(filePath, suffix string) string {
	ext := filepath.Ext(filePath)
	return strings.TrimSuffix(filePath, ext) + suffix
}
