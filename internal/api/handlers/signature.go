package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/services"
	"github.com/remiv1/parapheur/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SignatureHandler carries a document through its whole life: staged upload,
// deposit with signature points, invited signing, finalization.
type SignatureHandler struct {
	tempAccess      *services.TempAccessService
	intakeService   *services.IntakeService
	inviteService   *services.InviteService
	signingService  *services.SigningService
	finalizeService *services.FinalizeService
	db              *gorm.DB
	tempDir         string
	logger          *zap.Logger
}

func NewSignatureHandler(
	tempAccess *services.TempAccessService,
	intakeService *services.IntakeService,
	inviteService *services.InviteService,
	signingService *services.SigningService,
	finalizeService *services.FinalizeService,
	db *gorm.DB,
	tempDir string,
	logger *zap.Logger,
) *SignatureHandler {
	return &SignatureHandler{
		tempAccess:      tempAccess,
		intakeService:   intakeService,
		inviteService:   inviteService,
		signingService:  signingService,
		finalizeService: finalizeService,
		db:              db,
		tempDir:         tempDir,
		logger:          logger.With(zap.String("handler", "signature")),
	}
}

func requesterFrom(c *gin.Context) services.Requester {
	sessionToken, _ := c.Cookie("session_token")
	return services.Requester{
		SessionID: sessionToken,
		RemoteIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func requestInfoFrom(c *gin.Context) services.RequestInfo {
	return services.RequestInfo{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// ChargerPDF stages an uploaded PDF in the temp area and opens a time-boxed
// access ticket bound to the uploader. The preview iframe fetches the file
// back through the gated download route.
func (sh *SignatureHandler) ChargerPDF(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Aucun fichier reçu"})
		return
	}

	if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".pdf" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Seuls les fichiers PDF sont acceptés"})
		return
	}

	// Unique prefix avoids collisions between concurrent staged uploads.
	filename := fmt.Sprintf("%s_%s", uuid.New().String()[:8], utils.SanitizeFilename(fileHeader.Filename))
	stagedPath := filepath.Join(sh.tempDir, filename)
	if err := c.SaveUploadedFile(fileHeader, stagedPath); err != nil {
		sh.logger.Error("failed to stage uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Impossible d'enregistrer le fichier"})
		return
	}

	if _, err := sh.tempAccess.Stage(filename, requesterFrom(c)); err != nil {
		sh.logger.Error("failed to open access ticket", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Impossible d'autoriser l'accès au fichier"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"filename":     filename,
		"download_url": "/signature/download/" + filename,
	})
}

// DownloadStaged serves a staged file only to the requester the ticket was
// opened for. Everything else is a 403, including expired tickets.
func (sh *SignatureHandler) DownloadStaged(c *gin.Context) {
	filename := utils.SanitizeFilename(c.Param("filename"))

	if !sh.tempAccess.Authorize(filename, requesterFrom(c)) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Accès refusé"})
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.File(filepath.Join(sh.tempDir, filename))
}

// Deposer turns a staged upload plus its point placements into a pending
// document, then dispatches the invitations.
func (sh *SignatureHandler) Deposer(c *gin.Context) {
	userID := c.GetUint("userID")
	req := requestInfoFrom(c)

	if err := c.Request.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formulaire illisible"})
		return
	}

	form := c.Request.PostForm
	draft, err := sh.intakeService.Begin(form)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	points := sh.intakeService.CollectPoints(form)
	doc, err := sh.intakeService.Commit(c.Request.Context(), draft, points, userID, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrNoSignaturePoints) || errors.Is(err, services.ErrStagedFileNotFound) {
			status = http.StatusBadRequest
		}
		sh.logger.Error("document intake failed", zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	var created []models.SignaturePoint
	if err := sh.db.WithContext(c.Request.Context()).
		Where("document_id = ?", doc.ID).
		Order("id ASC").
		Find(&created).Error; err != nil {
		sh.logger.Error("failed to reload signature points", zap.Uint("document_id", doc.ID), zap.Error(err))
	}

	if _, err := sh.inviteService.Issue(c.Request.Context(), doc, created, doc.SigningDeadlineDays, req); err != nil {
		// The document exists; invitations can be re-issued later.
		sh.logger.Error("failed to issue invitations", zap.Uint("document_id", doc.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"document_id": doc.ID,
		"redirect":    "/documents",
	})
}

// ShowSignPage validates the deep link (document hash in the path, shared
// token in the query) and presents the signing pad. All rejections look the
// same to the caller.
func (sh *SignatureHandler) ShowSignPage(c *gin.Context) {
	docID, err := parseDocID(c)
	if err != nil {
		c.HTML(http.StatusForbidden, "root/error.html", gin.H{"message": "Lien de signature invalide"})
		return
	}
	signerID := c.GetUint("userID")

	doc, invitation, err := sh.signingService.Authorize(
		c.Request.Context(), docID, c.Param("hash"), c.Query("token"), signerID, requestInfoFrom(c))
	if err != nil {
		c.HTML(http.StatusForbidden, "root/error.html", gin.H{"message": "Lien de signature invalide"})
		return
	}

	var points []models.SignaturePoint
	sh.db.WithContext(c.Request.Context()).
		Where("document_id = ? AND user_id = ? AND status = ?", doc.ID, signerID, models.PointPending).
		Find(&points)

	c.HTML(http.StatusOK, "signature/signer.html", gin.H{
		"Title":      "Signer le document",
		"User":       c.GetString("displayName"),
		"Document":   doc,
		"Points":     points,
		"ExpiresAt":  invitation.ExpiresAt,
		"DocumentID": doc.ID,
		"Hash":       doc.FileHash,
		"Token":      c.Query("token"),
	})
}

// SubmitSignature applies the signer's graphic input to every point they own.
func (sh *SignatureHandler) SubmitSignature(c *gin.Context) {
	docID, err := parseDocID(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Lien de signature invalide"})
		return
	}
	signerID := c.GetUint("userID")

	if _, _, err := sh.signingService.Authorize(
		c.Request.Context(), docID, c.Param("hash"), c.Query("token"), signerID, requestInfoFrom(c)); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Lien de signature invalide"})
		return
	}

	width, _ := strconv.Atoi(c.PostForm("signature_width"))
	height, _ := strconv.Atoi(c.PostForm("signature_height"))
	sub := services.Submission{
		OTPCode:       c.PostForm("otp_code"),
		SignatureHash: c.PostForm("signature_hash"),
		SignatureSVG:  c.PostForm("signature_svg"),
		SignatureData: c.PostForm("signature_data"),
		Width:         width,
		Height:        height,
		IPAddress:     c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	}

	sig, err := sh.signingService.Apply(c.Request.Context(), docID, signerID, sub)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadySigned):
			c.JSON(http.StatusConflict, gin.H{"error": "Document déjà signé"})
		case errors.Is(err, services.ErrInvitationExpired):
			c.JSON(http.StatusGone, gin.H{"error": "Invitation expirée"})
		case errors.Is(err, services.ErrInvalidInvitation):
			c.JSON(http.StatusForbidden, gin.H{"error": "Lien de signature invalide"})
		default:
			sh.logger.Error("signature submission failed",
				zap.Uint("document_id", docID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne"})
		}
		return
	}

	var doc models.SignatureDocument
	completed := false
	if err := sh.db.WithContext(c.Request.Context()).First(&doc, docID).Error; err == nil {
		completed = doc.Status == models.DocumentCompleted
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"signature_id":       sig.ID,
		"document_completed": completed,
	})
}

// Finaliser assembles the terminal signed artifact.
func (sh *SignatureHandler) Finaliser(c *gin.Context) {
	docID, err := parseDocID(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Requête invalide"})
		return
	}
	userID := c.GetUint("userID")

	result, err := sh.finalizeService.Finalize(
		c.Request.Context(), docID, c.Param("hash"), userID, requestInfoFrom(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnauthorizedFinalize):
			c.JSON(http.StatusForbidden, gin.H{"error": "Accès refusé"})
		case errors.Is(err, services.ErrFileModified):
			c.JSON(http.StatusConflict, gin.H{"error": "Le fichier a été modifié depuis sa création"})
		case errors.Is(err, services.ErrSignaturesMissing), errors.Is(err, services.ErrNoSignatureData):
			c.JSON(http.StatusConflict, gin.H{"error": "Des signatures sont manquantes"})
		default:
			sh.logger.Error("finalize failed", zap.Uint("document_id", docID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne"})
		}
		return
	}

	response := gin.H{
		"success":           true,
		"document_id":       docID,
		"already_finalized": result.AlreadyFinalized,
	}
	if result.Certificate != nil {
		response["certificate_id"] = result.Certificate.Certificate.CertificateID
		response["signed_hash"] = result.SignedFileHash
		response["render_fallback"] = result.RenderFallback
	}
	c.JSON(http.StatusOK, response)
}

func parseDocID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
