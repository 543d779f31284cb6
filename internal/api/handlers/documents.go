package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DocumentHandler struct {
	documentService *services.DocumentService
	auditService    *services.AuditService
	db              *gorm.DB
	logger          *zap.Logger
}

func NewDocumentHandler(
	documentService *services.DocumentService,
	auditService *services.AuditService,
	db *gorm.DB,
	logger *zap.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		auditService:    auditService,
		db:              db,
		logger:          logger.With(zap.String("handler", "document")),
	}
}

func (h *DocumentHandler) ShowDashboard(c *gin.Context) {
	displayName := c.GetString("displayName")
	userID := c.GetUint("userID")

	total, err := h.documentService.CountDocuments(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("count documents failed", zap.Error(err))
		total = 0
	}

	summaries, err := h.documentService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list documents failed", zap.Error(err))
		summaries = nil
	}

	pending := make([]services.DocSummary, 0, len(summaries))
	for _, d := range summaries {
		if d.Status == models.DocumentPending {
			pending = append(pending, d)
		}
	}

	c.HTML(http.StatusOK, "root/dashboard.html", gin.H{
		"Title":          "Tableau de bord",
		"User":           displayName,
		"TotalDocuments": total,
		"PendingDocs":    pending,
	})
}

func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	displayName := c.GetString("displayName")
	userID := c.GetUint("userID")

	summaries, err := h.documentService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list documents failed", zap.Error(err))
		c.HTML(http.StatusInternalServerError, "root/error.html", gin.H{
			"message": "Erreur lors du chargement des documents",
			"User":    displayName,
		})
		return
	}

	c.HTML(http.StatusOK, "documents/list.html", gin.H{
		"Title":     "Mes documents",
		"User":      displayName,
		"Documents": summaries,
	})
}

func (h *DocumentHandler) ShowDepositPage(c *gin.Context) {
	displayName := c.GetString("displayName")

	var users []models.User
	if err := h.db.Where("active_status = ?", true).Order("last_name ASC").Find(&users).Error; err != nil {
		h.logger.Error("failed to load users for point assignment", zap.Error(err))
	}

	c.HTML(http.StatusOK, "signature/deposer.html", gin.H{
		"Title": "Déposer un document",
		"User":  displayName,
		"Users": users,
	})
}

// DownloadDocument serves the stored file to its creator or an invited
// signer. After finalization this is the signed artifact.
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	displayName := c.GetString("displayName")
	userID := c.GetUint("userID")

	docID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.HTML(http.StatusNotFound, "root/error.html", gin.H{
			"message": "Document introuvable",
			"User":    displayName,
		})
		return
	}

	doc, err := h.documentService.GetDocument(c.Request.Context(), uint(docID))
	if err != nil {
		c.HTML(http.StatusNotFound, "root/error.html", gin.H{
			"message": "Document introuvable",
			"User":    displayName,
		})
		return
	}

	if !h.mayAccess(doc, userID) {
		c.HTML(http.StatusForbidden, "root/error.html", gin.H{
			"message": "Accès refusé",
			"User":    displayName,
		})
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `inline; filename="`+filepath.Base(doc.FilePath)+`"`)
	c.File(doc.FilePath)
}

func (h *DocumentHandler) CancelDocument(c *gin.Context) {
	displayName := c.GetString("displayName")
	userID := c.GetUint("userID")

	docID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.HTML(http.StatusNotFound, "root/error.html", gin.H{
			"message": "Document introuvable",
			"User":    displayName,
		})
		return
	}

	req := services.RequestInfo{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	if err := h.documentService.CancelDocument(c.Request.Context(), uint(docID), userID, req); err != nil {
		h.logger.Error("cancel document failed", zap.Error(err))
		c.HTML(http.StatusInternalServerError, "root/error.html", gin.H{
			"message": "Erreur lors de l'annulation : " + err.Error(),
			"User":    displayName,
		})
		return
	}

	c.Redirect(http.StatusSeeOther, "/documents")
}

// ShowAuditTrail renders the append-only history of a document.
func (h *DocumentHandler) ShowAuditTrail(c *gin.Context) {
	displayName := c.GetString("displayName")
	userID := c.GetUint("userID")

	docID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.HTML(http.StatusNotFound, "root/error.html", gin.H{
			"message": "Document introuvable",
			"User":    displayName,
		})
		return
	}

	doc, err := h.documentService.GetDocument(c.Request.Context(), uint(docID))
	if err != nil || !h.mayAccess(doc, userID) {
		c.HTML(http.StatusForbidden, "root/error.html", gin.H{
			"message": "Accès refusé",
			"User":    displayName,
		})
		return
	}

	entries, err := h.auditService.ListForDocument(c.Request.Context(), doc.ID)
	if err != nil {
		h.logger.Error("load audit trail failed", zap.Uint("document_id", doc.ID), zap.Error(err))
	}

	c.HTML(http.StatusOK, "documents/audit.html", gin.H{
		"Title":    "Historique du document",
		"User":     displayName,
		"Document": doc,
		"Entries":  entries,
	})
}

func (h *DocumentHandler) mayAccess(doc *models.SignatureDocument, userID uint) bool {
	if doc.CreatedBy == userID {
		return true
	}
	var count int64
	h.db.Model(&models.SignatureInvitation{}).
		Where("document_id = ? AND user_id = ?", doc.ID, userID).
		Count(&count)
	return count > 0
}
