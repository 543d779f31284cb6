package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/utils"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrStagedFileNotFound = errors.New("staged file not found")
	ErrNoSignaturePoints  = errors.New("no signature points submitted")
	ErrMissingField       = errors.New("missing required field")
)

// DraftDocument holds the validated scalar fields of a submission before the
// document row exists.
type DraftDocument struct {
	Name             string
	Type             string
	Subtype          string
	Priority         models.Priority
	DeadlineDays     int
	ValidityDays     int
	Description      string
	OriginalFilename string
}

// PointSpec is one parsed signature point before persistence.
type PointSpec struct {
	X       float64
	Y       float64
	PageNum int
	UserID  uint
}

// IntakeService turns a staged upload plus submitted form data into a pending
// document with its signature points, finalizing storage location and hash.
type IntakeService struct {
	db         *gorm.DB
	audit      *AuditService
	tempDir    string
	storageDir string

	defaultDeadlineDays int
	maxDeadlineDays     int
	defaultValidityDays int

	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewIntakeService(db *gorm.DB, audit *AuditService, tempDir, storageDir string, defaultDeadlineDays, maxDeadlineDays, defaultValidityDays int, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *IntakeService {
	return &IntakeService{
		db:                  db,
		audit:               audit,
		tempDir:             tempDir,
		storageDir:          storageDir,
		defaultDeadlineDays: defaultDeadlineDays,
		maxDeadlineDays:     maxDeadlineDays,
		defaultValidityDays: defaultValidityDays,
		logger:              logger.With(zap.String("service", "intake_service")),
		metrics:             metricsCollector,
	}
}

// Begin reads and validates the scalar form fields. Echeance defaults to 3
// days when absent or out of the 1..15 range; validity defaults to 3660.
func (is *IntakeService) Begin(form url.Values) (DraftDocument, error) {
	draft := DraftDocument{
		Name:             form.Get("document_name"),
		Type:             form.Get("document_type"),
		Subtype:          form.Get("document_subtype"),
		Priority:         models.ParsePriority(form.Get("priority")),
		Description:      form.Get("description"),
		OriginalFilename: utils.SanitizeFilename(form.Get("original_filename")),
	}

	if draft.Name == "" || draft.Type == "" || draft.OriginalFilename == "" {
		return draft, fmt.Errorf("%w: document_name, document_type and original_filename are required", ErrMissingField)
	}

	draft.DeadlineDays = is.defaultDeadlineDays
	if days, err := strconv.Atoi(form.Get("echeance")); err == nil && days >= 1 && days <= is.maxDeadlineDays {
		draft.DeadlineDays = days
	}

	draft.ValidityDays = is.defaultValidityDays
	if days, err := strconv.Atoi(form.Get("validite")); err == nil && days > 0 {
		draft.ValidityDays = days
	}

	return draft, nil
}

// CollectPoints reads the indexed point array. The array is dense and
// zero-indexed: collection stops at the first missing index even if later
// indices exist.
func (is *IntakeService) CollectPoints(form url.Values) []PointSpec {
	var points []PointSpec
	for i := 0; ; i++ {
		xs := form.Get(fmt.Sprintf("signature_points[%d][x]", i))
		if xs == "" {
			break
		}
		ys := form.Get(fmt.Sprintf("signature_points[%d][y]", i))
		pages := form.Get(fmt.Sprintf("signature_points[%d][pageNum]", i))
		users := form.Get(fmt.Sprintf("signature_points[%d][user_id]", i))

		x, errX := strconv.ParseFloat(xs, 64)
		y, errY := strconv.ParseFloat(ys, 64)
		page, errP := strconv.Atoi(pages)
		userID, errU := strconv.ParseUint(users, 10, 32)
		if errX != nil || errY != nil || errP != nil || errU != nil || page < 1 {
			is.logger.Warn("skipping malformed signature point", zap.Int("index", i))
			continue
		}

		points = append(points, PointSpec{X: x, Y: y, PageNum: page, UserID: uint(userID)})
	}
	return points
}

// Commit creates the document and its points, then moves the staged file into
// final storage and records its path and hash. Everything happens in one
// transaction: a missing staged file leaves no document or points behind.
// The document row is inserted before the points because point rows carry its
// id.
func (is *IntakeService) Commit(ctx context.Context, draft DraftDocument, points []PointSpec, creatorID uint, req RequestInfo) (*models.SignatureDocument, error) {
	if len(points) == 0 {
		return nil, ErrNoSignaturePoints
	}

	start := time.Now()
	now := time.Now()

	doc := &models.SignatureDocument{
		DocumentName:        draft.Name,
		DocumentType:        draft.Type,
		DocumentSubtype:     draft.Subtype,
		Priority:            draft.Priority,
		SigningDeadlineDays: draft.DeadlineDays,
		ValidityDays:        draft.ValidityDays,
		Description:         draft.Description,
		CreatedBy:           creatorID,
		CreatedAt:           now,
		Status:              models.DocumentPending,
		SigningDeadline:     now.AddDate(0, 0, draft.DeadlineDays),
	}

	var relocatedTo string
	stagedPath := filepath.Join(is.tempDir, draft.OriginalFilename)

	err := is.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}

		for _, p := range points {
			point := models.SignaturePoint{
				DocumentID: doc.ID,
				PageNum:    p.PageNum,
				X:          p.X,
				Y:          p.Y,
				UserID:     p.UserID,
				Status:     models.PointPending,
			}
			if err := tx.Create(&point).Error; err != nil {
				return fmt.Errorf("failed to create signature point: %w", err)
			}
		}

		finalPath, hash, err := is.relocate(draft, doc.ID)
		if err != nil {
			return err
		}
		relocatedTo = finalPath
		if err := tx.Model(doc).Updates(map[string]interface{}{
			"file_path": finalPath,
			"file_hash": hash,
		}).Error; err != nil {
			return fmt.Errorf("failed to record storage location: %w", err)
		}
		doc.FilePath = finalPath
		doc.FileHash = hash

		creator := creatorID
		is.audit.RecordTx(tx, doc.ID, &creator, models.AuditCreated,
			fmt.Sprintf("document created with %d signature points, deadline %d days", len(points), draft.DeadlineDays), req)
		return nil
	})
	if err != nil {
		// A rolled-back commit must not leave a stored file without a
		// document row.
		if relocatedTo != "" {
			is.restoreStaged(relocatedTo, stagedPath)
		}
		return nil, err
	}

	is.metrics.IncrementCounter("documents_created", nil)
	is.metrics.ObserveLatency("document_intake", time.Since(start))
	is.logger.Info("Document intake committed",
		zap.Uint("document_id", doc.ID),
		zap.String("file_hash", doc.FileHash[:8]+"..."),
		zap.Int("points", len(points)))

	return doc, nil
}

// relocate moves the staged file to final storage under the document's
// assigned name and hashes the final bytes, not the staged ones.
func (is *IntakeService) relocate(draft DraftDocument, docID uint) (string, string, error) {
	stagedPath := filepath.Join(is.tempDir, draft.OriginalFilename)
	if _, err := os.Stat(stagedPath); err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrStagedFileNotFound, stagedPath)
	}

	ext := filepath.Ext(draft.OriginalFilename)
	finalName := fmt.Sprintf("%s_%d%s", utils.SanitizeFilename(draft.Name), docID, ext)
	finalPath := filepath.Join(is.storageDir, finalName)

	if err := os.MkdirAll(is.storageDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create storage dir: %w", err)
	}
	if err := os.Rename(stagedPath, finalPath); err != nil {
		// Rename can fail across filesystems; copy then remove.
		if err := utils.CopyFile(stagedPath, finalPath); err != nil {
			return "", "", fmt.Errorf("failed to relocate staged file: %w", err)
		}
		if err := os.Remove(stagedPath); err != nil {
			is.logger.Warn("failed to remove staged file after copy", zap.String("path", stagedPath), zap.Error(err))
		}
	}

	hash, err := utils.FileSHA256(finalPath)
	if err != nil {
		return "", "", err
	}
	return finalPath, hash, nil
}

// restoreStaged moves a relocated file back to the staging area.
func (is *IntakeService) restoreStaged(finalPath, stagedPath string) {
	if err := os.Rename(finalPath, stagedPath); err == nil {
		return
	}
	if err := utils.CopyFile(finalPath, stagedPath); err != nil {
		is.logger.Error("failed to restore staged file after rollback",
			zap.String("path", finalPath), zap.Error(err))
		return
	}
	if err := os.Remove(finalPath); err != nil {
		is.logger.Warn("failed to remove stored file after restore", zap.String("path", finalPath), zap.Error(err))
	}
}
