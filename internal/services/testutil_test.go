package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/remiv1/parapheur/internal/db"
	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/pkg/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	// One connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.RunMigrations(database))
	return database
}

func newTestAudit(t *testing.T, database *gorm.DB) *AuditService {
	t.Helper()
	return NewAuditService(database, zap.NewNop())
}

func newTestMetrics() *metrics.MetricsCollector {
	return metrics.NewMetricsCollector()
}

func seedTestUsers(t *testing.T, database *gorm.DB, n int) []models.User {
	t.Helper()

	users := make([]models.User, n)
	for i := range users {
		users[i] = models.User{
			Login:        fmt.Sprintf("user%d", i+1),
			Email:        fmt.Sprintf("user%d@example.test", i+1),
			PasswordHash: "$2a$10$0000000000000000000000000000000000000000000000000000.",
			Role:         models.RoleUser,
			FirstName:    fmt.Sprintf("Prénom%d", i+1),
			LastName:     fmt.Sprintf("Nom%d", i+1),
			ActiveStatus: true,
		}
	}
	require.NoError(t, database.Create(&users).Error)
	return users
}

func testRequestInfo() RequestInfo {
	return RequestInfo{IPAddress: "192.0.2.10", UserAgent: "test-agent/1.0"}
}

// seedPendingDocument creates a pending document with one pending point per
// given user.
func seedPendingDocument(t *testing.T, database *gorm.DB, creator uint, signers []models.User) (*models.SignatureDocument, []models.SignaturePoint) {
	t.Helper()

	now := time.Now()
	doc := &models.SignatureDocument{
		DocumentName:        "contrat-test",
		DocumentType:        "contrat",
		Priority:            models.PriorityNormal,
		SigningDeadlineDays: 3,
		ValidityDays:        3660,
		FilePath:            "/tmp/contrat-test.pdf",
		FileHash:            "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899",
		CreatedBy:           creator,
		CreatedAt:           now,
		Status:              models.DocumentPending,
		SigningDeadline:     now.AddDate(0, 0, 3),
	}
	require.NoError(t, database.Create(doc).Error)

	points := make([]models.SignaturePoint, len(signers))
	for i, u := range signers {
		points[i] = models.SignaturePoint{
			DocumentID: doc.ID,
			PageNum:    1,
			X:          float64(100 + 50*i),
			Y:          200,
			UserID:     u.ID,
			Status:     models.PointPending,
		}
	}
	require.NoError(t, database.Create(&points).Error)
	return doc, points
}
