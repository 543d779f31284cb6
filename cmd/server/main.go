package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/remiv1/parapheur/internal/api"
	"github.com/remiv1/parapheur/internal/config"
	"github.com/remiv1/parapheur/internal/db"
	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/mail"
	"github.com/remiv1/parapheur/internal/render"
	"github.com/remiv1/parapheur/internal/services"
	"github.com/remiv1/parapheur/internal/utils"
	"github.com/remiv1/parapheur/pkg/logger"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cfg := config.InitializeDefaultConfig()

	zapLogger, err := logger.NewLoggerWithOptions(os.Getenv("APP_ENV"), logger.Options{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	for _, dir := range []string{cfg.Signature.TempDir, cfg.Signature.StorageDir, cfg.Signature.LedgerDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			zapLogger.Fatal("Failed to create working directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()

	if err := seedDatabase(database, zapLogger); err != nil {
		zapLogger.Fatal("Failed to seed database", zap.Error(err))
	}

	mailer := mail.NewMailer(cfg.Mail, zapLogger)
	overlayer := render.NewOverlayer(cfg.Signature.TempDir, zapLogger)

	auditService := services.NewAuditService(database, zapLogger)
	sessionService := services.NewSessionService(database,
		cfg.Security.SessionTimeout, cfg.Security.MaxFailedAttempts, cfg.Security.LockoutDuration,
		zapLogger, metricsCollector)
	defer sessionService.Stop()

	documentService := services.NewDocumentService(database, auditService, zapLogger, metricsCollector)
	tempAccessService := services.NewTempAccessService(cfg.Signature.LedgerDir, cfg.Security.ServerSecret,
		cfg.Signature.TicketTTL, zapLogger, metricsCollector)
	intakeService := services.NewIntakeService(database, auditService,
		cfg.Signature.TempDir, cfg.Signature.StorageDir,
		cfg.Signature.DefaultDeadlineDays, cfg.Signature.MaxDeadlineDays, cfg.Signature.DefaultValidityDays,
		zapLogger, metricsCollector)
	inviteService := services.NewInviteService(database, auditService, mailer,
		cfg.Security.ServerSecret, cfg.Server.BaseURL, cfg.Signature.DefaultDeadlineDays,
		zapLogger, metricsCollector)
	signingService := services.NewSigningService(database, auditService, zapLogger, metricsCollector)
	certificateService := services.NewCertificateService(zapLogger)
	finalizeService := services.NewFinalizeService(database, auditService, certificateService,
		overlayer, mailer, zapLogger, metricsCollector)

	router := api.NewRouter(zapLogger, metricsCollector, api.Services{
		Session:    sessionService,
		Documents:  documentService,
		Audit:      auditService,
		TempAccess: tempAccessService,
		Intake:     intakeService,
		Invite:     inviteService,
		Signing:    signingService,
		Finalize:   finalizeService,
		Cert:       certificateService,
	}, database, cfg.Signature.TempDir)
	router.SetupRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	sqlDB, err := database.DB()
	if err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}

func seedDatabase(database *gorm.DB, logger *zap.Logger) error {
	var count int64
	database.Model(&models.User{}).Count(&count)
	if count > 0 {
		logger.Info("Database already seeded, skipping")
		return nil
	}
	logger.Info("Seeding database with initial accounts")

	defaultPassword := os.Getenv("PARAPHEUR_SEED_PASSWORD")
	if defaultPassword == "" {
		defaultPassword = "ChangerMoi!2024"
	}
	passHash, err := utils.EncryptPassword(defaultPassword)
	if err != nil {
		return err
	}

	users := []models.User{
		{Login: "admin", Email: "admin@parapheur.local", PasswordHash: passHash, Role: models.RoleAdmin, FirstName: "Admin", LastName: "Parapheur", Habilitation: models.HabilitationDirection, ActiveStatus: true},
		{Login: "rdupont", Email: "r.dupont@parapheur.local", PasswordHash: passHash, Role: models.RoleUser, FirstName: "Robert", LastName: "Dupont", Habilitation: models.HabilitationGestion, ActiveStatus: true},
		{Login: "mmartin", Email: "m.martin@parapheur.local", PasswordHash: passHash, Role: models.RoleUser, FirstName: "Marie", LastName: "Martin", Habilitation: models.HabilitationGestion, ActiveStatus: true},
		{Login: "pbernard", Email: "p.bernard@parapheur.local", PasswordHash: passHash, Role: models.RoleUser, FirstName: "Paul", LastName: "Bernard", Habilitation: models.HabilitationConsultation, ActiveStatus: true},
	}

	if err := database.Create(&users).Error; err != nil {
		return err
	}
	logger.Info("Created initial users", zap.Int("count", len(users)))
	return nil
}
