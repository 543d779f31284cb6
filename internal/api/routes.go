package api

import (
	"html/template"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/remiv1/parapheur/internal/api/handlers"
	"github.com/remiv1/parapheur/internal/api/middleware"
	"github.com/remiv1/parapheur/internal/services"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Router struct {
	engine           *gin.Engine
	logger           *zap.Logger
	metrics          *metrics.MetricsCollector
	authHandler      *handlers.AuthHandler
	docHandler       *handlers.DocumentHandler
	signatureHandler *handlers.SignatureHandler
	certHandler      *handlers.CertificateHandler
	userHandler      *handlers.UserHandler
	authMiddleware   *middleware.AuthMiddleware
	reqMiddleware    *middleware.RequestMiddleware
}

// Services bundles everything the handlers need.
type Services struct {
	Session    *services.SessionService
	Documents  *services.DocumentService
	Audit      *services.AuditService
	TempAccess *services.TempAccessService
	Intake     *services.IntakeService
	Invite     *services.InviteService
	Signing    *services.SigningService
	Finalize   *services.FinalizeService
	Cert       *services.CertificateService
}

// loadTemplates parses every page template under dir. Each file carries a
// define block naming its template ("auth/login.html" and so on), so the
// names the handlers render are stable regardless of file layout. A missing
// or empty directory is logged and skipped instead of panicking, so the JSON
// surface stays available.
func loadTemplates(engine *gin.Engine, dir string, logger *zap.Logger) {
	matches, err := filepath.Glob(filepath.Join(dir, "*", "*.html"))
	if err != nil || len(matches) == 0 {
		logger.Warn("No HTML templates found, page rendering disabled", zap.String("dir", dir))
		return
	}
	tmpl, err := template.New("").ParseFiles(matches...)
	if err != nil {
		logger.Error("Failed to parse templates", zap.String("dir", dir), zap.Error(err))
		return
	}
	engine.SetHTMLTemplate(tmpl)
	logger.Info("Templates loaded", zap.Int("count", len(matches)))
}

func NewRouter(
	logger *zap.Logger,
	metricsCollector *metrics.MetricsCollector,
	svc Services,
	db *gorm.DB,
	tempDir string,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	authMiddleware := middleware.NewAuthMiddleware(svc.Session, db)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())
	engine.Use(reqMiddleware.AttemptThrottle())

	loadTemplates(engine, "templates", logger)

	engine.Static("/static", "./static")
	engine.StaticFile("/favicon.ico", "./static/img/favicon.ico")

	authHandler := handlers.NewAuthHandler(svc.Session, db, logger)
	docHandler := handlers.NewDocumentHandler(svc.Documents, svc.Audit, db, logger)
	signatureHandler := handlers.NewSignatureHandler(
		svc.TempAccess, svc.Intake, svc.Invite, svc.Signing, svc.Finalize, db, tempDir, logger)
	certHandler := handlers.NewCertificateHandler(svc.Cert, db, logger)
	userHandler := handlers.NewUserHandler(db, logger)

	return &Router{
		engine:           engine,
		logger:           logger,
		metrics:          metricsCollector,
		authHandler:      authHandler,
		docHandler:       docHandler,
		signatureHandler: signatureHandler,
		certHandler:      certHandler,
		userHandler:      userHandler,
		authMiddleware:   authMiddleware,
		reqMiddleware:    reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "parapheur"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	r.engine.GET("/", func(c *gin.Context) { c.Redirect(http.StatusSeeOther, "/login") })

	r.engine.GET("/login", r.authHandler.ShowLoginPage)
	r.engine.POST("/login", r.authHandler.Login)
	r.engine.GET("/logout", r.authHandler.Logout)
	r.engine.GET("/register", r.authHandler.ShowRegisterPage)
	r.engine.POST("/register", r.authHandler.Register)

	authorized := r.engine.Group("/")
	authorized.Use(r.authMiddleware.RequireAuth())
	{
		authorized.GET("/dashboard", r.docHandler.ShowDashboard)
		authorized.GET("/profile", r.userHandler.ShowProfilePage)
		authorized.POST("/profile", r.userHandler.UpdateProfile)
		authorized.GET("/users", r.userHandler.ListUsers)

		authorized.GET("/documents", r.docHandler.ListDocuments)
		authorized.GET("/documents/download/:id", r.docHandler.DownloadDocument)
		authorized.POST("/documents/annuler/:id", r.docHandler.CancelDocument)
		authorized.GET("/documents/historique/:id", r.docHandler.ShowAuditTrail)
		authorized.GET("/documents/certificat/:id", r.certHandler.DownloadCertificate)
		authorized.GET("/documents/verification/:id", r.certHandler.DownloadVerification)

		authorized.GET("/signature/deposer", r.docHandler.ShowDepositPage)
		authorized.POST("/signature/charger-pdf", r.signatureHandler.ChargerPDF)
		authorized.GET("/signature/download/:filename", r.signatureHandler.DownloadStaged)
		authorized.POST("/signature/deposer", r.signatureHandler.Deposer)
		authorized.GET("/signature/signer/:id/:hash", r.signatureHandler.ShowSignPage)
		authorized.POST("/signature/signer/:id/:hash", r.signatureHandler.SubmitSignature)
		authorized.POST("/signature/finaliser/:id/:hash", r.signatureHandler.Finaliser)

		authorized.POST("/certificats/verifier", r.certHandler.VerifyCertificate)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
