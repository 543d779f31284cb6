package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/utils"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidSession     = errors.New("invalid session token")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
)

type SessionStore struct {
	sessions map[string]SessionData
	mutex    sync.RWMutex
}

type SessionData struct {
	UserID    uint
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
}

// SessionService owns authentication and the in-memory session store. The
// signature engine itself never reads ambient session state; handlers resolve
// the identity here and pass it down explicitly.
type SessionService struct {
	db             *gorm.DB
	sessionStore   *SessionStore
	sessionTimeout time.Duration
	maxFailed      int
	lockout        time.Duration
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	stopChan       chan struct{}
}

func NewSessionService(db *gorm.DB, sessionTimeout time.Duration, maxFailed int, lockout time.Duration, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *SessionService {
	ss := &SessionService{
		db: db,
		sessionStore: &SessionStore{
			sessions: make(map[string]SessionData),
		},
		sessionTimeout: sessionTimeout,
		maxFailed:      maxFailed,
		lockout:        lockout,
		logger:         logger.With(zap.String("service", "session_service")),
		metrics:        metricsCollector,
		stopChan:       make(chan struct{}),
	}

	go ss.startBackgroundCleanup(context.Background())

	return ss
}

func (ss *SessionService) startBackgroundCleanup(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ss.stopChan:
			return
		case <-ticker.C:
			ss.cleanupExpiredSessions()
		}
	}
}

func (ss *SessionService) cleanupExpiredSessions() {
	ss.sessionStore.mutex.Lock()
	defer ss.sessionStore.mutex.Unlock()

	now := time.Now()
	for token, session := range ss.sessionStore.sessions {
		if now.After(session.ExpiresAt) {
			delete(ss.sessionStore.sessions, token)
			ss.metrics.IncrementCounter("sessions_expired", nil)
		}
	}
}

func (ss *SessionService) Stop() {
	close(ss.stopChan)
}

// Authenticate verifies credentials and maintains the lockout counters.
func (ss *SessionService) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	var user models.User
	if err := ss.db.Where("login = ? AND active_status = ?", login, true).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if time.Now().Before(user.LockoutUntil) {
		return nil, ErrAccountLocked
	}

	ok, _ := utils.VerifyPassword(user.PasswordHash, password)
	if !ok {
		updates := map[string]interface{}{"failed_attempts": user.FailedAttempts + 1}
		if user.FailedAttempts+1 >= ss.maxFailed {
			updates["lockout_until"] = time.Now().Add(ss.lockout)
			updates["failed_attempts"] = 0
		}
		if err := ss.db.Model(&user).Updates(updates).Error; err != nil {
			ss.logger.Error("failed to record failed attempt", zap.Error(err))
		}
		ss.metrics.IncrementCounter("login_failures", nil)
		return nil, ErrInvalidCredentials
	}

	if err := ss.db.Model(&user).Updates(map[string]interface{}{
		"failed_attempts": 0,
		"last_login":      time.Now(),
	}).Error; err != nil {
		ss.logger.Error("failed to record login", zap.Error(err))
	}

	return &user, nil
}

func (ss *SessionService) CreateSessionToken(ctx context.Context, userID uint, ipAddress, userAgent string) (string, error) {
	token := uuid.New().String()
	ss.sessionStore.mutex.Lock()
	ss.sessionStore.sessions[token] = SessionData{
		UserID:    userID,
		ExpiresAt: time.Now().Add(ss.sessionTimeout),
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
	ss.sessionStore.mutex.Unlock()

	ss.metrics.IncrementCounter("sessions_created", nil)
	ss.logger.Info("Created new session",
		zap.Uint("user_id", userID),
		zap.String("token", token[:8]+"..."),
		zap.String("ip_address", ipAddress))

	return token, nil
}

// IsValidSession resolves a session token to a user id.
func (ss *SessionService) IsValidSession(token string) (uint, bool) {
	ss.sessionStore.mutex.RLock()
	session, exists := ss.sessionStore.sessions[token]
	ss.sessionStore.mutex.RUnlock()

	if !exists || time.Now().After(session.ExpiresAt) {
		return 0, false
	}
	return session.UserID, true
}

func (ss *SessionService) InvalidateSession(token string) {
	ss.sessionStore.mutex.Lock()
	delete(ss.sessionStore.sessions, token)
	ss.sessionStore.mutex.Unlock()
}
