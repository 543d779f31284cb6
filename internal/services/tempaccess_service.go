package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/remiv1/parapheur/internal/utils"
	"github.com/remiv1/parapheur/pkg/metrics"
	"go.uber.org/zap"
)

var ErrTicketWrite = errors.New("failed to persist access ticket")

// Requester identifies the party staging or retrieving a temporary file. The
// identifier deliberately mixes the session with transport-level attributes so
// a stolen link is useless from another browser or address.
type Requester struct {
	SessionID string
	RemoteIP  string
	UserAgent string
}

// Identifier is sessionID|remoteIP|short agent hash.
func (r Requester) Identifier() string {
	return fmt.Sprintf("%s|%s|%s", r.SessionID, r.RemoteIP, utils.ShortAgentHash(r.UserAgent))
}

// TempAccessTicket is one JSON file in the ledger directory, named by its
// access hash.
type TempAccessTicket struct {
	Filename       string    `json:"filename"`
	AccessHash     string    `json:"access_hash"`
	UserIdentifier string    `json:"user_identifier"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// TempAccessService gates access to files staged in the temporary directory
// before intake commits them to final storage. The ledger is a set of JSON
// files; a mutex serializes stage/authorize/sweep so concurrent calls on the
// same filename cannot interleave the glob-and-open scan.
type TempAccessService struct {
	ledgerDir string
	secret    []byte
	ttl       time.Duration
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector

	mu sync.Mutex

	now func() time.Time
}

func NewTempAccessService(ledgerDir, serverSecret string, ttl time.Duration, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *TempAccessService {
	return &TempAccessService{
		ledgerDir: ledgerDir,
		secret:    []byte(serverSecret),
		ttl:       ttl,
		logger:    logger.With(zap.String("service", "temp_access_service")),
		metrics:   metricsCollector,
		now:       time.Now,
	}
}

// Stage records a ticket for a file just written to the temporary directory
// and returns its access hash. Expired tickets are swept first to bound
// ledger growth.
func (ts *TempAccessService) Stage(filename string, requester Requester) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.sweepLocked()

	now := ts.now()
	identifier := requester.Identifier()
	hash := ts.accessHash(filename, identifier, now)

	ticket := TempAccessTicket{
		Filename:       filename,
		AccessHash:     hash,
		UserIdentifier: identifier,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ts.ttl),
	}

	if err := os.MkdirAll(ts.ledgerDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTicketWrite, err)
	}
	data, err := json.Marshal(ticket)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTicketWrite, err)
	}
	if err := os.WriteFile(ts.ticketPath(hash), data, 0o600); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTicketWrite, err)
	}

	ts.metrics.IncrementCounter("temp_access_staged", nil)
	ts.logger.Info("Staged upload registered",
		zap.String("filename", filename),
		zap.String("access_hash", hash[:8]+"..."))
	return hash, nil
}

// Authorize reports whether the requester may retrieve the staged file. It
// fails closed: no matching live ticket means no access. Expired tickets
// found during the scan are deleted opportunistically. A ticket is live
// strictly before its expiry instant; at the exact instant it is refused.
func (ts *TempAccessService) Authorize(filename string, requester Requester) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	identifier := requester.Identifier()
	now := ts.now()

	entries, err := os.ReadDir(ts.ledgerDir)
	if err != nil {
		return false
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(ts.ledgerDir, entry.Name())
		ticket, err := ts.readTicket(path)
		if err != nil {
			continue
		}
		if !now.Before(ticket.ExpiresAt) {
			if err := os.Remove(path); err != nil {
				ts.logger.Warn("failed to delete expired ticket", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		if ticket.Filename == filename && ticket.UserIdentifier == identifier {
			return true
		}
	}
	return false
}

// Sweep deletes every expired ticket.
func (ts *TempAccessService) Sweep() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.sweepLocked()
}

func (ts *TempAccessService) sweepLocked() {
	now := ts.now()
	entries, err := os.ReadDir(ts.ledgerDir)
	if err != nil {
		return
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(ts.ledgerDir, entry.Name())
		ticket, err := ts.readTicket(path)
		if err != nil {
			continue
		}
		if !now.Before(ticket.ExpiresAt) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		ts.logger.Info("Swept expired tickets", zap.Int("removed", removed))
	}
}

func (ts *TempAccessService) readTicket(path string) (*TempAccessTicket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ticket TempAccessTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (ts *TempAccessService) ticketPath(hash string) string {
	return filepath.Join(ts.ledgerDir, hash+".json")
}

// accessHash is HMAC-SHA-256 over filename, identifier and a second-granular
// timestamp, keyed by the server secret.
func (ts *TempAccessService) accessHash(filename, identifier string, at time.Time) string {
	mac := hmac.New(sha256.New, ts.secret)
	fmt.Fprintf(mac, "%s%s%s", filename, identifier, at.Format("2006-01-02T15:04:05"))
	return hex.EncodeToString(mac.Sum(nil))
}
