package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server    ServerConfig    `json:"server"`
	Security  SecurityConfig  `json:"security"`
	Logging   LoggingConfig   `json:"logging"`
	Database  DatabaseConfig  `json:"database"`
	Mail      MailConfig      `json:"mail"`
	Signature SignatureConfig `json:"signature"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	BaseURL      string        `json:"base_url"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type SecurityConfig struct {
	// ServerSecret keys every HMAC: temp-access tickets and invitation tokens.
	ServerSecret      string        `json:"server_secret"`
	CookieSecret      string        `json:"cookie_secret"`
	SessionTimeout    time.Duration `json:"session_timeout"`
	PasswordMinLength int           `json:"password_min_length"`
	MaxFailedAttempts int           `json:"max_failed_attempts"`
	LockoutDuration   time.Duration `json:"lockout_duration"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	FilePath   string `json:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	Enabled  bool   `json:"enabled"`
}

type SignatureConfig struct {
	// TempDir receives uploads staged before intake commits them.
	TempDir string `json:"temp_dir"`
	// StorageDir holds final documents, sidecar certificates included.
	StorageDir string `json:"storage_dir"`
	// LedgerDir holds one JSON ticket file per staged upload.
	LedgerDir string `json:"ledger_dir"`

	DefaultDeadlineDays int           `json:"default_deadline_days"`
	MaxDeadlineDays     int           `json:"max_deadline_days"`
	DefaultValidityDays int           `json:"default_validity_days"`
	TicketTTL           time.Duration `json:"ticket_ttl"`
}

var (
	config     *Configuration
	configOnce sync.Once
	configLock sync.RWMutex
)

func LoadConfig(filePath string) (*Configuration, error) {
	var err error

	configOnce.Do(func() {
		var file *os.File
		file, err = os.Open(filePath)
		if err != nil {
			err = fmt.Errorf("failed to open config file: %w", err)
			return
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		config = &Configuration{}
		err = decoder.Decode(config)
		if err != nil {
			err = fmt.Errorf("failed to decode config file: %w", err)
			return
		}

		applyDefaults(config)
	})

	return config, err
}

func applyDefaults(c *Configuration) {
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:" + c.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Security.SessionTimeout == 0 {
		c.Security.SessionTimeout = 24 * time.Hour
	}
	if c.Signature.TempDir == "" {
		c.Signature.TempDir = "/tmp/parapheur"
	}
	if c.Signature.StorageDir == "" {
		c.Signature.StorageDir = "storage/documents"
	}
	if c.Signature.LedgerDir == "" {
		c.Signature.LedgerDir = "storage/ledger"
	}
	if c.Signature.DefaultDeadlineDays == 0 {
		c.Signature.DefaultDeadlineDays = 3
	}
	if c.Signature.MaxDeadlineDays == 0 {
		c.Signature.MaxDeadlineDays = 15
	}
	if c.Signature.DefaultValidityDays == 0 {
		c.Signature.DefaultValidityDays = 3660
	}
	if c.Signature.TicketTTL == 0 {
		c.Signature.TicketTTL = 24 * time.Hour
	}
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func UpdateConfig(updater func(*Configuration)) {
	configLock.Lock()
	defer configLock.Unlock()
	updater(config)
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = &Configuration{
		Server: ServerConfig{
			Port:         "8000",
			BaseURL:      "http://localhost:8000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Security: SecurityConfig{
			ServerSecret:      "parapheur-server-secret",
			CookieSecret:      "parapheur-cookie-secret",
			SessionTimeout:    24 * time.Hour,
			PasswordMinLength: 8,
			MaxFailedAttempts: 5,
			LockoutDuration:   15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "logs/parapheur.log",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			Username:        "postgres",
			Password:        "password",
			Name:            "parapheur",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
		},
		Mail: MailConfig{
			Host:    "localhost",
			Port:    587,
			From:    "parapheur@localhost",
			Enabled: false,
		},
		Signature: SignatureConfig{
			TempDir:             "/tmp/parapheur",
			StorageDir:          "storage/documents",
			LedgerDir:           "storage/ledger",
			DefaultDeadlineDays: 3,
			MaxDeadlineDays:     15,
			DefaultValidityDays: 3660,
			TicketTTL:           24 * time.Hour,
		},
	}

	if secret := os.Getenv("PARAPHEUR_SECRET"); secret != "" {
		config.Security.ServerSecret = secret
	}

	return config
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	logger.Info("Application configuration",
		zap.String("port", config.Server.Port),
		zap.String("base_url", config.Server.BaseURL),
		zap.Duration("read_timeout", config.Server.ReadTimeout),
		zap.Duration("write_timeout", config.Server.WriteTimeout),
		zap.String("temp_dir", config.Signature.TempDir),
		zap.String("storage_dir", config.Signature.StorageDir),
		zap.String("ledger_dir", config.Signature.LedgerDir),
		zap.Int("default_deadline_days", config.Signature.DefaultDeadlineDays),
		zap.Duration("ticket_ttl", config.Signature.TicketTTL),
		zap.String("database_host", config.Database.Host),
		zap.String("database_name", config.Database.Name),
		zap.Bool("mail_enabled", config.Mail.Enabled),
	)
}
