// Package config reads process settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvHTTPAddr  = "HTTP_ADDR"
	EnvDBDriver  = "DB_DRIVER"
	EnvDBDSN     = "DB_DSN"
	EnvJWTSecret = "JWT_SECRET"
	EnvNATSURL   = "NATS_URL"

	EnvSyncdAddr       = "SYNCD_ADDR"
	EnvQueuePath       = "QUEUE_PATH"
	EnvLedgerURL       = "LEDGER_URL"
	EnvLedgerToken     = "LEDGER_TOKEN"
	EnvSyncInterval    = "SYNC_INTERVAL"
	EnvSyncMaxAttempts = "SYNC_MAX_ATTEMPTS"
	EnvSyncBaseDelay   = "SYNC_BASE_DELAY"
	EnvSyncMaxDelay    = "SYNC_MAX_DELAY"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"
	EnvProbeInterval   = "PROBE_INTERVAL"
	EnvStartOnline     = "START_ONLINE"
)

// Server configures cmd/server.
type Server struct {
	HTTPAddr  string
	DBDriver  string
	DBDSN     string
	JWTSecret string
	// NATSURL enables ledger change notifications when set.
	NATSURL string
}

// Agent configures cmd/syncd.
type Agent struct {
	Addr        string
	QueuePath   string
	LedgerURL   string
	LedgerToken string

	SyncInterval   time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
	ProbeInterval  time.Duration
	StartOnline    bool
}

// LoadServer reads the server settings.
func LoadServer() (*Server, error) {
	cfg := &Server{
		HTTPAddr:  getEnv(EnvHTTPAddr, ":8080"),
		DBDriver:  getEnv(EnvDBDriver, "sqlite"),
		DBDSN:     getEnv(EnvDBDSN, "./data/ledger.db"),
		JWTSecret: os.Getenv(EnvJWTSecret),
		NATSURL:   os.Getenv(EnvNATSURL),
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%s is required", EnvJWTSecret)
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("%s must be sqlite or postgres, got %q", EnvDBDriver, cfg.DBDriver)
	}
	return cfg, nil
}

// LoadAgent reads the sync agent settings.
func LoadAgent() (*Agent, error) {
	cfg := &Agent{
		Addr:        getEnv(EnvSyncdAddr, ":8081"),
		QueuePath:   getEnv(EnvQueuePath, "./data/queue.db"),
		LedgerURL:   getEnv(EnvLedgerURL, "http://localhost:8080"),
		LedgerToken: os.Getenv(EnvLedgerToken),
	}

	var err error
	if cfg.SyncInterval, err = getDuration(EnvSyncInterval, 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = getInt(EnvSyncMaxAttempts, 5); err != nil {
		return nil, err
	}
	if cfg.BaseDelay, err = getDuration(EnvSyncBaseDelay, 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.MaxDelay, err = getDuration(EnvSyncMaxDelay, 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration(EnvRequestTimeout, 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = getDuration(EnvProbeInterval, 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.StartOnline, err = getBool(EnvStartOnline, false); err != nil {
		return nil, err
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("%s must be at least 1", EnvSyncMaxAttempts)
	}
	if cfg.BaseDelay > cfg.MaxDelay {
		return nil, fmt.Errorf("%s (%s) exceeds %s (%s)", EnvSyncBaseDelay, cfg.BaseDelay, EnvSyncMaxDelay, cfg.MaxDelay)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
