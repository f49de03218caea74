package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth (Google)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// OAuth (Microsoft)。ClientIDが空の場合は無効
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string

	// Retry
	RetryMax       int
	RetryBaseDelay time.Duration

	// CalDAV
	CalDAVServerURL string
	CalDAVTimeout   time.Duration

	// Session
	SessionTTL         time.Duration
	SessionWatchPeriod time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral    int
	RateLimitCredential int

	// Telemetry
	TelemetryRetention time.Duration
	TelemetryBuffer    int

	// Worker
	CleanupInterval time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// EventsClient はeventsサブコマンドがイベントAPIへ接続するための設定。
// サーバー用の必須環境変数を要求しない。
type EventsClient struct {
	APIURL         string
	Timeout        time.Duration
	RetryMax       int
	RetryBaseDelay time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MicrosoftClientID = getEnvString("MICROSOFT_CLIENT_ID", "")
	cfg.MicrosoftClientSecret = getEnvString("MICROSOFT_CLIENT_SECRET", "")
	cfg.MicrosoftRedirectURL = getEnvString("MICROSOFT_REDIRECT_URL", "")
	cfg.RetryMax = getEnvInt("RETRY_MAX", 3)
	cfg.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", time.Second)
	cfg.CalDAVServerURL = getEnvString("CALDAV_SERVER_URL", "https://caldav.icloud.com")
	cfg.CalDAVTimeout = getEnvDuration("CALDAV_TIMEOUT", 10*time.Second)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.SessionWatchPeriod = getEnvDuration("SESSION_WATCH_INTERVAL", 2*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCredential = getEnvInt("RATE_LIMIT_CREDENTIAL", 5)
	cfg.TelemetryRetention = getEnvDuration("TELEMETRY_RETENTION", 30*24*time.Hour)
	cfg.TelemetryBuffer = getEnvInt("TELEMETRY_BUFFER", 256)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// LoadEventsClient は環境変数からEventsClientを読み込む。
func LoadEventsClient() EventsClient {
	return EventsClient{
		APIURL:         getEnvString("EVENTS_API_URL", "http://localhost:"+getEnvString("SERVER_PORT", "8080")),
		Timeout:        getEnvDuration("EVENTS_API_TIMEOUT", 10*time.Second),
		RetryMax:       getEnvInt("RETRY_MAX", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", time.Second),
	}
}

// MicrosoftEnabled はMicrosoftアカウント連携が設定されているかを返す。
func (c *Config) MicrosoftEnabled() bool {
	return c.MicrosoftClientID != "" && c.MicrosoftClientSecret != "" && c.MicrosoftRedirectURL != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
