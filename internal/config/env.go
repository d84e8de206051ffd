package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
	MinLevel      string
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr               string
	MaxUploadMB        int64
	MaxInflightUploads int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
}

// PreviewConfig tunes preview sessions.
type PreviewConfig struct {
	Breakpoint     float64
	ResizeDebounce time.Duration
	SuppressWindow time.Duration
	SessionIdle    time.Duration
	SweepInterval  time.Duration
	JPEGQuality    int
	Grayscale      bool
}

// StorageConfig defines where uploads live and how remote documents are fetched.
type StorageConfig struct {
	SpoolDir        string
	TempDir         string
	TempMaxAge      time.Duration
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKeyID   string
	S3SecretKey     string
	S3UsePathStyle  bool
	FetchTimeout    time.Duration
	FetchBackoff    time.Duration
	FetchMaxBackoff time.Duration
}

// RedisConfig defines Redis connectivity and the job stream.
type RedisConfig struct {
	URL       string
	JobStream string
}

// QuotaConfig holds the monthly allowance.
type QuotaConfig struct {
	DefaultLimit int
	// Overrides maps user ids to their own monthly limit, from
	// QUOTA_OVERRIDES="alice=500,bob=50".
	Overrides map[string]int
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Server  ServerConfig
	Preview PreviewConfig
	Storage StorageConfig
	Redis   RedisConfig
	Quota   QuotaConfig
}

// Load reads optional .env files into the environment, then calls FromEnv.
// Variables already set in the environment win.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/printpreview.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_printpreview",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
		MinLevel:      getEnv("AXIOM_MIN_LEVEL", "info"),
	}

	cfg.Server = ServerConfig{
		Addr:               getEnv("HTTP_ADDR", ":8080"),
		MaxUploadMB:        int64(parseInt(getEnv("MAX_UPLOAD_MB", "50"), 50)),
		MaxInflightUploads: parseInt(getEnv("MAX_INFLIGHT_UPLOADS", "2"), 2),
		ReadTimeout:        parseDuration(getEnv("HTTP_READ_TIMEOUT", "60s"), 60*time.Second),
		WriteTimeout:       parseDuration(getEnv("HTTP_WRITE_TIMEOUT", "60s"), 60*time.Second),
		ShutdownTimeout:    parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	cfg.Preview = PreviewConfig{
		Breakpoint:     parseFloat(getEnv("PREVIEW_BREAKPOINT", "980"), 980),
		ResizeDebounce: parseDuration(getEnv("PREVIEW_RESIZE_DEBOUNCE", "120ms"), 120*time.Millisecond),
		SuppressWindow: parseDuration(getEnv("PREVIEW_SCROLL_SUPPRESS", "600ms"), 600*time.Millisecond),
		SessionIdle:    parseDuration(getEnv("PREVIEW_SESSION_IDLE", "30m"), 30*time.Minute),
		SweepInterval:  parseDuration(getEnv("PREVIEW_SWEEP_INTERVAL", "1m"), time.Minute),
		JPEGQuality:    parseInt(getEnv("PREVIEW_JPEG_QUALITY", "80"), 80),
		Grayscale:      parseBool(getEnv("PREVIEW_GRAYSCALE", "false")),
	}

	cfg.Storage = StorageConfig{
		SpoolDir:        getEnv("SPOOL_DIR", "spool"),
		TempDir:         getEnv("TEMP_DIR", ""),
		TempMaxAge:      parseDuration(getEnv("TEMP_MAX_AGE", "1h"), time.Hour),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnv("AWS_REGION", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:   getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:  parseBool(getEnv("S3_USE_PATH_STYLE", "false")),
		FetchTimeout:    parseDuration(getEnv("FETCH_TIMEOUT", "60s"), 60*time.Second),
		FetchBackoff:    parseDuration(getEnv("FETCH_BACKOFF", "30s"), 30*time.Second),
		FetchMaxBackoff: parseDuration(getEnv("FETCH_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Redis = RedisConfig{
		URL:       getEnv("REDIS_URL", "redis://localhost:6379"),
		JobStream: getEnv("JOB_STREAM", "print:jobs"),
	}

	cfg.Quota = QuotaConfig{
		DefaultLimit: parseInt(getEnv("QUOTA_DEFAULT_LIMIT", "100"), 100),
		Overrides:    parseLimits(getEnv("QUOTA_OVERRIDES", "")),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// parseLimits reads "user=n" pairs separated by commas. Malformed pairs are skipped.
func parseLimits(s string) map[string]int {
	out := map[string]int{}
	for _, pair := range strings.Split(s, ",") {
		user, n, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || strings.TrimSpace(user) == "" {
			continue
		}
		limit, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(user)] = limit
	}
	return out
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
