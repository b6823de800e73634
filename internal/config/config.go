package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liamashdown/amlwatch/internal/secrets"
)

// AuthMode represents how requests to the ledger API are authenticated
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeBearer AuthMode = "bearer"
	AuthModeAPIKey AuthMode = "api_key" // X-API-KEY header
	AuthModeQuery  AuthMode = "query"   // apikey query parameter (Etherscan)
)

// Blacklist persistence backends
const (
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Database
	DatabaseDriver      string // mysql, postgres
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Blacklist
	BlacklistBackend  string
	BlacklistSeedFile string

	// Redis
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Ledger API
	LedgerAPIBaseURL     string
	LedgerChainID        int
	LedgerAuthMode       AuthMode
	LedgerAPIKey         string
	LedgerBearerToken    string
	LedgerExtraHeaders   map[string]string
	LedgerPageSize       int
	LedgerMaxPages       int
	LedgerRequestTimeout time.Duration
	LedgerRPS            float64
	LedgerBurst          int
	LedgerRetryAttempts  int
	LedgerRetryBaseDelay time.Duration
	LedgerRetryMaxDelay  time.Duration
	LedgerRetryJitter    time.Duration

	// Traversal defaults and hard caps
	DefaultMaxDepth   int
	DefaultMaxNodes   int
	DefaultTimeBudget time.Duration
	MaxDepthLimit     int
	MaxNodesLimit     int
	AnalysisTimeout   time.Duration
	CacheTTL          time.Duration

	// Scoring policy
	DirectHitWeight     float64
	BaseProximityWeight float64
	VolumeMultiplier    float64
	VolumeWindow        time.Duration
	VolumeWeight        float64
	FanOutThreshold     int
	FanOutWindow        time.Duration
	FanOutWeight        float64
	MixerMinSplits      int
	MixerTolerance      float64
	MixerWindow         time.Duration
	MixerWeight         float64
	LevelMediumMin      float64
	LevelHighMin        float64
	LevelCriticalMin    float64

	// Alerts
	AlertMode          string // log, discord, kafka, smtp (comma-separated)
	AlertMinLevel      string
	DiscordWebhookURLs []string
	KafkaBrokers       []string
	KafkaTopic         string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	SMTPFrom           string
	SMTPTo             []string

	// Telegram
	TelegramToken    string
	TelegramAdminIDs []int64
	TelegramDebug    bool

	// HTTP (API + health + metrics)
	HTTPPort int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment:          getEnv("ENVIRONMENT", "production"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DatabaseDriver:       getEnv("DATABASE_DRIVER", "mysql"),
		DatabaseDSN:          getEnv("DATABASE_DSN", "amlwatch:amlwatch@tcp(mysql:3306)/amlwatch?parseTime=true"),
		DatabaseMaxConns:     getEnvInt("DATABASE_MAX_CONNS", 10),
		DatabaseMaxIdleTime:  time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		BlacklistBackend:     getEnv("BLACKLIST_BACKEND", BackendSQL),
		BlacklistSeedFile:    getEnv("BLACKLIST_SEED_FILE", ""),
		RedisAddr:            getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:        secrets.GetOptionalSecret("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix:       getEnv("REDIS_KEY_PREFIX", "amlwatch:blacklist"),
		LedgerAPIBaseURL:     getEnv("LEDGER_API_BASE_URL", "https://api.etherscan.io/v2/api"),
		LedgerChainID:        getEnvInt("LEDGER_CHAIN_ID", 1),
		LedgerAuthMode:       AuthMode(getEnv("LEDGER_AUTH_MODE", string(AuthModeQuery))),
		LedgerAPIKey:         secrets.GetOptionalSecret("LEDGER_API_KEY", ""),
		LedgerBearerToken:    secrets.GetOptionalSecret("LEDGER_BEARER_TOKEN", ""),
		LedgerPageSize:       getEnvInt("LEDGER_PAGE_SIZE", 100),
		LedgerMaxPages:       getEnvInt("LEDGER_MAX_PAGES", 3),
		LedgerRequestTimeout: getEnvDuration("LEDGER_REQUEST_TIMEOUT", 15*time.Second),
		LedgerRPS:            getEnvFloat("LEDGER_RPS", 5.0),
		LedgerBurst:          getEnvInt("LEDGER_BURST", 5),
		LedgerRetryAttempts:  getEnvInt("LEDGER_RETRY_ATTEMPTS", 5),
		LedgerRetryBaseDelay: getEnvDuration("LEDGER_RETRY_BASE_DELAY", 250*time.Millisecond),
		LedgerRetryMaxDelay:  getEnvDuration("LEDGER_RETRY_MAX_DELAY", 5*time.Second),
		LedgerRetryJitter:    getEnvDuration("LEDGER_RETRY_JITTER", 250*time.Millisecond),
		DefaultMaxDepth:      getEnvInt("DEFAULT_MAX_DEPTH", 2),
		DefaultMaxNodes:      getEnvInt("DEFAULT_MAX_NODES", 50),
		DefaultTimeBudget:    getEnvDuration("DEFAULT_TIME_BUDGET", 20*time.Second),
		MaxDepthLimit:        getEnvInt("MAX_DEPTH_LIMIT", 5),
		MaxNodesLimit:        getEnvInt("MAX_NODES_LIMIT", 500),
		AnalysisTimeout:      getEnvDuration("ANALYSIS_TIMEOUT", 45*time.Second),
		CacheTTL:             getEnvDuration("CACHE_TTL", 10*time.Minute),
		DirectHitWeight:      getEnvFloat("SCORE_DIRECT_HIT_WEIGHT", 100),
		BaseProximityWeight:  getEnvFloat("SCORE_PROXIMITY_WEIGHT", 40),
		VolumeMultiplier:     getEnvFloat("SCORE_VOLUME_MULTIPLIER", 10),
		VolumeWindow:         getEnvDuration("SCORE_VOLUME_WINDOW", 24*time.Hour),
		VolumeWeight:         getEnvFloat("SCORE_VOLUME_WEIGHT", 20),
		FanOutThreshold:      getEnvInt("SCORE_FANOUT_THRESHOLD", 20),
		FanOutWindow:         getEnvDuration("SCORE_FANOUT_WINDOW", time.Hour),
		FanOutWeight:         getEnvFloat("SCORE_FANOUT_WEIGHT", 15),
		MixerMinSplits:       getEnvInt("SCORE_MIXER_MIN_SPLITS", 5),
		MixerTolerance:       getEnvFloat("SCORE_MIXER_TOLERANCE", 0.01),
		MixerWindow:          getEnvDuration("SCORE_MIXER_WINDOW", time.Hour),
		MixerWeight:          getEnvFloat("SCORE_MIXER_WEIGHT", 30),
		LevelMediumMin:       getEnvFloat("LEVEL_MEDIUM_MIN", 25),
		LevelHighMin:         getEnvFloat("LEVEL_HIGH_MIN", 50),
		LevelCriticalMin:     getEnvFloat("LEVEL_CRITICAL_MIN", 80),
		AlertMode:            getEnv("ALERT_MODE", "log"),
		AlertMinLevel:        getEnv("ALERT_MIN_LEVEL", "High"),
		KafkaBrokers:         parseCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "amlwatch.reports"),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnvInt("SMTP_PORT", 587),
		SMTPUser:             getEnv("SMTP_USER", ""),
		SMTPPassword:         secrets.GetOptionalSecret("SMTP_PASSWORD", ""),
		SMTPFrom:             getEnv("SMTP_FROM", ""),
		SMTPTo:               parseCSV(getEnv("SMTP_TO", "")),
		TelegramToken:        secrets.GetOptionalSecret("TELEGRAM_TOKEN", ""),
		TelegramDebug:        getEnv("TELEGRAM_DEBUG", "false") == "true",
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
	}

	// Multiple webhooks may be configured, comma-separated
	cfg.DiscordWebhookURLs = parseCSV(secrets.GetOptionalSecret("DISCORD_WEBHOOK_URLS", ""))

	adminIDs, err := parseInt64CSV(getEnv("TELEGRAM_ADMIN_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ADMIN_IDS: %w", err)
	}
	cfg.TelegramAdminIDs = adminIDs

	extraHeadersJSON := getEnv("LEDGER_EXTRA_HEADERS", "{}")
	if err := json.Unmarshal([]byte(extraHeadersJSON), &cfg.LedgerExtraHeaders); err != nil {
		return nil, fmt.Errorf("invalid LEDGER_EXTRA_HEADERS JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	switch c.BlacklistBackend {
	case BackendSQL:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required when BLACKLIST_BACKEND is sql")
		}
		if c.DatabaseDriver != "mysql" && c.DatabaseDriver != "postgres" {
			return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be mysql or postgres)", c.DatabaseDriver)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when BLACKLIST_BACKEND is redis")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid BLACKLIST_BACKEND: %s (must be sql, redis, or memory)", c.BlacklistBackend)
	}

	switch c.LedgerAuthMode {
	case AuthModeNone:
	case AuthModeBearer:
		if c.LedgerBearerToken == "" {
			return fmt.Errorf("LEDGER_BEARER_TOKEN is required when LEDGER_AUTH_MODE is bearer")
		}
	case AuthModeAPIKey, AuthModeQuery:
		if c.LedgerAPIKey == "" {
			return fmt.Errorf("LEDGER_API_KEY is required when LEDGER_AUTH_MODE is %s", c.LedgerAuthMode)
		}
	default:
		return fmt.Errorf("invalid LEDGER_AUTH_MODE: %s (must be none, bearer, api_key, or query)", c.LedgerAuthMode)
	}

	if c.LedgerPageSize <= 0 || c.LedgerMaxPages <= 0 {
		return fmt.Errorf("LEDGER_PAGE_SIZE and LEDGER_MAX_PAGES must be positive")
	}
	if c.LedgerRetryAttempts <= 0 {
		return fmt.Errorf("LEDGER_RETRY_ATTEMPTS must be positive")
	}

	if c.DefaultMaxDepth < 0 || c.DefaultMaxDepth > c.MaxDepthLimit {
		return fmt.Errorf("DEFAULT_MAX_DEPTH must be between 0 and MAX_DEPTH_LIMIT (%d)", c.MaxDepthLimit)
	}
	if c.DefaultMaxNodes <= 0 || c.DefaultMaxNodes > c.MaxNodesLimit {
		return fmt.Errorf("DEFAULT_MAX_NODES must be between 1 and MAX_NODES_LIMIT (%d)", c.MaxNodesLimit)
	}

	if !(c.LevelMediumMin < c.LevelHighMin && c.LevelHighMin < c.LevelCriticalMin) {
		return fmt.Errorf("risk level thresholds must be strictly increasing (medium < high < critical)")
	}
	if c.MixerMinSplits < 2 {
		return fmt.Errorf("SCORE_MIXER_MIN_SPLITS must be at least 2")
	}

	for _, mode := range parseCSV(c.AlertMode) {
		switch mode {
		case "log":
		case "discord":
			if len(c.DiscordWebhookURLs) == 0 {
				return fmt.Errorf("DISCORD_WEBHOOK_URLS is required when discord is in ALERT_MODE")
			}
		case "kafka":
			if len(c.KafkaBrokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is required when kafka is in ALERT_MODE")
			}
		case "smtp":
			if c.SMTPHost == "" || c.SMTPFrom == "" || len(c.SMTPTo) == 0 {
				return fmt.Errorf("SMTP_HOST, SMTP_FROM and SMTP_TO are required when smtp is in ALERT_MODE")
			}
		default:
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, discord, kafka, smtp)", mode)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseInt64CSV(s string) ([]int64, error) {
	var result []int64
	for _, item := range parseCSV(s) {
		v, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", item, err)
		}
		result = append(result, v)
	}
	return result, nil
}
