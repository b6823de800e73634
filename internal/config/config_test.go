package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		DatabaseDriver:      "mysql",
		DatabaseDSN:         "user:pass@tcp(localhost:3306)/aml",
		BlacklistBackend:    BackendSQL,
		LedgerAuthMode:      AuthModeQuery,
		LedgerAPIKey:        "key",
		LedgerPageSize:      100,
		LedgerMaxPages:      3,
		LedgerRetryAttempts: 5,
		DefaultMaxDepth:     2,
		DefaultMaxNodes:     50,
		MaxDepthLimit:       5,
		MaxNodesLimit:       500,
		LevelMediumMin:      25,
		LevelHighMin:        50,
		LevelCriticalMin:    80,
		MixerMinSplits:      5,
		AlertMode:           "log",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"memory backend needs no dsn", func(c *Config) { c.BlacklistBackend = BackendMemory; c.DatabaseDSN = "" }, ""},
		{"sql backend needs dsn", func(c *Config) { c.DatabaseDSN = "" }, "DATABASE_DSN"},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "oracle" }, "DATABASE_DRIVER"},
		{"unknown backend", func(c *Config) { c.BlacklistBackend = "etcd" }, "BLACKLIST_BACKEND"},
		{"query auth needs key", func(c *Config) { c.LedgerAPIKey = "" }, "LEDGER_API_KEY"},
		{"bearer needs token", func(c *Config) { c.LedgerAuthMode = AuthModeBearer }, "LEDGER_BEARER_TOKEN"},
		{"bad auth mode", func(c *Config) { c.LedgerAuthMode = "oauth" }, "LEDGER_AUTH_MODE"},
		{"depth over cap", func(c *Config) { c.DefaultMaxDepth = 9 }, "DEFAULT_MAX_DEPTH"},
		{"zero nodes", func(c *Config) { c.DefaultMaxNodes = 0 }, "DEFAULT_MAX_NODES"},
		{"thresholds out of order", func(c *Config) { c.LevelHighMin = 90 }, "strictly increasing"},
		{"discord without webhook", func(c *Config) { c.AlertMode = "log,discord" }, "DISCORD_WEBHOOK_URLS"},
		{"kafka without brokers", func(c *Config) { c.AlertMode = "kafka" }, "KAFKA_BROKERS"},
		{"unknown alert mode", func(c *Config) { c.AlertMode = "pager" }, "invalid ALERT_MODE"},
		{"smtp without recipients", func(c *Config) {
			c.AlertMode = "smtp"
			c.SMTPHost = "smtp.example.com"
			c.SMTPFrom = "aml@example.com"
		}, "SMTP_TO"},
		{"smtp configured", func(c *Config) {
			c.AlertMode = "log,smtp"
			c.SMTPHost = "smtp.example.com"
			c.SMTPFrom = "aml@example.com"
			c.SMTPTo = []string{"ops@example.com"}
		}, ""},
		{"discord with webhook", func(c *Config) {
			c.AlertMode = "discord"
			c.DiscordWebhookURLs = []string{"https://discord.example/hook"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BLACKLIST_BACKEND", "memory")
	t.Setenv("LEDGER_API_KEY", "secret")
	t.Setenv("DEFAULT_TIME_BUDGET", "7s")
	t.Setenv("TELEGRAM_ADMIN_IDS", "42, 1001")
	t.Setenv("KAFKA_BROKERS", " k1:9092 ,k2:9092,")
	t.Setenv("LEDGER_EXTRA_HEADERS", `{"X-Client":"amlwatch"}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultTimeBudget != 7*time.Second {
		t.Errorf("DefaultTimeBudget = %v", cfg.DefaultTimeBudget)
	}
	if len(cfg.TelegramAdminIDs) != 2 || cfg.TelegramAdminIDs[1] != 1001 {
		t.Errorf("TelegramAdminIDs = %v", cfg.TelegramAdminIDs)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.LedgerExtraHeaders["X-Client"] != "amlwatch" {
		t.Errorf("LedgerExtraHeaders = %v", cfg.LedgerExtraHeaders)
	}
	if cfg.BaseProximityWeight != 40 {
		t.Errorf("BaseProximityWeight default = %v", cfg.BaseProximityWeight)
	}
}

func TestLoadRejectsBadAdminIDs(t *testing.T) {
	t.Setenv("BLACKLIST_BACKEND", "memory")
	t.Setenv("LEDGER_API_KEY", "secret")
	t.Setenv("TELEGRAM_ADMIN_IDS", "abc")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric admin id")
	}
}
