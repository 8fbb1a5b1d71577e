package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogStream names the structured-log sink lifecycle events are sent to.
	LogStream string `mapstructure:"LOG_STREAM"`
	MLLPAddr  string `mapstructure:"MLLP_ADDR"`
	JWTSecret string `mapstructure:"JWT_SECRET"`

	Dialect          string `mapstructure:"DIALECT"`
	InlineDocuments  bool   `mapstructure:"INLINE_DOCUMENTS"`
	ParseConcurrency int    `mapstructure:"PARSE_CONCURRENCY"`
	EnvelopeElement  string `mapstructure:"ENVELOPE_ELEMENT"`
	EnvelopeIDAttr   string `mapstructure:"ENVELOPE_ID_ATTR"`

	InboxDir     string `mapstructure:"INBOX_DIR"`
	ProcessedDir string `mapstructure:"PROCESSED_DIR"`
	PollSchedule string `mapstructure:"POLL_SCHEDULE"`

	BlobDriver  string        `mapstructure:"BLOB_DRIVER"`
	S3Bucket    string        `mapstructure:"S3_BUCKET"`
	S3Region    string        `mapstructure:"S3_REGION"`
	S3Endpoint  string        `mapstructure:"S3_ENDPOINT"`
	S3PathStyle bool          `mapstructure:"S3_PATH_STYLE"`
	PresignTTL  time.Duration `mapstructure:"PRESIGN_TTL"`

	CallbackURL        string `mapstructure:"CALLBACK_URL"`
	CallbackSecret     string `mapstructure:"CALLBACK_SECRET"`
	CallbackMaxRetries int    `mapstructure:"CALLBACK_MAX_RETRIES"`

	LedgerDriver string `mapstructure:"LEDGER_DRIVER"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32  `mapstructure:"DB_MIN_CONNS"`
	SQLitePath   string `mapstructure:"SQLITE_PATH"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_STREAM", "MLLP_ADDR", "JWT_SECRET",
	"DIALECT", "INLINE_DOCUMENTS", "PARSE_CONCURRENCY", "ENVELOPE_ELEMENT", "ENVELOPE_ID_ATTR",
	"INBOX_DIR", "PROCESSED_DIR", "POLL_SCHEDULE",
	"BLOB_DRIVER", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE", "PRESIGN_TTL",
	"CALLBACK_URL", "CALLBACK_SECRET", "CALLBACK_MAX_RETRIES",
	"LEDGER_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SQLITE_PATH",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_STREAM", "hl7-ingest")
	v.SetDefault("DIALECT", "auto")
	v.SetDefault("INLINE_DOCUMENTS", false)
	v.SetDefault("PARSE_CONCURRENCY", 8)
	v.SetDefault("ENVELOPE_ELEMENT", "Message")
	v.SetDefault("ENVELOPE_ID_ATTR", "id")
	v.SetDefault("INBOX_DIR", "./inbox")
	v.SetDefault("PROCESSED_DIR", "./processed")
	v.SetDefault("POLL_SCHEDULE", "@every 5m")
	v.SetDefault("BLOB_DRIVER", "memory")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("PRESIGN_TTL", "15m")
	v.SetDefault("CALLBACK_MAX_RETRIES", 3)
	v.SetDefault("LEDGER_DRIVER", "memory")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SQLITE_PATH", "hl7ingest.db")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.BlobDriver = strings.ToLower(cfg.BlobDriver)
	cfg.LedgerDriver = strings.ToLower(cfg.LedgerDriver)

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: ENV=development and JWT_SECRET is empty; the HTTP API accepts unauthenticated requests.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the selected drivers have what they need. In
// production JWT_SECRET is required so the HTTP API is never left open.
func (c *Config) Validate() error {
	switch c.BlobDriver {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be \"memory\" or \"s3\", got %q", c.BlobDriver)
	}

	switch c.LedgerDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_DRIVER is \"postgres\"")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when LEDGER_DRIVER is \"sqlite\"")
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be \"memory\", \"postgres\", or \"sqlite\", got %q", c.LedgerDriver)
	}

	switch strings.ToLower(c.Dialect) {
	case "", "auto", "generic", "emr", "ontario":
	default:
		return fmt.Errorf("DIALECT must be \"auto\", \"generic\", or \"emr\", got %q", c.Dialect)
	}

	if c.ParseConcurrency < 1 {
		return fmt.Errorf("PARSE_CONCURRENCY must be at least 1, got %d", c.ParseConcurrency)
	}
	if c.CallbackMaxRetries < 0 {
		return fmt.Errorf("CALLBACK_MAX_RETRIES must not be negative, got %d", c.CallbackMaxRetries)
	}
	if c.PresignTTL <= 0 {
		return fmt.Errorf("PRESIGN_TTL must be positive, got %s", c.PresignTTL)
	}
	if _, err := cron.ParseStandard(c.PollSchedule); err != nil {
		return fmt.Errorf("POLL_SCHEDULE %q is invalid: %w", c.PollSchedule, err)
	}
	if c.EnvelopeElement == "" || c.EnvelopeIDAttr == "" {
		return fmt.Errorf("ENVELOPE_ELEMENT and ENVELOPE_ID_ATTR must not be empty")
	}

	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}
