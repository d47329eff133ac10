package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the platform.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Mail      MailConfig      `yaml:"mail"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Retention RetentionConfig `yaml:"retention"`
	Export    ExportConfig    `yaml:"export"`
	Campaign  CampaignConfig  `yaml:"campaign"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed when
	// keying per-client tracking limits. Empty means the socket address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	host := c.Host
	if h := os.Getenv("SERVER_HOST"); h != "" {
		host = h
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// DatabaseConfig holds the Postgres connection and pool settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig points at the shared counter/lock/queue store. Empty URL
// means single-instance mode with in-process counters.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MailConfig configures the outbound mail capability.
type MailConfig struct {
	Provider       string  `yaml:"provider"` // "ses" or "log"
	Region         string  `yaml:"region"`
	AccessKey      string  `yaml:"access_key"`
	SecretKey      string  `yaml:"secret_key"`
	DefaultSender  string  `yaml:"default_sender"`
	SenderName     string  `yaml:"sender_name"`
	Company        string  `yaml:"company"`
	MaxSendRate    float64 `yaml:"max_send_rate"` // provider messages/second
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TriggerLimit is a per-client budget for one tracking trigger.
type TriggerLimit struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the budget window as a duration.
func (l TriggerLimit) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// TrackingConfig holds the public tracking endpoint settings.
type TrackingConfig struct {
	BaseURL string       `yaml:"base_url"`
	Open    TriggerLimit `yaml:"open"`
	Click   TriggerLimit `yaml:"click"`
	Submit  TriggerLimit `yaml:"submit"`
}

// DispatchConfig holds bulk sending settings.
type DispatchConfig struct {
	MaxEmailsPerHour int    `yaml:"max_emails_per_hour"`
	Workers          int    `yaml:"workers"`
	Queue            string `yaml:"queue"` // "memory", "redis" or "sqs"
	SQSQueueURL      string `yaml:"sqs_queue_url"`
	LockTTLSeconds   int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the per-campaign lock TTL.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// RetentionConfig controls the event purge worker.
type RetentionConfig struct {
	Days            int `yaml:"days"`
	IntervalMinutes int `yaml:"interval_minutes"`
}

// Interval returns the purge interval.
func (c RetentionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ExportConfig controls result exports.
type ExportConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	S3Prefix string `yaml:"s3_prefix"`
}

// CampaignConfig holds campaign-level policy.
type CampaignConfig struct {
	ConsentRequired bool `yaml:"consent_required"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Campaign: CampaignConfig{ConsentRequired: true}}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file. A missing file yields the
// defaults so containers can run from environment variables alone.
func Load(path string) (*Config, error) {
	cfg := &Config{Campaign: CampaignConfig{ConsentRequired: true}}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "log"
	}
	if cfg.Mail.Region == "" {
		cfg.Mail.Region = "us-east-1"
	}
	if cfg.Mail.SenderName == "" {
		cfg.Mail.SenderName = "IT Security Team"
	}
	if cfg.Mail.Company == "" {
		cfg.Mail.Company = "Your Company"
	}
	if cfg.Mail.MaxSendRate == 0 {
		cfg.Mail.MaxSendRate = 10
	}
	if cfg.Mail.TimeoutSeconds == 0 {
		cfg.Mail.TimeoutSeconds = 30
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "http://localhost:5000"
	}
	cfg.Tracking.BaseURL = strings.TrimRight(cfg.Tracking.BaseURL, "/")
	if cfg.Tracking.Open.Limit == 0 {
		cfg.Tracking.Open = TriggerLimit{Limit: 30, WindowSeconds: 60}
	}
	if cfg.Tracking.Click.Limit == 0 {
		cfg.Tracking.Click = TriggerLimit{Limit: 20, WindowSeconds: 60}
	}
	if cfg.Tracking.Submit.Limit == 0 {
		cfg.Tracking.Submit = TriggerLimit{Limit: 10, WindowSeconds: 300}
	}
	for _, l := range []*TriggerLimit{&cfg.Tracking.Open, &cfg.Tracking.Click, &cfg.Tracking.Submit} {
		if l.WindowSeconds == 0 {
			l.WindowSeconds = 60
		}
	}
	if cfg.Dispatch.MaxEmailsPerHour == 0 {
		cfg.Dispatch.MaxEmailsPerHour = 100
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.Queue == "" {
		cfg.Dispatch.Queue = "memory"
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 600
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}
	if cfg.Retention.IntervalMinutes == 0 {
		cfg.Retention.IntervalMinutes = 60
	}
	if cfg.Export.S3Prefix == "" {
		cfg.Export.S3Prefix = "exports/"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		cfg.Mail.Provider = v
	}
	if v := os.Getenv("MAIL_DEFAULT_SENDER"); v != "" {
		cfg.Mail.DefaultSender = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mail.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mail.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mail.Region = v
	}
	if v := os.Getenv("MAX_EMAILS_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.MaxEmailsPerHour = n
		}
	}
	if v := os.Getenv("DISPATCH_QUEUE"); v != "" {
		cfg.Dispatch.Queue = v
	}
	if v := os.Getenv("SQS_DISPATCH_QUEUE_URL"); v != "" {
		cfg.Dispatch.SQSQueueURL = v
	}
	if v := os.Getenv("CAMPAIGN_CONSENT_REQUIRED"); v != "" {
		cfg.Campaign.ConsentRequired = parseBool(v)
	}
	if v := os.Getenv("DATA_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retention.Days = n
		}
	}
	if v := os.Getenv("EXPORT_S3_BUCKET"); v != "" {
		cfg.Export.S3Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}
