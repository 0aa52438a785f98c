// Package config loads the provisioner configuration using Viper.
//
// Configuration is layered: built-in defaults < environment file < process
// environment. The environment file is a plain KEY=VALUE file (the same
// format the hosted platform's dashboard exports), parsed by Viper's env
// codec. Process variables use the same names with no prefix so a CI job can
// inject SUPABASE_SERVICE_ROLE_KEY as a secret without writing a file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SQL execution modes
const (
	ModeSQL    = "sql"
	ModeRPC    = "rpc"
	ModeDirect = "direct"
)

// Environment keys read from the env file
const (
	KeyPlatformURL    = "SUPABASE_URL"
	KeyServiceRoleKey = "SUPABASE_SERVICE_ROLE_KEY"
	KeyAnonKey        = "SUPABASE_ANON_KEY"
	KeyHTTPTimeout    = "HTTP_TIMEOUT"

	KeySQLFile     = "PROVISION_SQL_FILE"
	KeySQLSHA256   = "PROVISION_SQL_SHA256"
	KeySchema      = "PROVISION_SCHEMA"
	KeyTable       = "PROVISION_TABLE"
	KeySQLMode     = "PROVISION_SQL_MODE"
	KeyRPCFunction = "PROVISION_RPC_FUNCTION"

	KeyDatabaseURL = "DATABASE_URL"

	KeyLogLevel  = "LOG_LEVEL"
	KeyLogFormat = "LOG_FORMAT"

	KeyReportFile           = "REPORT_FILE"
	KeyReportWebhookURL     = "REPORT_WEBHOOK_URL"
	KeyReportWebhookTimeout = "REPORT_WEBHOOK_TIMEOUT"

	KeyPushgatewayURL = "METRICS_PUSHGATEWAY_URL"
	KeyMetricsJob     = "METRICS_JOB"
)

// ErrMissingRequired is returned when a required key is absent or empty.
var ErrMissingRequired = errors.New("required configuration missing")

// Config holds all application configuration
type Config struct {
	Platform  PlatformConfig
	Provision ProvisionConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Report    ReportConfig
	Metrics   MetricsConfig
}

// PlatformConfig holds the hosted platform's REST gateway settings
type PlatformConfig struct {
	URL        string
	ServiceKey string
	AnonKey    string
	Timeout    time.Duration
}

// ProvisionConfig describes what gets provisioned and how the SQL is sent
type ProvisionConfig struct {
	SQLFile     string
	SQLSHA256   string
	Schema      string
	Table       string
	Mode        string
	RPCFunction string
}

// DatabaseConfig holds the direct PostgreSQL connection used in direct mode
type DatabaseConfig struct {
	URL string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// ReportConfig configures where per-step run reports are shipped
type ReportConfig struct {
	File           string
	WebhookURL     string
	WebhookTimeout time.Duration
}

// MetricsConfig holds Prometheus Pushgateway settings
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

// Load reads the environment file at path, overlays the process environment
// and validates the result. A missing file is an error: the file is the
// documented source of the service key.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading env file %s: %w", path, err)
	}

	v.AutomaticEnv()

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPTimeout, "30s")

	v.SetDefault(KeySQLFile, "create-activity-logs-table.sql")
	v.SetDefault(KeySchema, "public")
	v.SetDefault(KeyTable, "activity_logs")
	v.SetDefault(KeySQLMode, ModeSQL)
	v.SetDefault(KeyRPCFunction, "exec_sql")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	v.SetDefault(KeyReportWebhookTimeout, "10s")

	v.SetDefault(KeyMetricsJob, "activity_logs_provisioner")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var missing []string
	required := func(key string) string {
		val := strings.TrimSpace(v.GetString(key))
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	cfg := &Config{
		Platform: PlatformConfig{
			URL:        strings.TrimRight(required(KeyPlatformURL), "/"),
			ServiceKey: required(KeyServiceRoleKey),
			AnonKey:    v.GetString(KeyAnonKey),
		},
		Provision: ProvisionConfig{
			SQLFile:     v.GetString(KeySQLFile),
			SQLSHA256:   strings.ToLower(strings.TrimSpace(v.GetString(KeySQLSHA256))),
			Schema:      v.GetString(KeySchema),
			Table:       v.GetString(KeyTable),
			Mode:        strings.ToLower(v.GetString(KeySQLMode)),
			RPCFunction: v.GetString(KeyRPCFunction),
		},
		Database: DatabaseConfig{
			URL: os.ExpandEnv(v.GetString(KeyDatabaseURL)),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.GetString(KeyLogLevel)),
			Format: strings.ToLower(v.GetString(KeyLogFormat)),
		},
		Report: ReportConfig{
			File:       v.GetString(KeyReportFile),
			WebhookURL: v.GetString(KeyReportWebhookURL),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString(KeyPushgatewayURL),
			Job:            v.GetString(KeyMetricsJob),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	var err error
	if cfg.Platform.Timeout, err = parseDuration(v, KeyHTTPTimeout); err != nil {
		return nil, err
	}
	if cfg.Report.WebhookTimeout, err = parseDuration(v, KeyReportWebhookTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validateHTTPURL(KeyPlatformURL, c.Platform.URL); err != nil {
		return err
	}
	if c.Platform.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyHTTPTimeout)
	}

	if c.Provision.SQLFile == "" {
		return fmt.Errorf("%s is required", KeySQLFile)
	}
	if c.Provision.Table == "" {
		return fmt.Errorf("%s is required", KeyTable)
	}
	if c.Provision.Schema == "" {
		return fmt.Errorf("%s is required", KeySchema)
	}

	switch c.Provision.Mode {
	case ModeSQL:
	case ModeRPC:
		if c.Provision.RPCFunction == "" {
			return fmt.Errorf("%s is required when %s=%s", KeyRPCFunction, KeySQLMode, ModeRPC)
		}
	case ModeDirect:
		if c.Database.URL == "" {
			return fmt.Errorf("%s is required when %s=%s", KeyDatabaseURL, KeySQLMode, ModeDirect)
		}
	default:
		return fmt.Errorf("invalid %s: %s (must be sql, rpc, or direct)", KeySQLMode, c.Provision.Mode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Report.WebhookURL != "" {
		if err := validateHTTPURL(KeyReportWebhookURL, c.Report.WebhookURL); err != nil {
			return err
		}
	}
	if c.Metrics.PushgatewayURL != "" {
		if err := validateHTTPURL(KeyPushgatewayURL, c.Metrics.PushgatewayURL); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: %q must use http or https", key, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s: %q has no host", key, raw)
	}
	return nil
}

// MaskedKey returns the service key with everything but the last four
// characters hidden, for log output.
func (p *PlatformConfig) MaskedKey() string {
	if len(p.ServiceKey) <= 4 {
		return "****"
	}
	return "****" + p.ServiceKey[len(p.ServiceKey)-4:]
}
