// Package config provides configuration loading and management for credit-sentinel.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Snowflake SnowflakeConfig `yaml:"snowflake"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Rules     RulesConfig     `yaml:"rules"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Server    ServerConfig    `yaml:"server"`
}

// SnowflakeConfig holds Snowflake connection settings. Reading
// ACCOUNT_USAGE views requires a role with imported privileges on the
// SNOWFLAKE database.
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Role      string `yaml:"role"`
	Warehouse string `yaml:"warehouse"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
}

// ScheduleConfig defines when analysis jobs run.
type ScheduleConfig struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`

	// Location is resolved from Timezone by Validate.
	Location *time.Location `yaml:"-"`
}

// AnalysisConfig defines the snapshot window and load-time pre-filter.
type AnalysisConfig struct {
	// WindowHours is how far back the snapshot reaches (1-168).
	WindowHours int `yaml:"window_hours"`

	// MinElapsedMS drops trivially fast executions at load time.
	MinElapsedMS int64 `yaml:"min_elapsed_ms"`

	// ExcludedQueryTypes are metadata-only statement types skipped at
	// load time.
	ExcludedQueryTypes []string `yaml:"excluded_query_types"`

	// CacheTTL is how long fetched snapshots are reused before the
	// source queries run again.
	CacheTTL string `yaml:"cache_ttl"`
}

// CacheTTLParsed returns the parsed cache TTL.
func (a *AnalysisConfig) CacheTTLParsed() (time.Duration, error) {
	return time.ParseDuration(a.CacheTTL)
}

// RulesConfig tunes the aggregate and anomaly detectors. The per-record
// text and metric detectors use fixed thresholds.
type RulesConfig struct {
	TopQueries int                 `yaml:"top_queries"`
	Sizing     SizingRuleConfig    `yaml:"sizing"`
	Repeated   RepeatedRuleConfig  `yaml:"repeated"`
	Redundant  RedundantRuleConfig `yaml:"redundant"`
	Spike      SpikeRuleConfig     `yaml:"spike"`
	OffHours   OffHoursRuleConfig  `yaml:"off_hours"`
}

// SizingRuleConfig defines warehouse right-sizing parameters.
type SizingRuleConfig struct {
	// OversizedMeanSec flags large warehouses whose mean execution time
	// is below this many seconds.
	OversizedMeanSec float64 `yaml:"oversized_mean_sec"`

	// QueuingTotalMS flags warehouses whose summed queued-overload time
	// exceeds this many milliseconds.
	QueuingTotalMS int64 `yaml:"queuing_total_ms"`
}

// RepeatedRuleConfig defines repeated-expensive-query parameters.
type RepeatedRuleConfig struct {
	MinExecutions int     `yaml:"min_executions"`
	MinTotalSec   float64 `yaml:"min_total_sec"`
	HighTotalSec  float64 `yaml:"high_total_sec"`
}

// RedundantRuleConfig defines redundant-execution parameters.
type RedundantRuleConfig struct {
	ShortGapSec   float64 `yaml:"short_gap_sec"`
	MinShortGaps  int     `yaml:"min_short_gaps"`
	HighShortGaps int     `yaml:"high_short_gaps"`
}

// SpikeRuleConfig defines runtime-spike outlier parameters.
type SpikeRuleConfig struct {
	MinSnapshotSize int     `yaml:"min_snapshot_size"`
	MinGroupSize    int     `yaml:"min_group_size"`
	ZThreshold      float64 `yaml:"z_threshold"`
	MedianMultiple  float64 `yaml:"median_multiple"`
}

// OffHoursRuleConfig defines the advisory off-hours window [StartHour, EndHour).
type OffHoursRuleConfig struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// NotifierConfig holds notification channel settings.
type NotifierConfig struct {
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Retries    int    `yaml:"retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// RetryDelayParsed returns the parsed retry delay duration.
func (n *NotifierConfig) RetryDelayParsed() (time.Duration, error) {
	return time.ParseDuration(n.RetryDelay)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port      int  `yaml:"port"`
	DeepCheck bool `yaml:"deep_check"`

	// DocsDir, when set, is served read-only under /docs/ with
	// no-cache headers.
	DocsDir string `yaml:"docs_dir"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, suitable
// for tests and programmatic setup.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Schedule.Location = time.UTC
	return cfg
}

// expandEnvVars expands ${VAR} and ${VAR:-default} patterns in the input string.
func expandEnvVars(input string) string {
	// Pattern: ${VAR:-default} or ${VAR}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) > 2 {
			defaultVal = parts[2]
		}

		if val, exists := os.LookupEnv(varName); exists {
			return val
		}
		return defaultVal
	})
}

// applyDefaults sets default values for any unset configuration fields.
func applyDefaults(cfg *Config) {
	// Snowflake defaults
	if cfg.Snowflake.Role == "" {
		cfg.Snowflake.Role = "ACCOUNTADMIN"
	}
	if cfg.Snowflake.Database == "" {
		cfg.Snowflake.Database = "SNOWFLAKE"
	}
	if cfg.Snowflake.Schema == "" {
		cfg.Snowflake.Schema = "ACCOUNT_USAGE"
	}

	// Schedule defaults (6-field cron with seconds)
	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = "0 0 * * * *" // Every hour on the hour
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "UTC"
	}

	// Analysis defaults
	if cfg.Analysis.WindowHours == 0 {
		cfg.Analysis.WindowHours = 24
	}
	if cfg.Analysis.MinElapsedMS == 0 {
		cfg.Analysis.MinElapsedMS = 1000
	}
	if len(cfg.Analysis.ExcludedQueryTypes) == 0 {
		cfg.Analysis.ExcludedQueryTypes = []string{"SHOW", "DESCRIBE", "USE"}
	}
	if cfg.Analysis.CacheTTL == "" {
		cfg.Analysis.CacheTTL = "5m"
	}

	// Rules defaults
	if cfg.Rules.TopQueries == 0 {
		cfg.Rules.TopQueries = 20
	}
	if cfg.Rules.Sizing.OversizedMeanSec == 0 {
		cfg.Rules.Sizing.OversizedMeanSec = 3
	}
	if cfg.Rules.Sizing.QueuingTotalMS == 0 {
		cfg.Rules.Sizing.QueuingTotalMS = 60000
	}
	if cfg.Rules.Repeated.MinExecutions == 0 {
		cfg.Rules.Repeated.MinExecutions = 5
	}
	if cfg.Rules.Repeated.MinTotalSec == 0 {
		cfg.Rules.Repeated.MinTotalSec = 60
	}
	if cfg.Rules.Repeated.HighTotalSec == 0 {
		cfg.Rules.Repeated.HighTotalSec = 300
	}
	if cfg.Rules.Redundant.ShortGapSec == 0 {
		cfg.Rules.Redundant.ShortGapSec = 900
	}
	if cfg.Rules.Redundant.MinShortGaps == 0 {
		cfg.Rules.Redundant.MinShortGaps = 2
	}
	if cfg.Rules.Redundant.HighShortGaps == 0 {
		cfg.Rules.Redundant.HighShortGaps = 5
	}
	if cfg.Rules.Spike.MinSnapshotSize == 0 {
		cfg.Rules.Spike.MinSnapshotSize = 10
	}
	if cfg.Rules.Spike.MinGroupSize == 0 {
		cfg.Rules.Spike.MinGroupSize = 3
	}
	if cfg.Rules.Spike.ZThreshold == 0 {
		cfg.Rules.Spike.ZThreshold = 3
	}
	if cfg.Rules.Spike.MedianMultiple == 0 {
		cfg.Rules.Spike.MedianMultiple = 3
	}
	// StartHour's default of 0 is the zero value already.
	if cfg.Rules.OffHours.EndHour == 0 {
		cfg.Rules.OffHours.EndHour = 5
	}

	// Notifier defaults
	if cfg.Notifier.Type == "" {
		cfg.Notifier.Type = "console"
	}
	if cfg.Notifier.Retries == 0 {
		cfg.Notifier.Retries = 3
	}
	if cfg.Notifier.RetryDelay == "" {
		cfg.Notifier.RetryDelay = "1s"
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
}

// Validate checks that the configuration is valid and resolves the
// schedule timezone.
func (c *Config) Validate() error {
	var errs []string

	// Validate Snowflake connection settings
	if c.Snowflake.Account == "" {
		errs = append(errs, "snowflake.account is required")
	}
	if c.Snowflake.User == "" {
		errs = append(errs, "snowflake.user is required")
	}

	// Resolve timezone
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		errs = append(errs, fmt.Sprintf("schedule.timezone is invalid: %v", err))
	} else {
		c.Schedule.Location = loc
	}

	// Validate analysis window
	if c.Analysis.WindowHours < 1 || c.Analysis.WindowHours > 168 {
		errs = append(errs, "analysis.window_hours must be between 1 and 168")
	}
	if _, err := c.Analysis.CacheTTLParsed(); err != nil {
		errs = append(errs, fmt.Sprintf("analysis.cache_ttl is invalid: %v", err))
	}

	// Validate notifier type
	validNotifierTypes := map[string]bool{"webhook": true, "console": true}
	if !validNotifierTypes[c.Notifier.Type] {
		errs = append(errs, "notifier.type must be one of: webhook, console")
	}

	// Validate notifier webhook URL
	if c.Notifier.Type == "webhook" && c.Notifier.WebhookURL == "" {
		errs = append(errs, "notifier.webhook_url is required when type is 'webhook'")
	}
	if _, err := c.Notifier.RetryDelayParsed(); err != nil {
		errs = append(errs, fmt.Sprintf("notifier.retry_delay is invalid: %v", err))
	}

	// Validate rule values
	if c.Rules.TopQueries < 1 {
		errs = append(errs, "rules.top_queries must be at least 1")
	}
	if c.Rules.Spike.MinGroupSize < 2 {
		errs = append(errs, "rules.spike.min_group_size must be at least 2")
	}
	if c.Rules.OffHours.StartHour < 0 || c.Rules.OffHours.StartHour > 23 ||
		c.Rules.OffHours.EndHour < 1 || c.Rules.OffHours.EndHour > 24 ||
		c.Rules.OffHours.StartHour >= c.Rules.OffHours.EndHour {
		errs = append(errs, "rules.off_hours must satisfy 0 <= start_hour < end_hour <= 24")
	}

	// Validate docs directory when configured
	if c.Server.DocsDir != "" {
		if info, err := os.Stat(c.Server.DocsDir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Sprintf("server.docs_dir is not a readable directory: %s", c.Server.DocsDir))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
