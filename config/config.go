package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Cryptolens         CryptolensConfig            `yaml:"cryptolens"`
	Server             ServerConfig                `yaml:"server"`
	Logging            LoggingConfig               `yaml:"logging"`
	Cache              CacheConfig                 `yaml:"cache"`
	Resolver           ResolverConfig              `yaml:"resolver"`
	Health             HealthConfig                `yaml:"health"`
	TTLPolicies        TTLPoliciesConfig           `yaml:"ttl_policies"`
	ConflictThresholds ConflictThresholdsConfig    `yaml:"conflict_thresholds"`
	FieldGroups        map[string]FieldGroupConfig `yaml:"field_groups"`
	Providers          map[string]ProviderConfig   `yaml:"providers"`
	Evidence           EvidenceConfig              `yaml:"evidence"`
	Metrics            MetricsConfig               `yaml:"metrics"`
}

type CryptolensConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

type ResolverConfig struct {
	MaxConcurrency        int           `yaml:"max_concurrency"`
	ProviderTimeout       time.Duration `yaml:"provider_timeout"`
	StaleIfError          bool          `yaml:"stale_if_error"`
	AlwaysRecordConflicts bool          `yaml:"always_record_conflicts"`
	Singleflight          bool          `yaml:"singleflight"`
}

type HealthConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CooldownBase     time.Duration `yaml:"cooldown_base"`
	CooldownMax      time.Duration `yaml:"cooldown_max"`
}

// TTLPoliciesConfig maps tool name -> field-group -> TTL seconds. Unknown
// pairs fall back to DefaultSeconds.
type TTLPoliciesConfig struct {
	DefaultSeconds int                       `yaml:"default_seconds"`
	Tools          map[string]map[string]int `yaml:"tools"`
}

// ConflictThresholdsConfig maps field name -> maximum tolerated relative
// difference in percent before the primary source wins outright.
type ConflictThresholdsConfig struct {
	DefaultPercent float64            `yaml:"default_percent"`
	Fields         map[string]float64 `yaml:"fields"`
}

// FieldGroupConfig declares the fallback chain for one field-group. The
// slice order is the priority rank; the first entry is the primary source.
// VerifyWith names an additional provider queried for cross-validation.
type FieldGroupConfig struct {
	Providers  []string `yaml:"providers"`
	VerifyWith string   `yaml:"verify_with"`
}

type ProviderConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	// Symbols is used by streaming providers that must subscribe upfront.
	Symbols []string `yaml:"symbols"`
}

type EvidenceConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Region    string        `yaml:"region"`
	Namespace string        `yaml:"namespace"`
	Interval  time.Duration `yaml:"interval"`
}

// LoadConfig reads and validates the YAML configuration at path. Unknown
// keys are rejected so typos surface at startup instead of being silently
// ignored. Secrets may be supplied through environment variables.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Server: ServerConfig{
			Address:        ":8080",
			RequestTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{MaxEntries: 10000},
		Resolver: ResolverConfig{
			MaxConcurrency:  4,
			ProviderTimeout: 10 * time.Second,
			StaleIfError:    true,
			Singleflight:    true,
		},
		Health: HealthConfig{
			FailureThreshold: 3,
			CooldownBase:     30 * time.Second,
			CooldownMax:      10 * time.Minute,
		},
		TTLPolicies:        TTLPoliciesConfig{DefaultSeconds: 300},
		ConflictThresholds: ConflictThresholdsConfig{DefaultPercent: 1.0},
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides pulls secrets from the environment so they never have
// to live in the config file.
func applyEnvOverrides(cfg *Config) {
	for name, pc := range cfg.Providers {
		envKey := strings.ToUpper(name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			pc.APIKey = strings.TrimSpace(v)
			cfg.Providers[name] = pc
		}
	}

	if cfg.Evidence.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Evidence.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Evidence.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Evidence.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Evidence.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		cfg.Metrics.CloudWatch.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Cryptolens.Name == "" {
		return fmt.Errorf("cryptolens.name is required")
	}
	if cfg.Cryptolens.Version == "" {
		return fmt.Errorf("cryptolens.version is required")
	}

	if cfg.Resolver.MaxConcurrency <= 0 {
		return fmt.Errorf("resolver.max_concurrency must be greater than 0")
	}
	if cfg.Resolver.ProviderTimeout <= 0 {
		return fmt.Errorf("resolver.provider_timeout must be greater than 0")
	}

	if cfg.Health.FailureThreshold <= 0 {
		return fmt.Errorf("health.failure_threshold must be greater than 0")
	}
	if cfg.Health.CooldownBase <= 0 {
		return fmt.Errorf("health.cooldown_base must be greater than 0")
	}
	if cfg.Health.CooldownMax < cfg.Health.CooldownBase {
		return fmt.Errorf("health.cooldown_max must not be below health.cooldown_base")
	}

	if cfg.TTLPolicies.DefaultSeconds <= 0 {
		return fmt.Errorf("ttl_policies.default_seconds must be greater than 0")
	}
	if cfg.ConflictThresholds.DefaultPercent <= 0 {
		return fmt.Errorf("conflict_thresholds.default_percent must be greater than 0")
	}

	if len(cfg.FieldGroups) == 0 {
		return fmt.Errorf("at least one field_groups entry is required")
	}
	for group, fg := range cfg.FieldGroups {
		if len(fg.Providers) == 0 {
			return fmt.Errorf("field_groups.%s.providers must not be empty", group)
		}
		for _, name := range fg.Providers {
			if _, ok := cfg.Providers[name]; !ok {
				return fmt.Errorf("field_groups.%s references unknown provider '%s'", group, name)
			}
		}
		if fg.VerifyWith != "" {
			if _, ok := cfg.Providers[fg.VerifyWith]; !ok {
				return fmt.Errorf("field_groups.%s.verify_with references unknown provider '%s'", group, fg.VerifyWith)
			}
		}
	}

	if cfg.Evidence.S3.Enabled {
		if cfg.Evidence.S3.Bucket == "" {
			return fmt.Errorf("evidence.s3.bucket is required when S3 is enabled")
		}
		if cfg.Evidence.S3.Region == "" {
			return fmt.Errorf("evidence.s3.region is required when S3 is enabled")
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}

	return nil
}

// TTLFor returns the freshness TTL for a (tool, field-group) pair, falling
// back to the global default for unknown pairs.
func (c *Config) TTLFor(tool, group string) time.Duration {
	if groups, ok := c.TTLPolicies.Tools[tool]; ok {
		if sec, ok := groups[group]; ok && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return time.Duration(c.TTLPolicies.DefaultSeconds) * time.Second
}

// ConflictThresholdFor returns the tolerated disagreement for a field in
// percent.
func (c *Config) ConflictThresholdFor(field string) float64 {
	if v, ok := c.ConflictThresholds.Fields[field]; ok && v > 0 {
		return v
	}
	return c.ConflictThresholds.DefaultPercent
}
