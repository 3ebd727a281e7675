package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"gatekeeper/internal/errors"
)

// DirName is the per-deployment configuration directory.
const DirName = ".gatekeeper"

// Modes
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config represents the complete gatekeeper configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	Mode     string `json:"mode" mapstructure:"mode"`
	DataDir  string `json:"dataDir" mapstructure:"dataDir"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Webhook  WebhookConfig  `json:"webhook" mapstructure:"webhook"`
	Storage  StorageConfig  `json:"storage" mapstructure:"storage"`
	Queue    QueueConfig    `json:"queue" mapstructure:"queue"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`
	AI       AIConfig       `json:"ai" mapstructure:"ai"`
	Graph    GraphConfig    `json:"graph" mapstructure:"graph"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Addr            string `json:"addr" mapstructure:"addr"`
	ReadTimeoutSec  int    `json:"readTimeoutSec" mapstructure:"readTimeoutSec"`
	WriteTimeoutSec int    `json:"writeTimeoutSec" mapstructure:"writeTimeoutSec"`
}

// WebhookConfig contains webhook ingress settings
type WebhookConfig struct {
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects the persistence backend.
// Driver is one of sqlite, postgres, mysql or memory.
type StorageConfig struct {
	Driver       string `json:"driver" mapstructure:"driver"`
	DSN          string `json:"dsn" mapstructure:"dsn"`
	HistoryLimit int    `json:"historyLimit" mapstructure:"historyLimit"`
}

// QueueConfig contains job queue settings.
// Backend is auto, durable or ephemeral.
type QueueConfig struct {
	Backend           string `json:"backend" mapstructure:"backend"`
	Concurrency       int    `json:"concurrency" mapstructure:"concurrency"`
	MaxAttempts       int    `json:"maxAttempts" mapstructure:"maxAttempts"`
	BackoffBaseMs     int    `json:"backoffBaseMs" mapstructure:"backoffBaseMs"`
	BackoffMaxMs      int    `json:"backoffMaxMs" mapstructure:"backoffMaxMs"`
	JobTimeoutSec     int    `json:"jobTimeoutSec" mapstructure:"jobTimeoutSec"`
	PollIntervalMs    int    `json:"pollIntervalMs" mapstructure:"pollIntervalMs"`
	KeepCompleted     int    `json:"keepCompleted" mapstructure:"keepCompleted"`
	KeepFailed        int    `json:"keepFailed" mapstructure:"keepFailed"`
	RetentionSweepSec int    `json:"retentionSweepSec" mapstructure:"retentionSweepSec"`
}

// AnalysisConfig contains full-scan settings
type AnalysisConfig struct {
	ChurnWindowDays   int      `json:"churnWindowDays" mapstructure:"churnWindowDays"`
	Workers           int      `json:"workers" mapstructure:"workers"`
	MaxFileBytes      int64    `json:"maxFileBytes" mapstructure:"maxFileBytes"`
	ExcludeDirs       []string `json:"excludeDirs" mapstructure:"excludeDirs"`
	GitTimeoutMs      int      `json:"gitTimeoutMs" mapstructure:"gitTimeoutMs"`
	ProgressEvery     int      `json:"progressEvery" mapstructure:"progressEvery"`
	DependencyDepth   int      `json:"dependencyDepth" mapstructure:"dependencyDepth"`
	HotspotChurnMin   int      `json:"hotspotChurnMin" mapstructure:"hotspotChurnMin"`
	HotspotComplexMin int      `json:"hotspotComplexityMin" mapstructure:"hotspotComplexityMin"`
}

// PipelineConfig contains PR verdict thresholds
type PipelineConfig struct {
	MaxLintErrors      int     `json:"maxLintErrors" mapstructure:"maxLintErrors"`
	LintWarnThreshold  int     `json:"lintWarnThreshold" mapstructure:"lintWarnThreshold"`
	MaxComplexity      int     `json:"maxComplexity" mapstructure:"maxComplexity"`
	DeltaFloor         float64 `json:"deltaFloor" mapstructure:"deltaFloor"`
	SmellWarnThreshold int     `json:"smellWarnThreshold" mapstructure:"smellWarnThreshold"`
	MinTicketAlignment float64 `json:"minTicketAlignment" mapstructure:"minTicketAlignment"`
	RulesFile          string  `json:"rulesFile" mapstructure:"rulesFile"`
	PostStatus         bool    `json:"postStatus" mapstructure:"postStatus"`
	PostReview         bool    `json:"postReview" mapstructure:"postReview"`
}

// MetricsConfig contains rollup windows
type MetricsConfig struct {
	BlockRateWindowDays   int `json:"blockRateWindowDays" mapstructure:"blockRateWindowDays"`
	RiskReducedWindowDays int `json:"riskReducedWindowDays" mapstructure:"riskReducedWindowDays"`
	HotspotThreshold      int `json:"hotspotThreshold" mapstructure:"hotspotThreshold"`
	HotspotTopN           int `json:"hotspotTopN" mapstructure:"hotspotTopN"`
}

// ProviderConfig configures the source-control provider.
// Kind is github or local.
type ProviderConfig struct {
	Kind      string `json:"kind" mapstructure:"kind"`
	Token     string `json:"token" mapstructure:"token"`
	BaseURL   string `json:"baseUrl" mapstructure:"baseUrl"`
	CloneRoot string `json:"cloneRoot" mapstructure:"cloneRoot"`
}

// AIConfig configures the semantic scan capability.
// Provider is openai or none.
type AIConfig struct {
	Provider   string `json:"provider" mapstructure:"provider"`
	APIKey     string `json:"apiKey" mapstructure:"apiKey"`
	BaseURL    string `json:"baseUrl" mapstructure:"baseUrl"`
	Model      string `json:"model" mapstructure:"model"`
	TimeoutSec int    `json:"timeoutSec" mapstructure:"timeoutSec"`
	MaxFiles   int    `json:"maxFiles" mapstructure:"maxFiles"`
	MaxBytes   int    `json:"maxBytes" mapstructure:"maxBytes"`
}

// GraphConfig configures the optional Neo4j dependency-graph sink.
type GraphConfig struct {
	Neo4jURI      string `json:"neo4jUri" mapstructure:"neo4jUri"`
	Neo4jUser     string `json:"neo4jUser" mapstructure:"neo4jUser"`
	Neo4jPassword string `json:"neo4jPassword" mapstructure:"neo4jPassword"`
	Neo4jDatabase string `json:"neo4jDatabase" mapstructure:"neo4jDatabase"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		Mode:     ModeDevelopment,
		DataDir:  DirName,
		RepoRoot: ".",
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			HistoryLimit: 10,
		},
		Queue: QueueConfig{
			Backend:           "auto",
			Concurrency:       2,
			MaxAttempts:       3,
			BackoffBaseMs:     1000,
			BackoffMaxMs:      300000,
			JobTimeoutSec:     600,
			PollIntervalMs:    500,
			KeepCompleted:     100,
			KeepFailed:        500,
			RetentionSweepSec: 300,
		},
		Analysis: AnalysisConfig{
			ChurnWindowDays: 90,
			Workers:         4,
			MaxFileBytes:    1 << 20,
			ExcludeDirs: []string{
				".git", ".hg", ".svn", "node_modules", "vendor", "dist", "build",
				"out", "target", "coverage", ".next", "__pycache__", ".venv",
			},
			GitTimeoutMs:      10000,
			ProgressEvery:     10,
			DependencyDepth:   3,
			HotspotChurnMin:   5,
			HotspotComplexMin: 10,
		},
		Pipeline: PipelineConfig{
			MaxLintErrors:      5,
			LintWarnThreshold:  20,
			MaxComplexity:      25,
			DeltaFloor:         -20,
			SmellWarnThreshold: 5,
			MinTicketAlignment: 0.3,
			PostStatus:         true,
			PostReview:         true,
		},
		Metrics: MetricsConfig{
			BlockRateWindowDays:   7,
			RiskReducedWindowDays: 30,
			HotspotThreshold:      70,
			HotspotTopN:           10,
		},
		Provider: ProviderConfig{
			Kind: "local",
		},
		AI: AIConfig{
			Provider:   "none",
			Model:      "gpt-4o-mini",
			TimeoutSec: 30,
			MaxFiles:   10,
			MaxBytes:   60000,
		},
	}
}

// envKeys are bound explicitly so that Unmarshal sees env-only values.
var envKeys = []string{
	"mode", "dataDir", "repoRoot",
	"logging.level", "logging.format",
	"server.addr",
	"webhook.secret",
	"storage.driver", "storage.dsn",
	"queue.backend", "queue.concurrency", "queue.maxAttempts",
	"provider.kind", "provider.token", "provider.baseUrl", "provider.cloneRoot",
	"ai.provider", "ai.apiKey", "ai.baseUrl", "ai.model",
	"graph.neo4jUri", "graph.neo4jUser", "graph.neo4jPassword",
}

// LoadConfig loads configuration from <dir>/config.json, then applies
// GATEKEEPER_* environment overrides on top of the defaults.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("GATEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key, envName(key)); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.NewConfigurationError("failed to read config", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfigurationError("failed to decode config", err)
	}

	return cfg, nil
}

func envName(key string) string {
	return "GATEKEEPER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Save writes the configuration to <dir>/config.json
func (c *Config) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Mode, ModeProduction)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case ModeDevelopment, ModeProduction:
	default:
		return &ConfigError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", c.Mode)}
	}

	switch c.Queue.Backend {
	case "auto", "durable", "ephemeral":
	default:
		return &ConfigError{Field: "queue.backend", Message: fmt.Sprintf("unknown backend %q", c.Queue.Backend)}
	}
	if c.IsProduction() && c.Queue.Backend == "ephemeral" {
		return &ConfigError{Field: "queue.backend", Message: "ephemeral is not allowed in production"}
	}
	if c.Queue.MaxAttempts < 1 {
		return &ConfigError{Field: "queue.maxAttempts", Message: "must be at least 1"}
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres", "mysql", "memory":
	default:
		return &ConfigError{Field: "storage.driver", Message: fmt.Sprintf("unknown driver %q", c.Storage.Driver)}
	}
	if (c.Storage.Driver == "postgres" || c.Storage.Driver == "mysql") && c.Storage.DSN == "" {
		return &ConfigError{Field: "storage.dsn", Message: "required for " + c.Storage.Driver}
	}

	if c.IsProduction() && c.Webhook.Secret == "" {
		return &ConfigError{Field: "webhook.secret", Message: "required in production"}
	}
	if c.Pipeline.MaxComplexity < 1 {
		return &ConfigError{Field: "pipeline.maxComplexity", Message: "must be positive"}
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
