package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys are
// separated by a double underscore, e.g. CMOD_LOGGING__LEVEL=debug.
const EnvPrefix = "CMOD_"

type Config struct {
	Logging    LogConfig     `koanf:"logging"`
	Metrics    MetricsConfig `koanf:"metrics"`
	Storage    StorageConfig `koanf:"storage"`
	Rules      RulesConfig   `koanf:"rules"`
	Processing ProcConfig    `koanf:"processing"`
	Broker     BrokerConfig  `koanf:"broker"`
}

type LogConfig struct {
	Level      string `koanf:"level" validate:"required,oneof=debug info warn error"`
	Encoding   string `koanf:"encoding" validate:"required,oneof=json console"`
	OutputPath string `koanf:"output_path" validate:"required"` // stdout, stderr or a file path
	MaxSize    int    `koanf:"max_size" validate:"gte=0"`       // megabytes, file output only
	MaxAge     int    `koanf:"max_age" validate:"gte=0"`        // days
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	Compress   bool   `koanf:"compress"`
}

type MetricsConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Address        string `koanf:"address"`
	Path           string `koanf:"path"`
	UpdateInterval string `koanf:"update_interval"` // Duration string
}

type StorageConfig struct {
	Path    string `koanf:"path" validate:"required"`
	Timeout string `koanf:"timeout"` // Duration string, bbolt file lock timeout
}

type RulesConfig struct {
	Directory        string `koanf:"directory"`
	MaxDepth         int    `koanf:"max_depth" validate:"gte=1,lte=1024"`
	PatternCacheSize int    `koanf:"pattern_cache_size" validate:"gte=1"`
	MaxPatternLength int    `koanf:"max_pattern_length" validate:"gte=1"`
}

type ProcConfig struct {
	Workers   int `koanf:"workers" validate:"gte=1"`
	QueueSize int `koanf:"queue_size" validate:"gte=1"`
}

// BrokerConfig selects the message bus comments arrive on.
type BrokerConfig struct {
	Type          string    `koanf:"type" validate:"oneof=none nats mqtt"`
	URL           string    `koanf:"url"`
	ClientID      string    `koanf:"client_id"`
	Username      string    `koanf:"username"`
	Password      string    `koanf:"password"`
	IntakeTopic   string    `koanf:"intake_topic"`
	DecisionTopic string    `koanf:"decision_topic"`
	QueueGroup    string    `koanf:"queue_group"`
	QoS           uint8     `koanf:"qos" validate:"lte=2"`
	TLS           TLSConfig `koanf:"tls"`
}

type TLSConfig struct {
	Enable   bool   `koanf:"enable"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	CAFile   string `koanf:"ca_file"`
}

// Default returns the configuration used when no file or environment
// override sets a value.
func Default() Config {
	return Config{
		Logging: LogConfig{
			Level:      "info",
			Encoding:   "json",
			OutputPath: "stdout",
			MaxSize:    100,
			MaxAge:     28,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Address:        ":2112",
			Path:           "/metrics",
			UpdateInterval: "15s",
		},
		Storage: StorageConfig{
			Path:    "comment-moderation.db",
			Timeout: "1s",
		},
		Rules: RulesConfig{
			MaxDepth:         64,
			PatternCacheSize: 256,
			MaxPatternLength: 500,
		},
		Processing: ProcConfig{
			Workers:   runtime.NumCPU(),
			QueueSize: 1000,
		},
		Broker: BrokerConfig{
			Type:          "none",
			ClientID:      "comment-moderation",
			IntakeTopic:   "comments/incoming",
			DecisionTopic: "comments/moderated",
			QueueGroup:    "comment-moderation",
			QoS:           1,
		},
	}
}

// envLoader loads CMOD_ prefixed variables and can be replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil)
}

// Load builds the configuration from defaults, an optional JSON or YAML file
// at path and environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// parserFor picks the koanf parser matching the file extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser(), nil
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}
}

// Validate checks the configuration. Call it again after ApplyOverrides.
func (c *Config) Validate() error {
	if err := validateConfig(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// validateConfig runs the struct tag validation followed by the checks that
// span more than one field.
func validateConfig(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		if _, err := time.ParseDuration(cfg.Metrics.UpdateInterval); err != nil {
			return fmt.Errorf("invalid metrics update interval: %w", err)
		}
		if cfg.Metrics.Address == "" {
			return fmt.Errorf("metrics address is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /")
		}
	}

	if cfg.Storage.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Storage.Timeout); err != nil {
			return fmt.Errorf("invalid storage timeout: %w", err)
		}
	}

	if cfg.Broker.Type != "none" {
		if cfg.Broker.URL == "" {
			return fmt.Errorf("broker url is required for broker type %s", cfg.Broker.Type)
		}
		if cfg.Broker.IntakeTopic == "" {
			return fmt.Errorf("broker intake topic is required")
		}
		if cfg.Broker.DecisionTopic == "" {
			return fmt.Errorf("broker decision topic is required")
		}
		if cfg.Broker.TLS.Enable && (cfg.Broker.TLS.CertFile == "" || cfg.Broker.TLS.KeyFile == "") {
			return fmt.Errorf("broker tls requires cert_file and key_file")
		}
	}

	return nil
}

// StorageTimeout returns the parsed bbolt lock timeout.
func (c *Config) StorageTimeout() time.Duration {
	d, err := time.ParseDuration(c.Storage.Timeout)
	if err != nil {
		return time.Second
	}
	return d
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(workers int, storagePath, logLevel, metricsAddr string, metricsInterval time.Duration) {
	if workers > 0 {
		c.Processing.Workers = workers
	}
	if storagePath != "" {
		c.Storage.Path = storagePath
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		c.Metrics.Address = metricsAddr
	}
	if metricsInterval > 0 {
		c.Metrics.UpdateInterval = metricsInterval.String()
	}
}
