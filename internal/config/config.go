// Package config handles flow engine configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Mode selects the flow topology.
type Mode string

const (
	ModeFunnel   Mode = "funnel"
	ModeFan      Mode = "fan"
	ModeOneToOne Mode = "one_to_one"
)

// GlobalConfig is the top-level configuration for a flow engine process.
// Maps to the `flowbridge:` root key in YAML.
type GlobalConfig struct {
	Mode                   Mode               `mapstructure:"mode"`
	ThreadPool             ThreadPoolConfig   `mapstructure:"thread_pool"`
	BackPressure           BackPressureConfig `mapstructure:"back_pressure"`
	ProcessorClass         string             `mapstructure:"processor_class"`
	Funnel                 FunnelConfig       `mapstructure:"funnel"`
	Fan                    FanConfig          `mapstructure:"fan"`
	OneToOne               OneToOneConfig     `mapstructure:"one_to_one"`
	ShutdownTimeoutSeconds float64            `mapstructure:"shutdown_timeout_seconds"`
	Metrics                MetricsConfig      `mapstructure:"metrics"`
	Log                    LogConfig          `mapstructure:"log"`
}

// ThreadPoolConfig controls the domain and publish worker pools.
type ThreadPoolConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
	QueueSize  int `mapstructure:"queue_size"`
}

// BackPressureConfig controls the inter-stage queue watermark gate.
type BackPressureConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	QueueHighWatermark float64 `mapstructure:"queue_high_watermark"`
	QueueLowWatermark  float64 `mapstructure:"queue_low_watermark"`
}

// BrokerConfig names an adapter type (registered in the broker registry) and
// carries adapter-specific settings as an opaque string map. Adapters parse
// the fields they recognize (e.g. "brokers", "group_id") themselves.
type BrokerConfig struct {
	Type     string            `mapstructure:"type"`
	Settings map[string]string `mapstructure:"settings"`
}

// FunnelConfig configures an N-sources-to-one-destination flow.
type FunnelConfig struct {
	Sources          []BrokerConfig `mapstructure:"sources"`
	Destination      BrokerConfig   `mapstructure:"destination"`
	DestinationTopic string         `mapstructure:"destination_topic"`
}

// FanConfig configures a one-source-to-dynamic-destinations flow.
type FanConfig struct {
	Source      BrokerConfig   `mapstructure:"source"`
	SourceTopic string         `mapstructure:"source_topic"`
	Destination BrokerConfig   `mapstructure:"destination"`
	Resolver    ResolverConfig `mapstructure:"resolver"`
}

// ResolverConfig configures Fan-mode destination resolution.
type ResolverConfig struct {
	Type string `mapstructure:"type"` // "header" | "payload_key"
	Key  string `mapstructure:"key"`
}

// TopicMapping is one source_topic -> destination_topic rule in One-to-one mode.
type TopicMapping struct {
	SourceTopic      string `mapstructure:"source_topic"`
	DestinationTopic string `mapstructure:"destination_topic"`
}

// OneToOneConfig configures a bijective source-topic to destination-topic flow.
type OneToOneConfig struct {
	Source      BrokerConfig   `mapstructure:"source"`
	Destination BrokerConfig   `mapstructure:"destination"`
	Mappings    []TopicMapping `mapstructure:"mappings"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string         `mapstructure:"level"`  // debug / info / warn / error
	Format  string         `mapstructure:"format"` // json / text
	Outputs []OutputConfig `mapstructure:"outputs"`
}

// OutputConfig describes a single log sink. Type selects among
// "console", "file", "loki"; the remaining fields are interpreted
// according to Type.
type OutputConfig struct {
	Type string `mapstructure:"type"`

	// file
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`

	// loki
	Endpoint      string            `mapstructure:"endpoint"`
	Labels        map[string]string `mapstructure:"labels"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval string            `mapstructure:"flush_interval"`
}

// configRoot is the top-level wrapper matching the YAML structure `flowbridge: ...`.
type configRoot struct {
	FlowBridge GlobalConfig `mapstructure:"flowbridge"`
}

// Load reads configuration from a file path, applies defaults, and validates
// the result. Environment variables with the FLOWBRIDGE_ prefix override
// file values (e.g. FLOWBRIDGE_LOG_LEVEL overrides flowbridge.log.level).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.FlowBridge

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("flowbridge.thread_pool.max_workers", 20)
	v.SetDefault("flowbridge.thread_pool.queue_size", 2000)

	v.SetDefault("flowbridge.back_pressure.enabled", true)
	v.SetDefault("flowbridge.back_pressure.queue_high_watermark", 0.8)
	v.SetDefault("flowbridge.back_pressure.queue_low_watermark", 0.5)

	v.SetDefault("flowbridge.shutdown_timeout_seconds", 30)

	v.SetDefault("flowbridge.metrics.enabled", false)
	v.SetDefault("flowbridge.metrics.listen", ":9091")
	v.SetDefault("flowbridge.metrics.path", "/metrics")

	v.SetDefault("flowbridge.log.level", "info")
	v.SetDefault("flowbridge.log.format", "json")
}

// Validate checks the config for the errors the core must catch before a
// flow is ever started (all surfaced as ConfigError by the engine).
func (cfg *GlobalConfig) Validate() error {
	switch cfg.Mode {
	case ModeFunnel, ModeFan, ModeOneToOne:
	default:
		return fmt.Errorf("unknown mode: %q (must be funnel, fan, or one_to_one)", cfg.Mode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}

	if cfg.ThreadPool.MaxWorkers < 1 {
		return fmt.Errorf("thread_pool.max_workers must be >= 1")
	}
	if cfg.ThreadPool.QueueSize < 1 {
		return fmt.Errorf("thread_pool.queue_size must be >= 1")
	}

	bp := cfg.BackPressure
	if bp.Enabled {
		if bp.QueueHighWatermark <= 0 || bp.QueueHighWatermark > 1 {
			return fmt.Errorf("back_pressure.queue_high_watermark must be in (0,1]")
		}
		if bp.QueueLowWatermark <= 0 || bp.QueueLowWatermark > 1 {
			return fmt.Errorf("back_pressure.queue_low_watermark must be in (0,1]")
		}
		if bp.QueueLowWatermark > bp.QueueHighWatermark {
			return fmt.Errorf("back_pressure.queue_low_watermark must be <= queue_high_watermark")
		}
	}

	switch cfg.Mode {
	case ModeFunnel:
		if len(cfg.Funnel.Sources) == 0 {
			return fmt.Errorf("funnel.sources must contain at least one source")
		}
		if cfg.Funnel.DestinationTopic == "" {
			return fmt.Errorf("funnel.destination_topic is required")
		}
	case ModeFan:
		if cfg.Fan.SourceTopic == "" {
			return fmt.Errorf("fan.source_topic is required")
		}
		switch cfg.Fan.Resolver.Type {
		case "header", "payload_key":
		default:
			return fmt.Errorf("fan.resolver.type must be header or payload_key")
		}
		if cfg.Fan.Resolver.Key == "" {
			return fmt.Errorf("fan.resolver.key is required")
		}
	case ModeOneToOne:
		if len(cfg.OneToOne.Mappings) == 0 {
			return fmt.Errorf("one_to_one.mappings must contain at least one mapping")
		}
		seen := make(map[string]bool, len(cfg.OneToOne.Mappings))
		for _, m := range cfg.OneToOne.Mappings {
			if m.SourceTopic == "" || m.DestinationTopic == "" {
				return fmt.Errorf("one_to_one.mappings entries require source_topic and destination_topic")
			}
			if seen[m.SourceTopic] {
				return fmt.Errorf("one_to_one.mappings has duplicate source_topic %q", m.SourceTopic)
			}
			seen[m.SourceTopic] = true
		}
	}

	return nil
}
