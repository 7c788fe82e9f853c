// Package config centralizes memcore's tunables behind viper, the way
// kodelet's cmd/kodelet/main.go and pkg/llm/config.go load theirs: defaults
// are registered once, environment variables override them under a
// MEMCORE_ prefix, and an optional config.yaml overrides the rest. The rest
// of the engine reads a materialized *Config, never viper directly.
package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the materialized set of tunables described in spec.md §6.
type Config struct {
	ModelReasoning string `mapstructure:"model_reasoning"`
	ModelWorkhorse string `mapstructure:"model_workhorse"`
	ModelFast      string `mapstructure:"model_fast"`

	MainAgentContext int `mapstructure:"main_agent_context"`
	TemporalBudget   int `mapstructure:"temporal_budget"`

	CompactionThreshold   int `mapstructure:"compaction_threshold"`
	CompactionTarget      int `mapstructure:"compaction_target"`
	CompactionHardLimit   int `mapstructure:"compaction_hard_limit"`
	RecencyBufferMessages int `mapstructure:"recency_buffer_messages"`

	DistillationBudget   int `mapstructure:"distillation_budget"`
	ConsolidationBudget  int `mapstructure:"consolidation_budget"`
	ReflectionBudget     int `mapstructure:"reflection_budget"`

	SessionDBPath string `mapstructure:"session_db_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// WorkerStaleThresholdSeconds bounds how long a "running" worker row may
	// go without progress before cleanup_stale() calls it crashed.
	WorkerStaleThresholdSeconds int `mapstructure:"worker_stale_threshold_seconds"`

	// MinDistillationBatch is the minimum number of eligible messages
	// before a distillation pass bothers running (spec.md §4.7 Selection).
	MinDistillationBatch int `mapstructure:"min_distillation_batch"`

	// OrderCompressionThreshold is the minimum count of non-subsumed
	// order-N summaries required before attempting order N+1; the same
	// value applies at every order.
	OrderCompressionThreshold int `mapstructure:"order_compression_threshold"`
	MaxSummaryOrder           int `mapstructure:"max_summary_order"`

	// SummaryGroupTokenCeiling is the per-summary token ceiling the
	// distillation engine groups messages against (spec.md §4.7 Grouping).
	SummaryGroupTokenCeiling int `mapstructure:"summary_group_token_ceiling"`

	// AlarmPollIntervalMS is how often the turn coordinator checks for due
	// alarms and non-empty queued results between turns (spec.md §4.10's
	// "approximately 1Hz").
	AlarmPollIntervalMS int `mapstructure:"alarm_poll_interval_ms"`

	TracingEnabled     bool    `mapstructure:"tracing_enabled"`
	TracingSampler     string  `mapstructure:"tracing_sampler"`
	TracingSampleRatio float64 `mapstructure:"tracing_sample_ratio"`
}

func init() {
	viper.SetDefault("model_reasoning", "reasoning-tier")
	viper.SetDefault("model_workhorse", "workhorse-tier")
	viper.SetDefault("model_fast", "fast-tier")

	viper.SetDefault("main_agent_context", 180_000)
	viper.SetDefault("temporal_budget", 64_000)

	viper.SetDefault("compaction_threshold", 80_000)
	viper.SetDefault("compaction_target", 60_000)
	viper.SetDefault("compaction_hard_limit", 150_000)
	viper.SetDefault("recency_buffer_messages", 10)

	viper.SetDefault("distillation_budget", 16_000)
	viper.SetDefault("consolidation_budget", 16_000)
	viper.SetDefault("reflection_budget", 16_000)

	viper.SetDefault("session_db_path", "")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")

	viper.SetDefault("worker_stale_threshold_seconds", 600)
	viper.SetDefault("min_distillation_batch", 8)
	viper.SetDefault("order_compression_threshold", 20)
	viper.SetDefault("max_summary_order", 4)
	viper.SetDefault("summary_group_token_ceiling", 6_000)
	viper.SetDefault("alarm_poll_interval_ms", 1_000)

	viper.SetDefault("tracing_enabled", false)
	viper.SetDefault("tracing_sampler", "always")
	viper.SetDefault("tracing_sample_ratio", 1.0)

	viper.SetEnvPrefix("MEMCORE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.memcore")
	viper.AddConfigPath(".")
}

// Load reads whatever config file is present (ignoring its absence) and
// materializes the current viper state into a Config.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WatchReload re-reads the config file on change and invokes onChange with
// the freshly materialized Config. It does not update any Config already
// handed out; whether a change takes effect is up to onChange.
func WatchReload(onChange func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := Load()
		if err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}
