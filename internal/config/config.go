// Package config loads service configuration from defaults, an optional
// YAML file, and CLIMATE_*-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full service configuration.
type Config struct {
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Store     StoreConfig     `mapstructure:"store"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// KafkaConfig holds broker addresses, topic names, and consumer tuning.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	RawTopic       string        `mapstructure:"raw_topic"`
	EnrichedTopic  string        `mapstructure:"enriched_topic"`
	EventsTopic    string        `mapstructure:"events_topic"`
	SummariesTopic string        `mapstructure:"summaries_topic"`
	GroupID        string        `mapstructure:"group_id"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
}

// HTTPConfig holds the admin server listen address.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// RegistryConfig holds the station registry client settings. Lookups are
// enabled only when a base URL is configured.
type RegistryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
}

// StoreConfig bounds the in-memory record store. A zero max age keeps
// records until they fall out of the count bound.
type StoreConfig struct {
	MaxRecords int           `mapstructure:"max_records"`
	MaxAge     time.Duration `mapstructure:"max_age"`
}

// SweepConfig drives the periodic aggregation sweep. An empty metric list
// covers every canonical metric.
type SweepConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Granularity string        `mapstructure:"granularity"`
	GroupBy     []string      `mapstructure:"group_by"`
	Funcs       []string      `mapstructure:"funcs"`
	Metrics     []string      `mapstructure:"metrics"`
}

// AnalyticsConfig tunes the core pipeline stages.
type AnalyticsConfig struct {
	Window     int               `mapstructure:"window"`
	Thresholds []ThresholdConfig `mapstructure:"thresholds"`
}

// ThresholdConfig is one detector threshold as written in the config file.
// Value carries the cutoff, percentile rank, or z multiplier depending on
// the method.
type ThresholdConfig struct {
	Metric    string  `mapstructure:"metric"`
	Method    string  `mapstructure:"method"`
	Value     float64 `mapstructure:"value"`
	Direction string  `mapstructure:"direction"`
	Tag       string  `mapstructure:"tag"`
}

// LoggingConfig holds log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load builds the configuration. Precedence from lowest to highest:
// defaults, the config file at path (when non-empty), environment variables.
// A .env file in the working directory is applied to the environment first.
func Load(path string) (*Config, error) {
	// The .env file is optional; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CLIMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A registry without a base URL cannot be queried.
	if cfg.Registry.BaseURL == "" {
		cfg.Registry.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.raw_topic", "raw-climate-readings")
	v.SetDefault("kafka.enriched_topic", "enriched-climate-records")
	v.SetDefault("kafka.events_topic", "extreme-weather-events")
	v.SetDefault("kafka.summaries_topic", "climate-summaries")
	v.SetDefault("kafka.group_id", "climate-analytics")
	v.SetDefault("kafka.batch_size", 50)
	v.SetDefault("kafka.max_wait", "500ms")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("registry.enabled", true)
	v.SetDefault("registry.base_url", "")
	v.SetDefault("registry.timeout", "5s")
	v.SetDefault("registry.cache_size", 1000)
	v.SetDefault("registry.rate_limit", 10.0)
	v.SetDefault("registry.rate_burst", 5)

	v.SetDefault("store.max_records", 10000)
	v.SetDefault("store.max_age", "24h")

	v.SetDefault("sweep.interval", "5m")
	v.SetDefault("sweep.granularity", "daily")
	v.SetDefault("sweep.group_by", []string{"country"})
	v.SetDefault("sweep.funcs", []string{"mean", "min", "max", "count"})
	v.SetDefault("sweep.metrics", []string{})

	v.SetDefault("analytics.window", 7)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("shutdown_timeout", "10s")
}

// Validate rejects incomplete or inconsistent configuration before any
// component is constructed.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.RawTopic == "" {
		return fmt.Errorf("kafka.raw_topic is required")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("kafka.group_id is required")
	}
	if c.Kafka.BatchSize < 1 {
		return fmt.Errorf("kafka.batch_size must be at least 1")
	}
	if c.Kafka.MaxWait <= 0 {
		return fmt.Errorf("kafka.max_wait must be positive")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if c.Registry.Enabled {
		if c.Registry.Timeout <= 0 {
			return fmt.Errorf("registry.timeout must be positive")
		}
		if c.Registry.CacheSize < 1 {
			return fmt.Errorf("registry.cache_size must be at least 1")
		}
		if c.Registry.RateLimit <= 0 {
			return fmt.Errorf("registry.rate_limit must be positive")
		}
		if c.Registry.RateBurst < 1 {
			return fmt.Errorf("registry.rate_burst must be at least 1")
		}
	}

	if c.Store.MaxRecords < 1 {
		return fmt.Errorf("store.max_records must be at least 1")
	}
	if c.Store.MaxAge < 0 {
		return fmt.Errorf("store.max_age must not be negative")
	}

	if c.Sweep.Interval < time.Minute {
		return fmt.Errorf("sweep.interval must be at least 1 minute")
	}
	if _, err := c.Sweep.NewAggregator(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	if c.Analytics.Window < 1 {
		return fmt.Errorf("analytics.window must be at least 1")
	}
	table, err := c.Analytics.ThresholdTable()
	if err != nil {
		return fmt.Errorf("analytics: %w", err)
	}
	if _, err := analytics.NewDetector(table); err != nil {
		return fmt.Errorf("analytics: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

// NewAggregator builds the sweep aggregator from the configured granularity,
// group keys, metrics, and functions.
func (s SweepConfig) NewAggregator() (*analytics.Aggregator, error) {
	gran, err := analytics.ParseGranularity(s.Granularity)
	if err != nil {
		return nil, err
	}

	funcs := make([]analytics.AggFunc, 0, len(s.Funcs))
	for _, raw := range s.Funcs {
		f, err := analytics.ParseAggFunc(raw)
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, f)
	}

	metrics := s.Metrics
	if len(metrics) == 0 {
		metrics = analytics.MetricNames()
	}
	aggs := make(map[string][]analytics.AggFunc, len(metrics))
	for _, m := range metrics {
		aggs[m] = funcs
	}
	return analytics.NewAggregator(gran, s.GroupBy, aggs)
}

// ThresholdTable maps the configured threshold list onto detector specs,
// keyed by metric. An empty list falls back to the built-in defaults.
func (a AnalyticsConfig) ThresholdTable() (map[string][]analytics.ThresholdSpec, error) {
	if len(a.Thresholds) == 0 {
		return analytics.DefaultThresholds(), nil
	}

	table := make(map[string][]analytics.ThresholdSpec)
	for i, t := range a.Thresholds {
		spec, err := t.spec()
		if err != nil {
			return nil, fmt.Errorf("thresholds[%d]: %w", i, err)
		}
		table[t.Metric] = append(table[t.Metric], spec)
	}
	return table, nil
}

func (t ThresholdConfig) spec() (analytics.ThresholdSpec, error) {
	dir := analytics.Direction(t.Direction)
	var spec analytics.ThresholdSpec
	switch analytics.ThresholdMethod(t.Method) {
	case analytics.MethodFixed:
		spec = analytics.Fixed(t.Value, dir)
	case analytics.MethodPercentile:
		spec = analytics.Percentile(t.Value, dir)
	case analytics.MethodZScore:
		spec = analytics.ZScore(t.Value, dir)
	case analytics.MethodRobustZ:
		spec = analytics.RobustZScore(t.Value, dir)
	default:
		return analytics.ThresholdSpec{}, fmt.Errorf("unknown method %q", t.Method)
	}
	if t.Tag != "" {
		spec = spec.Tagged(t.Tag)
	}
	return spec, nil
}
