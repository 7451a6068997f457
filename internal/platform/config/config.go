package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the stylist engine
type Config struct {
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Extraction    ExtractionConfig    `mapstructure:"extraction"`
	Diversity     DiversityConfig     `mapstructure:"diversity"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// RateLimitConfig holds the per-user request admission settings
type RateLimitConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// CacheConfig holds caching configuration
type CacheConfig struct {
	L1MaxSize int           `mapstructure:"l1_max_size"`
	L1MaxTTL  time.Duration `mapstructure:"l1_max_ttl"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProvidersConfig holds the generation provider cascade configuration
type ProvidersConfig struct {
	Candidates   []CandidateConfig `mapstructure:"candidates"`
	MaxBackoff   time.Duration     `mapstructure:"max_backoff"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	RateLimitRPM int               `mapstructure:"rate_limit_rpm"`
}

// CandidateConfig describes one provider in cascade order
type CandidateConfig struct {
	Name        string        `mapstructure:"name"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

// ExtractionConfig tunes the palette extraction pipeline
type ExtractionConfig struct {
	ROIFraction     float64 `mapstructure:"roi_fraction"`
	SatMin          float64 `mapstructure:"sat_min"`
	SatMax          float64 `mapstructure:"sat_max"`
	ValMin          float64 `mapstructure:"val_min"`
	ValMax          float64 `mapstructure:"val_max"`
	MaxColors       int     `mapstructure:"max_colors"`
	DeltaEThreshold float64 `mapstructure:"delta_e_threshold"`
	SampleStride    int     `mapstructure:"sample_stride"`
}

// DiversityConfig holds the scoring penalty weights
type DiversityConfig struct {
	DuplicateStyleTagPenalty float64 `mapstructure:"duplicate_style_tag_penalty"`
	PaletteOverlapPenalty    float64 `mapstructure:"palette_overlap_penalty"`
	DuplicateTitlePenalty    float64 `mapstructure:"duplicate_title_penalty"`
	ItemOverlapPenalty       float64 `mapstructure:"item_overlap_penalty"`
}

// EngineConfig holds orchestration settings
type EngineConfig struct {
	MaxConcurrent int64 `mapstructure:"max_concurrent"`
	RefineWorkers int   `mapstructure:"refine_workers"`
	RefineQueue   int   `mapstructure:"refine_queue"`
}

// WarmupConfig controls startup cache warming
type WarmupConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PresetDir string        `mapstructure:"preset_dir"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// AWSConfig holds AWS service configuration. An empty topic ARN
// disables SNS incident publishing.
type AWSConfig struct {
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Rate limit defaults
	v.SetDefault("rate_limit.requests_per_window", 60)
	v.SetDefault("rate_limit.window", "1m")

	// Cache defaults
	v.SetDefault("cache.l1_max_size", 1000)
	v.SetDefault("cache.l1_max_ttl", "1m")
	v.SetDefault("cache.result_ttl", "24h")

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Provider defaults
	v.SetDefault("providers.max_backoff", "8s")
	v.SetDefault("providers.timeout", "30s")
	v.SetDefault("providers.rate_limit_rpm", 60)

	// Extraction defaults
	v.SetDefault("extraction.roi_fraction", 0.35)
	v.SetDefault("extraction.sat_min", 0.05)
	v.SetDefault("extraction.sat_max", 0.95)
	v.SetDefault("extraction.val_min", 0.12)
	v.SetDefault("extraction.val_max", 0.88)
	v.SetDefault("extraction.max_colors", 10)
	v.SetDefault("extraction.delta_e_threshold", 15.0)
	v.SetDefault("extraction.sample_stride", 2)

	// Diversity defaults
	v.SetDefault("diversity.duplicate_style_tag_penalty", 25.0)
	v.SetDefault("diversity.palette_overlap_penalty", 20.0)
	v.SetDefault("diversity.duplicate_title_penalty", 15.0)
	v.SetDefault("diversity.item_overlap_penalty", 10.0)

	// Engine defaults
	v.SetDefault("engine.max_concurrent", 8)
	v.SetDefault("engine.refine_workers", 2)
	v.SetDefault("engine.refine_queue", 32)

	// Warmup defaults
	v.SetDefault("warmup.enabled", false)
	v.SetDefault("warmup.preset_dir", "assets/presets")
	v.SetDefault("warmup.timeout", "30s")

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", true)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("rate limit requests per window must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be > 0")
	}

	if c.Cache.L1MaxSize <= 0 {
		return fmt.Errorf("L1 cache size must be > 0")
	}
	if c.Cache.ResultTTL <= 0 {
		return fmt.Errorf("result TTL must be > 0")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if len(c.Providers.Candidates) == 0 {
		return fmt.Errorf("at least one provider candidate is required")
	}
	seen := make(map[string]bool, len(c.Providers.Candidates))
	for i, cand := range c.Providers.Candidates {
		if cand.Name == "" {
			return fmt.Errorf("provider candidate %d has no name", i)
		}
		if seen[cand.Name] {
			return fmt.Errorf("duplicate provider candidate: %s", cand.Name)
		}
		seen[cand.Name] = true
		if cand.BaseURL == "" {
			return fmt.Errorf("provider %s has no base URL", cand.Name)
		}
		if cand.MaxRetries < 0 {
			return fmt.Errorf("provider %s has negative max retries", cand.Name)
		}
	}

	if c.Extraction.ROIFraction <= 0 || c.Extraction.ROIFraction > 1 {
		return fmt.Errorf("ROI fraction must be in (0, 1]")
	}
	if c.Extraction.DeltaEThreshold <= 0 {
		return fmt.Errorf("delta E threshold must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	if c.AWS.SNSTopicARN != "" && c.AWS.Region == "" {
		return fmt.Errorf("AWS region is required when an SNS topic is configured")
	}

	if c.Warmup.Enabled && c.Warmup.PresetDir == "" {
		return fmt.Errorf("warmup preset directory is required when warmup is enabled")
	}

	return nil
}
