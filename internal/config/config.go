// Package config loads and validates control plane configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Elastic      ElasticConfig      `mapstructure:"elastic"`
	Search       SearchConfig       `mapstructure:"search"`
	Translate    TranslateConfig    `mapstructure:"translate"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     DatabaseConfig     `mapstructure:"database"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Events       EventsConfig       `mapstructure:"events"`
	Terminator   TerminatorConfig   `mapstructure:"terminator"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	ReadTimeoutSeconds     int      `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `mapstructure:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	CORSOrigins            []string `mapstructure:"cors_origins"`
	// RateLimitPerMinute caps requests per client IP; 0 disables it.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// ElasticConfig locates the Elasticsearch cluster. When Enabled is false the
// service runs on in-memory stores.
type ElasticConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Addresses          []string `mapstructure:"addresses"`
	Username           string   `mapstructure:"username"`
	Password           string   `mapstructure:"password"`
	APIKey             string   `mapstructure:"api_key"`
	RegistryIndex      string   `mapstructure:"registry_index"`
	ResultsIndex       string   `mapstructure:"results_index"`
	EnsureResultsIndex bool     `mapstructure:"ensure_results_index"`
}

// GuardConfig tunes the breaker and rate limit around an external provider.
type GuardConfig struct {
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	Burst              int     `mapstructure:"burst"`
	FailureRatio       float64 `mapstructure:"failure_ratio"`
	MinRequests        uint32  `mapstructure:"min_requests"`
	OpenTimeoutSeconds int     `mapstructure:"open_timeout_seconds"`
}

// SearchConfig selects the seed URL provider.
type SearchConfig struct {
	// Provider is "colly" or "static".
	Provider       string              `mapstructure:"provider"`
	Endpoint       string              `mapstructure:"endpoint"`
	LinkSelector   string              `mapstructure:"link_selector"`
	RedirectParam  string              `mapstructure:"redirect_param"`
	UserAgent      string              `mapstructure:"user_agent"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Static         map[string][]string `mapstructure:"static"`
	Guard          GuardConfig         `mapstructure:"guard"`
}

// TranslateConfig selects the keyword translator.
type TranslateConfig struct {
	// Provider is "libre" or "identity".
	Provider       string      `mapstructure:"provider"`
	URL            string      `mapstructure:"url"`
	APIKey         string      `mapstructure:"api_key"`
	TimeoutSeconds int         `mapstructure:"timeout_seconds"`
	SourceLanguage string      `mapstructure:"source_language"`
	CacheTTLHours  int         `mapstructure:"cache_ttl_hours"`
	Guard          GuardConfig `mapstructure:"guard"`
}

// RedisConfig points at the translation cache. An empty Addr keeps the
// cache in process memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig controls the lifecycle audit store. An empty DSN disables it.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate         bool   `mapstructure:"migrate"`
}

// PubSubConfig holds lifecycle notification settings. An empty ProjectID
// publishes to an in-memory topic.
type PubSubConfig struct {
	ProjectID string   `mapstructure:"project_id"`
	TopicName string   `mapstructure:"topic_name"`
	Stages    []string `mapstructure:"stages"`
}

// StorageConfig sets where crawl snapshots are archived. An empty bucket
// archives in memory.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig tunes the lifecycle event hub.
type EventsConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// TerminatorConfig schedules the sweep that stops finished crawls.
type TerminatorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// CapabilitiesConfig lists what the UI may offer.
type CapabilitiesConfig struct {
	Languages []string `mapstructure:"languages"`
	Countries []string `mapstructure:"countries"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_minute", 0)
	v.SetDefault("elastic.enabled", true)
	v.SetDefault("elastic.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elastic.registry_index", "crawls")
	v.SetDefault("elastic.results_index", "results")
	v.SetDefault("elastic.ensure_results_index", false)
	v.SetDefault("search.provider", "colly")
	v.SetDefault("search.endpoint", "https://html.duckduckgo.com/html/?q={query}&kl={lang}")
	v.SetDefault("search.link_selector", "a.result__a")
	v.SetDefault("search.redirect_param", "uddg")
	v.SetDefault("search.user_agent", "crawlctl/0.1")
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("search.guard.requests_per_second", 1.0)
	v.SetDefault("search.guard.burst", 1)
	v.SetDefault("search.guard.failure_ratio", 0.6)
	v.SetDefault("search.guard.min_requests", 3)
	v.SetDefault("search.guard.open_timeout_seconds", 60)
	v.SetDefault("translate.provider", "identity")
	v.SetDefault("translate.timeout_seconds", 10)
	v.SetDefault("translate.source_language", "en")
	v.SetDefault("translate.cache_ttl_hours", 720)
	v.SetDefault("translate.guard.requests_per_second", 5.0)
	v.SetDefault("translate.guard.burst", 5)
	v.SetDefault("translate.guard.failure_ratio", 0.6)
	v.SetDefault("translate.guard.min_requests", 3)
	v.SetDefault("translate.guard.open_timeout_seconds", 30)
	v.SetDefault("database.table", "crawl_events")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.migrate", true)
	v.SetDefault("pubsub.topic_name", "crawl-lifecycle")
	v.SetDefault("storage.prefix", "crawls")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_batch_wait_ms", 1000)
	v.SetDefault("events.sink_timeout_ms", 10000)
	v.SetDefault("terminator.enabled", true)
	v.SetDefault("terminator.schedule", "@every 1m")
	v.SetDefault("capabilities.languages", []string{"en", "de", "fr", "es", "it", "nl", "pt"})
	v.SetDefault("capabilities.countries", []string{"de", "fr", "gb", "it", "nl", "us"})
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must be >= 0")
	}
	if c.Elastic.Enabled {
		if len(c.Elastic.Addresses) == 0 {
			return fmt.Errorf("elastic.addresses must be set when elastic is enabled")
		}
		if c.Elastic.RegistryIndex == "" || c.Elastic.ResultsIndex == "" {
			return fmt.Errorf("elastic.registry_index and elastic.results_index are required")
		}
	}
	switch c.Search.Provider {
	case "colly":
		if !strings.Contains(c.Search.Endpoint, "{query}") {
			return fmt.Errorf("search.endpoint must contain {query}")
		}
		if c.Search.LinkSelector == "" {
			return fmt.Errorf("search.link_selector is required for the colly provider")
		}
	case "static":
	default:
		return fmt.Errorf("search.provider must be colly or static, got %q", c.Search.Provider)
	}
	switch c.Translate.Provider {
	case "libre":
		if c.Translate.URL == "" {
			return fmt.Errorf("translate.url is required for the libre provider")
		}
	case "identity":
	default:
		return fmt.Errorf("translate.provider must be libre or identity, got %q", c.Translate.Provider)
	}
	if c.Translate.SourceLanguage == "" {
		return fmt.Errorf("translate.source_language is required")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Terminator.Enabled {
		if _, err := cron.ParseStandard(c.Terminator.Schedule); err != nil {
			return fmt.Errorf("terminator.schedule: %w", err)
		}
	}
	return nil
}

// Seconds converts a whole-second knob to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
