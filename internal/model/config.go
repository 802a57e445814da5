package model

import "time"

// Config is the complete runtime configuration. It is loaded once at startup
// (flags > CAREMATCH_* env > config file > defaults) and treated as
// immutable afterwards.
type Config struct {
	Sources     []SourceConfig    `yaml:"sources" mapstructure:"sources"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Scoring     ScoringFileConfig `yaml:"scoring" mapstructure:"scoring"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
}

// SourceConfig describes one enrichment source. Immutable after load.
type SourceConfig struct {
	Name       string        `yaml:"name" mapstructure:"name"`
	Capability string        `yaml:"capability" mapstructure:"capability"` // e.g. "regulator", "reviews", "funding"
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	RateLimit  float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	Burst      int           `yaml:"burst" mapstructure:"burst"`
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
}

// ConcurrencyConfig bounds parallel work.
type ConcurrencyConfig struct {
	EnrichmentWorkers int `yaml:"enrichment_workers" mapstructure:"enrichment_workers"` // Token pool shared by one candidate's fan-out
	BatchWorkers      int `yaml:"batch_workers" mapstructure:"batch_workers"`           // Concurrent match requests in batch mode
}

// CacheConfig controls the enrichment cache layers.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL     time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"` // Empty disables the redis layer
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
}

// RetryConfig bounds the recovery coordinator.
type RetryConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	MaxTotalTime      time.Duration `yaml:"max_total_time" mapstructure:"max_total_time"` // Wall-clock ceiling per job
	SweepInterval     time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"` // Background retry sweep cadence
}

// ScoringFileConfig points at the scoring tables. Empty path means the
// built-in defaults.
type ScoringFileConfig struct {
	ConfigFile string `yaml:"config_file" mapstructure:"config_file"`
}

// LLMConfig configures the optional narrative summarizer.
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // "openai" or "" (disabled)
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OutputConfig controls CLI output behavior.
type OutputConfig struct {
	Verbose  bool `yaml:"verbose" mapstructure:"verbose"`
	JSONLogs bool `yaml:"json_logs" mapstructure:"json_logs"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Sources: []SourceConfig{
			{
				Name:       "regulator",
				Capability: "regulator",
				BaseURL:    "https://api.regulator.example/v1",
				Timeout:    15 * time.Second,
				CacheTTL:   7 * 24 * time.Hour,
				RateLimit:  5,
				Burst:      5,
				Enabled:    true,
			},
			{
				Name:       "reviews",
				Capability: "reviews",
				BaseURL:    "https://api.reviews.example/v2",
				Timeout:    10 * time.Second,
				CacheTTL:   24 * time.Hour,
				RateLimit:  2,
				Burst:      3,
				Enabled:    true,
			},
			{
				Name:       "funding",
				Capability: "funding",
				BaseURL:    "https://api.funding.example/v1",
				Timeout:    10 * time.Second,
				CacheTTL:   14 * 24 * time.Hour,
				RateLimit:  2,
				Burst:      3,
				Enabled:    true,
			},
		},
		Concurrency: ConcurrencyConfig{
			EnrichmentWorkers: 4,
			BatchWorkers:      2,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: time.Hour,
		},
		Retry: RetryConfig{
			BaseDelay:         30 * time.Second,
			BackoffMultiplier: 2,
			MaxRetries:        5,
			MaxTotalTime:      3 * time.Hour,
			SweepInterval:     time.Minute,
		},
		LLM: LLMConfig{
			Provider:  "", // Disabled by default
			Timeout:   30,
			MaxTokens: 1000,
		},
	}
}

// SourceByName returns the configuration for a named source.
func (c *Config) SourceByName(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// EnabledSources returns the names of all enabled sources.
func (c *Config) EnabledSources() []string {
	var names []string
	for _, s := range c.Sources {
		if s.Enabled {
			names = append(names, s.Name)
		}
	}
	return names
}
