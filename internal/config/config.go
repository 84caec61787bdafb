package config

import "time"

// Config is the full application configuration.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	API      APIConfig      `yaml:"api"`
	Context  ContextConfig  `yaml:"context"`
	Cache    CacheConfig    `yaml:"cache"`
	Executor ExecutorConfig `yaml:"executor"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Logging  LoggingConfig  `yaml:"logging"`
	Audit    AuditConfig    `yaml:"audit"`

	// Runtime version information
	Version string `yaml:"-"`
}

// ModelConfig selects the model and its generation parameters.
type ModelConfig struct {
	Provider        string  `yaml:"provider"` // "ollama" or "gemini"; empty = detect from name
	Name            string  `yaml:"name"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
}

// APIConfig holds transport settings shared by the model clients.
type APIConfig struct {
	// Separate keys per provider. Environment variables take precedence.
	GeminiKey string `yaml:"gemini_key,omitempty"`
	OllamaKey string `yaml:"ollama_key,omitempty"` // for remote Ollama servers with auth

	// Ollama server URL (default: http://localhost:11434)
	OllamaBaseURL string `yaml:"ollama_base_url,omitempty"`

	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
}

// RetryConfig holds retry settings for API calls.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`  // default: 3
	RetryDelay  time.Duration `yaml:"retry_delay"`  // initial backoff delay, default: 1s
	HTTPTimeout time.Duration `yaml:"http_timeout"` // default: 120s
}

// RateLimitConfig holds client-side rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool  `yaml:"enabled"`
	RequestsPerMinute int   `yaml:"requests_per_minute"`
	TokensPerMinute   int64 `yaml:"tokens_per_minute"`
	BurstSize         int   `yaml:"burst_size"`
}

// BreakerConfig holds circuit breaker settings for the model clients.
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Threshold    int           `yaml:"threshold"`     // consecutive failures before opening
	ResetTimeout time.Duration `yaml:"reset_timeout"` // cool-down before a probe is allowed
}

// ContextConfig bounds what a single turn may assemble.
type ContextConfig struct {
	MaxTokens   int   `yaml:"max_tokens"`    // token budget per turn
	MaxFiles    int   `yaml:"max_files"`     // file budget per turn
	MaxFileSize int64 `yaml:"max_file_size"` // bytes; larger files are indexed but never read
	Parallelism int   `yaml:"parallelism"`   // cold-population workers; 0 = GOMAXPROCS
}

// CacheConfig controls the content cache.
type CacheConfig struct {
	Budget int64  `yaml:"budget"` // decompressed bytes held in memory
	Disk   bool   `yaml:"disk"`   // persist entries across runs
	Dir    string `yaml:"dir"`    // override; empty = user cache dir keyed by project
}

// ExecutorConfig controls action execution.
type ExecutorConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"` // default per-command deadline
	MaxOutputChars int           `yaml:"max_output_chars"`
	Backups        bool          `yaml:"backups"` // keep .backup/.deleted copies
}

// WatcherConfig holds file watcher settings.
type WatcherConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"`
	MaxWatches int  `yaml:"max_watches"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  bool   `yaml:"file"`  // also log to the config-dir log file
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:        "ollama",
			Name:            "qwen2.5-coder",
			Temperature:     0.7,
			MaxOutputTokens: 8192,
		},
		API: APIConfig{
			Retry: RetryConfig{
				MaxRetries:  3,
				RetryDelay:  1 * time.Second,
				HTTPTimeout: 120 * time.Second,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				TokensPerMinute:   1000000,
				BurstSize:         10,
			},
			Breaker: BreakerConfig{
				Enabled:      true,
				Threshold:    5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Context: ContextConfig{
			MaxTokens:   50000,
			MaxFiles:    100,
			MaxFileSize: 1 << 20,
		},
		Cache: CacheConfig{
			Budget: 64 << 20,
			Disk:   true,
		},
		Executor: ExecutorConfig{
			CommandTimeout: 30 * time.Second,
			MaxOutputChars: 30000,
			Backups:        true,
		},
		Watcher: WatcherConfig{
			Enabled:    false,
			DebounceMs: 500,
			MaxWatches: 1000,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}
