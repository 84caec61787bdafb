package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"selkie/internal/fileutil"
)

// Load reads configuration from the config file, then applies environment
// overrides. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	loadFromEnv(cfg)

	return cfg, nil
}

// Dir returns the directory holding the config file and the log file.
func Dir() string {
	p := getConfigPath()
	if p == "" {
		return ""
	}
	return filepath.Dir(p)
}

// getConfigPath returns the path to the config file.
func getConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "selkie", "config.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		appSupport := filepath.Join(homeDir, "Library", "Application Support", "selkie", "config.yaml")
		if _, err := os.Stat(appSupport); err == nil {
			return appSupport
		}
		dotConfig := filepath.Join(homeDir, ".config", "selkie", "config.yaml")
		if _, err := os.Stat(dotConfig); err == nil {
			return dotConfig
		}
		return appSupport
	}

	return filepath.Join(homeDir, ".config", "selkie", "config.yaml")
}

// loadFromFile loads configuration from a YAML file. Environment variable
// references in the file are expanded before parsing.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// loadFromEnv applies environment overrides. API keys are not handled
// here; the security package resolves those at client creation.
func loadFromEnv(cfg *Config) {
	if model := os.Getenv("SELKIE_MODEL"); model != "" {
		cfg.Model.Name = model
	}
	if provider := os.Getenv("SELKIE_PROVIDER"); provider != "" {
		cfg.Model.Provider = provider
	}
	if url := os.Getenv("SELKIE_OLLAMA_URL"); url != "" {
		cfg.API.OllamaBaseURL = url
	} else if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.API.OllamaBaseURL = host
	}
	if level := os.Getenv("SELKIE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dir := os.Getenv("SELKIE_CACHE_DIR"); dir != "" {
		cfg.Cache.Dir = dir
	}
	if tokens := os.Getenv("SELKIE_MAX_TOKENS"); tokens != "" {
		if n, err := strconv.Atoi(tokens); err == nil && n > 0 {
			cfg.Context.MaxTokens = n
		}
	}
}

// Validate checks the configuration for values no component can honor.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "", "ollama", "gemini":
	default:
		return fmt.Errorf("unknown provider %q (expected ollama or gemini)", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if c.Context.MaxFileSize < 0 {
		return fmt.Errorf("context.max_file_size cannot be negative")
	}
	return nil
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() string {
	return getConfigPath()
}

// Save writes the configuration atomically. The file may hold API keys,
// so it is owner-readable only.
func (c *Config) Save() error {
	configPath := getConfigPath()
	if configPath == "" {
		return fmt.Errorf("could not determine config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := fileutil.AtomicWrite(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
