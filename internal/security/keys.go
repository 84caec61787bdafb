package security

import (
	"fmt"
	"os"
	"strings"
)

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnvironment KeySource = "environment"
	KeySourceConfig      KeySource = "config"
	KeySourceNotSet      KeySource = "not_set"
)

// LoadedKey represents a loaded API key with its provenance.
type LoadedKey struct {
	Value  string
	Source KeySource
}

// IsSet returns true if the key has a value.
func (k *LoadedKey) IsSet() bool {
	return k != nil && k.Value != ""
}

// String hides the key value; only a short prefix is shown for debugging.
func (k *LoadedKey) String() string {
	if !k.IsSet() {
		return "LoadedKey{Source: not_set}"
	}
	prefix := k.Value
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("LoadedKey{Source: %s, Value: %s...}", k.Source, prefix)
}

// GetAPIKey loads an API key, environment variables first so deployments
// never need keys in config files, then the config value as fallback.
func GetAPIKey(envVarNames []string, configValue string) *LoadedKey {
	for _, envVar := range envVarNames {
		if value := os.Getenv(envVar); value != "" {
			return &LoadedKey{Value: value, Source: KeySourceEnvironment}
		}
	}

	if configValue != "" {
		return &LoadedKey{Value: configValue, Source: KeySourceConfig}
	}

	return &LoadedKey{Source: KeySourceNotSet}
}

// GetGeminiKey loads the Gemini API key.
//
// Environment variables checked, in priority order: SELKIE_GEMINI_KEY,
// GEMINI_API_KEY, GOOGLE_API_KEY.
func GetGeminiKey(configKey string) *LoadedKey {
	return GetAPIKey([]string{
		"SELKIE_GEMINI_KEY",
		"GEMINI_API_KEY",
		"GOOGLE_API_KEY",
	}, configKey)
}

// GetOllamaKey loads the optional Ollama API key. Local Ollama servers do
// not need one; remote deployments behind auth do.
//
// Environment variables checked, in priority order: SELKIE_OLLAMA_KEY,
// OLLAMA_API_KEY.
func GetOllamaKey(configKey string) *LoadedKey {
	return GetAPIKey([]string{
		"SELKIE_OLLAMA_KEY",
		"OLLAMA_API_KEY",
	}, configKey)
}

// MaskKey masks an API key for logging: first 4 and last 4 characters kept.
func MaskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// ValidateKeyFormat is a sanity check for obviously invalid keys, not a
// provider-side validation.
func ValidateKeyFormat(key string) error {
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if len(key) < 10 {
		return fmt.Errorf("API key too short (expected at least 10 characters, got %d)", len(key))
	}

	lower := strings.ToLower(key)
	placeholders := []string{
		"your-api-key",
		"your_api_key",
		"api_key",
		"sk-xxxx",
		"<insert-key>",
	}
	for _, placeholder := range placeholders {
		if strings.Contains(lower, placeholder) {
			return fmt.Errorf("API key appears to be a placeholder: %s", placeholder)
		}
	}

	return nil
}
