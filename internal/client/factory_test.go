package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		want     string
	}{
		{"ollama", "gemini-2.0-flash", "ollama"},
		{"gemini", "llama3.2", "gemini"},
		{"", "gemini-2.0-flash", "gemini"},
		{"", "Gemini-1.5-pro", "gemini"},
		{"", "qwen2.5-coder", "ollama"},
		{"", "llama3.2", "ollama"},
		{"", "deepseek-r1", "ollama"},
		{"", "mistral-nemo", "ollama"},
		{"", "phi4", "ollama"},
		{"", "some-unknown-model", "ollama"},
		{"bogus", "gemini-2.0-flash", "gemini"},
	}

	for _, tt := range tests {
		got := resolveProvider(tt.provider, tt.model)
		require.Equal(t, tt.want, got, "provider=%q model=%q", tt.provider, tt.model)
	}
}
