// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) string
		want   Secrets
		errMsg string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "easyscholar-api-key", "  es_abc123  \n")
				writeFile(t, dir, "semantic-scholar-api-key", "sk_xyz789")
				writeFile(t, dir, "openalex-email", "user@example.com\n")
				return dir
			},
			want: Secrets{
				"easyscholar-api-key":      "es_abc123",
				"semantic-scholar-api-key": "sk_xyz789",
				"openalex-email":           "user@example.com",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: Secrets{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "anthropic-api-key", "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: Secrets{
				"anthropic-api-key": "valid-key",
			},
		},
		{
			name: "skips dotfiles",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, "llm-api-key", "sk_real")
				return dir
			},
			want: Secrets{
				"llm-api-key": "sk_real",
			},
		},
		{
			name: "skips subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "anthropic-api-key", "ak_123")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: Secrets{
				"anthropic-api-key": "ak_123",
			},
		},
		{
			name: "returns empty map for empty directory",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
			want: Secrets{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.setup(t)
			got, err := Load(dir)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good-key", "value123")

	// Create a file then remove read permission.
	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	got, err := Load(dir)
	require.NoError(t, err)
	// The good file should still be returned; the bad file is skipped with a warning.
	assert.Equal(t, "value123", got["good-key"])
	_, hasBad := got["bad-key"]
	assert.False(t, hasBad, "unreadable file should not appear in result")
}

func TestApplyFillsOnlyEmptyFields(t *testing.T) {
	s := Secrets{
		EasyScholarKey: "es-file",
		SemanticKey:    "s2-file",
		LLMKey:         "llm-file",
		OpenAlexEmail:  "me@example.org",
		CrossrefMailto: "cr@example.org",
	}
	var cfg types.PipelineConfig
	cfg.Ranking.APIKey = "es-flag"

	s.Apply(&cfg)

	assert.Equal(t, "es-flag", cfg.Ranking.APIKey, "explicit value wins")
	assert.Equal(t, "s2-file", cfg.Enrichment.SemanticAPIKey)
	assert.Equal(t, "llm-file", cfg.LLM.APIKey)
	assert.Equal(t, "me@example.org", cfg.Acquisition.OpenAlexEmail)
	assert.Equal(t, "cr@example.org", cfg.Enrichment.CrossrefMailto)
}

func TestApplyPrefersAnthropicKeyForAnthropic(t *testing.T) {
	s := Secrets{LLMKey: "sk-openai", AnthropicKey: "sk-ant"}

	var anth types.PipelineConfig
	anth.LLM.Provider = "anthropic"
	s.Apply(&anth)
	assert.Equal(t, "sk-ant", anth.LLM.APIKey)

	var oai types.PipelineConfig
	oai.LLM.Provider = "openai"
	s.Apply(&oai)
	assert.Equal(t, "sk-openai", oai.LLM.APIKey)
}

func TestNames(t *testing.T) {
	s := Secrets{LLMKey: "a", SemanticKey: "b"}
	assert.ElementsMatch(t, []string{LLMKey, SemanticKey}, s.Names())
	assert.Empty(t, Secrets{}.Names())
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
