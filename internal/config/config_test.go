// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// chdirTemp moves into an empty directory so no config file is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func load(t *testing.T, cfgFile string) (*types.PipelineConfig, error) {
	t.Helper()
	v := New(cfgFile)
	require.NoError(t, ReadFile(v))
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, "gscholar", cfg.Acquisition.Source)
	assert.Equal(t, "1", cfg.Acquisition.Pages)
	assert.Equal(t, time.Now().Year()-5, cfg.Acquisition.YearFloor)
	assert.Equal(t, "0,5", cfg.Acquisition.SDT)
	assert.Equal(t, 500*time.Millisecond, cfg.Acquisition.PageDelayMin)
	assert.Equal(t, 2*time.Second, cfg.Acquisition.PageDelayMax)
	assert.Equal(t, 200, cfg.Acquisition.PerPage)
	assert.True(t, strings.HasSuffix(cfg.Acquisition.CookiePath, ".gscholar_cookies.json"))
	assert.InDelta(t, 0.85, cfg.Enrichment.SimilarityThreshold, 0.0001)
	assert.Equal(t, 3, cfg.Enrichment.CrossrefConcurrency)
	assert.Equal(t, 50, cfg.Enrichment.SemanticBatchSize)
	assert.Equal(t, 600*time.Millisecond, cfg.Ranking.MinInterval)
	assert.Equal(t, 4, cfg.Ranking.Concurrency)
	assert.False(t, cfg.Ranking.Thresholds.Active())
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.LLM.GroupSize)
	assert.Equal(t, 4, cfg.LLM.MaxInFlight)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 0.0001)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxTotalWait)
	assert.InDelta(t, 0.25, cfg.Retry.Jitter, 0.0001)
	assert.Equal(t, 8, cfg.Cache.MaxInFlight)
	assert.Zero(t, cfg.Cache.TTL)
	assert.Empty(t, cfg.Cache.Path)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.StoreMaxAge)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.Equal(t, "./output", cfg.Output.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
acquisition:
  source: openalex
  pages: "1-3"
  year_floor: 2019
  proxy: http://127.0.0.1:7890
ranking:
  api_key: es-key
  thresholds:
    sciif: 5
    sci: [q1, Q2]
    sci_up_top: 1区
llm:
  topic: battery health
  max_in_flight: 20
enrichment:
  semantic_batch_size: 500
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scholar-pipeline.yaml"), []byte(yaml), 0o644))

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, "openalex", cfg.Acquisition.Source)
	assert.Equal(t, "1-3", cfg.Acquisition.Pages)
	assert.Equal(t, 2019, cfg.Acquisition.YearFloor)
	assert.Equal(t, "http://127.0.0.1:7890", cfg.Acquisition.Proxy)
	assert.Equal(t, "es-key", cfg.Ranking.APIKey)
	require.NotNil(t, cfg.Ranking.Thresholds.SCIIF)
	assert.InDelta(t, 5.0, *cfg.Ranking.Thresholds.SCIIF, 0.0001)
	assert.Nil(t, cfg.Ranking.Thresholds.JCI)
	assert.Equal(t, []string{"Q1", "Q2"}, cfg.Ranking.Thresholds.Partitions)
	assert.Equal(t, "1区", cfg.Ranking.Thresholds.SCIUpTop)
	assert.Equal(t, "battery health", cfg.LLM.Topic)
	assert.Equal(t, 8, cfg.LLM.MaxInFlight, "clamped")
	assert.Equal(t, 50, cfg.Enrichment.SemanticBatchSize, "clamped")
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values.
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoadExplicitFile(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  dir: /tmp/runs\n"), 0o644))

	cfg, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/runs", cfg.Output.Dir)
}

func TestLoadAllowedOriginsFromFlagString(t *testing.T) {
	chdirTemp(t)
	v := New("")
	require.NoError(t, ReadFile(v))
	v.Set("server.allowed_origins", "https://a.example,https://b.example")
	v.Set("server.port", "8080")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestReadFileMissingExplicitFile(t *testing.T) {
	chdirTemp(t)
	v := New(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, ReadFile(v))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scholar-pipeline.yaml"),
		[]byte("llm:\n  model: gpt-4o\nlog:\n  level: debug\n"), 0o644))

	t.Setenv("SCHOLAR_PIPELINE_LLM_MODEL", "claude-haiku-4-5-20251001")
	t.Setenv("SCHOLAR_PIPELINE_LOG_LEVEL", "warn")
	t.Setenv("SCHOLAR_PIPELINE_RETRY_BASE_DELAY", "250ms")

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.LLM.Model)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := chdirTemp(t)
	yaml := `
acquisition:
  source: bing
  pages: "5-1"
llm:
  provider: mystery
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scholar-pipeline.yaml"), []byte(yaml), 0o644))

	_, err := load(t, "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "acquisition.source")
	assert.Contains(t, err.Error(), "acquisition.pages")
	assert.Contains(t, err.Error(), "llm.provider")
}

// --- Validate ---

func validConfig() *types.PipelineConfig {
	cfg := &types.PipelineConfig{}
	cfg.Acquisition.Source = "gscholar"
	cfg.Acquisition.Pages = "1"
	cfg.Enrichment.SimilarityThreshold = 0.85
	cfg.Enrichment.CrossrefConcurrency = 3
	cfg.Ranking.Concurrency = 4
	cfg.LLM.Provider = "openai"
	cfg.Retry.MaxAttempts = 3
	cfg.Log.Format = "json"
	cfg.Server.Port = 3000
	return cfg
}

func TestValidate(t *testing.T) {
	neg := -1.0
	tests := []struct {
		name    string
		mutate  func(c *types.PipelineConfig)
		wantErr string
	}{
		{"valid", func(*types.PipelineConfig) {}, ""},
		{"anthropic provider", func(c *types.PipelineConfig) { c.LLM.Provider = "anthropic" }, ""},
		{"similarity zero", func(c *types.PipelineConfig) { c.Enrichment.SimilarityThreshold = 0 }, "similarity_threshold"},
		{"similarity above one", func(c *types.PipelineConfig) { c.Enrichment.SimilarityThreshold = 1.2 }, "similarity_threshold"},
		{"negative sciif", func(c *types.PipelineConfig) { c.Ranking.Thresholds.SCIIF = &neg }, "sciif"},
		{"negative jci", func(c *types.PipelineConfig) { c.Ranking.Thresholds.JCI = &neg }, "jci"},
		{"bad partition", func(c *types.PipelineConfig) { c.Ranking.Thresholds.Partitions = []string{"Q7"} }, "thresholds.sci"},
		{"page delays inverted", func(c *types.PipelineConfig) {
			c.Acquisition.PageDelayMin = 2 * time.Second
			c.Acquisition.PageDelayMax = time.Second
		}, "page_delay_max"},
		{"zero attempts", func(c *types.PipelineConfig) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"jitter too high", func(c *types.PipelineConfig) { c.Retry.Jitter = 1 }, "jitter"},
		{"bad log format", func(c *types.PipelineConfig) { c.Log.Format = "xml" }, "log.format"},
		{"port out of range", func(c *types.PipelineConfig) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// --- Resolve ---

func TestResolve(t *testing.T) {
	cfg := types.PipelineConfig{}
	cfg.LLM.Provider = " OpenAI "
	cfg.Acquisition.Source = "GScholar"
	cfg.Ranking.Thresholds.Partitions = []string{" q1", "q3"}

	Resolve(&cfg, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 2021, cfg.Acquisition.YearFloor)
	assert.Equal(t, 1, cfg.Enrichment.SemanticBatchSize)
	assert.Equal(t, 1, cfg.LLM.MaxInFlight)
	assert.Equal(t, 1, cfg.LLM.GroupSize)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gscholar", cfg.Acquisition.Source)
	assert.Equal(t, []string{"Q1", "Q3"}, cfg.Ranking.Thresholds.Partitions)

	cfg.Acquisition.YearFloor = 2015
	Resolve(&cfg, time.Now())
	assert.Equal(t, 2015, cfg.Acquisition.YearFloor, "explicit floor kept")
}

// --- InitLogger ---

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(types.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(types.LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(types.LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
