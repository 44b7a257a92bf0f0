// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config loads the pipeline configuration from viper (file,
// SCHOLAR_PIPELINE_* environment, bound flags) and initialises logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/scholar-pipeline/internal/acquire"
	"github.com/pdiddy/scholar-pipeline/internal/ranking"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

const (
	// EnvPrefix is the environment variable prefix.
	EnvPrefix = "SCHOLAR_PIPELINE"

	// FileName is the config file name searched for without extension.
	FileName = "scholar-pipeline"

	// YearFloorWindow is how many years back the default year floor reaches.
	YearFloorWindow = 5

	maxSemanticBatch = 50
	maxLLMInFlight   = 8
)

// ErrInvalid marks a configuration that fails validation.
var ErrInvalid = eris.New("invalid configuration")

// New returns a viper instance with the config search path, environment
// binding and defaults in place. cfgFile overrides the search path.
func New(cfgFile string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("acquisition.source", acquire.SourceNameScholar)
	v.SetDefault("acquisition.pages", "1")
	v.SetDefault("acquisition.year_floor", 0)
	v.SetDefault("acquisition.sdt", "0,5")
	v.SetDefault("acquisition.page_delay_min", 500*time.Millisecond)
	v.SetDefault("acquisition.page_delay_max", 2*time.Second)
	v.SetDefault("acquisition.per_page", 200)
	v.SetDefault("acquisition.cookie_path", acquire.DefaultSessionPath())
	v.SetDefault("acquisition.timeout", 30*time.Second)
	v.SetDefault("acquisition.user_agent", "scholar-pipeline/0.1")

	v.SetDefault("enrichment.similarity_threshold", 0.85)
	v.SetDefault("enrichment.crossref_concurrency", 3)
	v.SetDefault("enrichment.semantic_batch_size", maxSemanticBatch)
	v.SetDefault("enrichment.timeout", 30*time.Second)
	v.SetDefault("enrichment.user_agent", "scholar-pipeline/0.1")

	v.SetDefault("ranking.min_interval", ranking.DefaultMinInterval)
	v.SetDefault("ranking.concurrency", 4)
	v.SetDefault("ranking.timeout", 30*time.Second)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.group_size", 5)
	v.SetDefault("llm.max_in_flight", 4)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 8*time.Second)
	v.SetDefault("retry.max_total_wait", 30*time.Second)
	v.SetDefault("retry.jitter", 0.25)

	v.SetDefault("cache.max_in_flight", 8)
	v.SetDefault("cache.ttl", time.Duration(0))
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.store_max_age", 30*24*time.Hour)

	v.SetDefault("output.dir", "./output")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// ReadFile reads the config file if one exists. A missing file is not an
// error.
func ReadFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return eris.Wrap(err, "config: read file")
	}
	return nil
}

// Load unmarshals v into a PipelineConfig, resolves run-time defaults and
// validates the result.
func Load(v *viper.Viper) (*types.PipelineConfig, error) {
	var cfg types.PipelineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	Resolve(&cfg, time.Now())
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve fills values that depend on the clock and clamps bounded
// settings into range.
func Resolve(cfg *types.PipelineConfig, now time.Time) {
	if cfg.Acquisition.YearFloor == 0 {
		cfg.Acquisition.YearFloor = now.Year() - YearFloorWindow
	}
	cfg.Enrichment.SemanticBatchSize = clamp(cfg.Enrichment.SemanticBatchSize, 1, maxSemanticBatch)
	cfg.LLM.MaxInFlight = clamp(cfg.LLM.MaxInFlight, 1, maxLLMInFlight)
	if cfg.LLM.GroupSize < 1 {
		cfg.LLM.GroupSize = 1
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Acquisition.Source = strings.ToLower(strings.TrimSpace(cfg.Acquisition.Source))

	t := &cfg.Ranking.Thresholds
	for i, p := range t.Partitions {
		t.Partitions[i] = strings.ToUpper(strings.TrimSpace(p))
	}
}

// Validate checks that cfg is internally consistent. All problems are
// reported together.
func Validate(cfg *types.PipelineConfig) error {
	var errs []string

	switch cfg.Acquisition.Source {
	case acquire.SourceNameScholar, acquire.SourceNameOpenAlex:
	default:
		errs = append(errs, fmt.Sprintf("acquisition.source %q must be %s or %s",
			cfg.Acquisition.Source, acquire.SourceNameScholar, acquire.SourceNameOpenAlex))
	}
	if _, err := acquire.ParsePages(cfg.Acquisition.Pages); err != nil {
		errs = append(errs, fmt.Sprintf("acquisition.pages: %v", err))
	}
	if cfg.Acquisition.PageDelayMax < cfg.Acquisition.PageDelayMin {
		errs = append(errs, "acquisition.page_delay_max must be >= page_delay_min")
	}

	if th := cfg.Enrichment.SimilarityThreshold; th <= 0 || th > 1 {
		errs = append(errs, "enrichment.similarity_threshold must be in (0, 1]")
	}
	if cfg.Enrichment.CrossrefConcurrency < 1 {
		errs = append(errs, "enrichment.crossref_concurrency must be >= 1")
	}

	t := cfg.Ranking.Thresholds
	if t.SCIIF != nil && *t.SCIIF < 0 {
		errs = append(errs, "ranking.thresholds.sciif must be >= 0")
	}
	if t.JCI != nil && *t.JCI < 0 {
		errs = append(errs, "ranking.thresholds.jci must be >= 0")
	}
	if len(t.Partitions) > 0 {
		if _, err := ranking.ParsePartitions(strings.Join(t.Partitions, ",")); err != nil {
			errs = append(errs, fmt.Sprintf("ranking.thresholds.sci: %v", err))
		}
	}
	if cfg.Ranking.Concurrency < 1 {
		errs = append(errs, "ranking.concurrency must be >= 1")
	}

	switch cfg.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q must be openai or anthropic", cfg.LLM.Provider))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		errs = append(errs, "retry.jitter must be in [0, 1)")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d must be in 1..65535", cfg.Server.Port))
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be console or json", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return eris.Wrap(ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg types.LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}
