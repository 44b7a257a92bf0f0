// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the scholar-pipeline CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/internal/config"
	"github.com/pdiddy/scholar-pipeline/internal/secrets"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// cfg is the resolved configuration for the running command.
var cfg *types.PipelineConfig

// flagKeys maps command-line flags onto configuration keys. A flag only
// overrides the configuration when it is set explicitly.
var flagKeys = map[string][]string{
	"log-level":  {"log.level"},
	"log-format": {"log.format"},

	"source":         {"acquisition.source"},
	"pages":          {"acquisition.pages"},
	"ylo":            {"acquisition.year_floor"},
	"proxy":          {"acquisition.proxy"},
	"mirror":         {"acquisition.mirror"},
	"sdt":            {"acquisition.sdt"},
	"per-page":       {"acquisition.per_page"},
	"cookie-path":    {"acquisition.cookie_path"},
	"openalex-email": {"acquisition.openalex_email"},

	"no-crossref":     {"enrichment.disable_crossref"},
	"no-semantic":     {"enrichment.disable_semantic"},
	"semantic-key":    {"enrichment.semantic_api_key"},
	"crossref-mailto": {"enrichment.crossref_mailto"},

	"easyscholar-key": {"ranking.api_key"},
	"sciif":           {"ranking.thresholds.sciif"},
	"jci":             {"ranking.thresholds.jci"},
	"sci":             {"ranking.thresholds.sci"},
	"sci-up-top":      {"ranking.thresholds.sci_up_top"},
	"sci-base":        {"ranking.thresholds.sci_base"},
	"sci-up":          {"ranking.thresholds.sci_up"},

	"llm-provider":  {"llm.provider"},
	"llm-base-url":  {"llm.base_url"},
	"llm-key":       {"llm.api_key"},
	"llm-model":     {"llm.model"},
	"topic":         {"llm.topic"},
	"group-size":    {"llm.group_size"},
	"max-in-flight": {"llm.max_in_flight"},

	"output":   {"output.dir"},
	"cache-db": {"cache.path"},

	"host":            {"server.host"},
	"port":            {"server.port"},
	"allowed-origins": {"server.allowed_origins"},
}

// applyFlags copies explicitly set flags of cmd into v.
func applyFlags(v *viper.Viper, cmd *cobra.Command) {
	for name, keys := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		for _, key := range keys {
			v.Set(key, f.Value.String())
		}
	}
}

// loadConfig resolves the configuration for cmd: flags over environment
// and config file, with secrets filling any credential still empty.
func loadConfig(cmd *cobra.Command) (*types.PipelineConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "loading .env")
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	v := config.New(cfgFile)
	if err := config.ReadFile(v); err != nil {
		return nil, err
	}
	applyFlags(v, cmd)

	c, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	s, err := secrets.Load(secrets.DefaultDir)
	if err != nil {
		return nil, err
	}
	s.Apply(c)

	if err := config.InitLogger(c.Log); err != nil {
		return nil, eris.Wrap(err, "init logger")
	}
	if used := v.ConfigFileUsed(); used != "" {
		zap.L().Debug("using config file", zap.String("path", used))
	}
	if names := s.Names(); len(names) > 0 {
		sort.Strings(names)
		zap.L().Debug("loaded secrets", zap.Strings("keys", names))
	}
	return c, nil
}

// rootCmd is the base command for the scholar-pipeline CLI.
var rootCmd = &cobra.Command{
	Use:   "scholar-pipeline",
	Short: "Keyword search, enrichment, ranking and relevance screening of academic papers",
	Long: `scholar-pipeline searches Google Scholar (or OpenAlex) for a keyword and runs
the results through a staged pipeline: DOI resolution via Crossref, abstract
and PDF enrichment via Semantic Scholar, journal-ranking filters via
EasyScholar, merging, and LLM relevance classification against a topic.

Every stage writes its own CSV under the run directory so partial runs keep
their results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./scholar-pipeline.yaml or ~/.config/scholar-pipeline/scholar-pipeline.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console or json")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
