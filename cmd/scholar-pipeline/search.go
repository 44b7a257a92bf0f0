// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pdiddy/scholar-pipeline/internal/acquire"
	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/pipeline"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search for a keyword and run the full pipeline",
	Long: `Search acquires candidate papers for the keyword, enriches them with DOIs,
abstracts and PDF links, filters them by journal ranking, merges duplicates,
and classifies each remaining paper for relevance to --topic.

Stages without the credentials they need are skipped: ranking needs an
EasyScholar key, classification needs an LLM key and a topic. Ranking
thresholds only apply when given explicitly.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.String("source", "", "acquisition source: gscholar or openalex")
	f.String("pages", "", `page number or range, e.g. "1" or "1-5"`)
	f.Int("ylo", 0, "earliest publication year (default: five years ago)")
	f.String("proxy", "", "proxy URL for acquisition requests")
	f.String("mirror", "", "Google Scholar mirror base URL")
	f.String("sdt", "", `Scholar source-type filter (default "0,5")`)
	f.Int("per-page", 0, "OpenAlex page size (max 200)")
	f.String("cookie-path", "", "Scholar cookie file")
	f.String("openalex-email", "", "mailto for the OpenAlex polite pool")
	f.String("output", "", "output root directory")

	f.Bool("no-crossref", false, "skip Crossref DOI resolution")
	f.Bool("no-semantic", false, "skip Semantic Scholar enrichment")
	f.String("semantic-key", "", "Semantic Scholar API key")
	f.String("crossref-mailto", "", "mailto for the Crossref polite pool")

	f.String("easyscholar-key", "", "EasyScholar secret key (enables ranking)")
	f.Float64("sciif", 0, "minimum SCI impact factor")
	f.Float64("jci", 0, "minimum JCI")
	f.String("sci", "", `allowed SCI partitions, e.g. "Q1,Q2"`)
	f.String("sci-up-top", "", "required CAS upgraded top-tier label")
	f.String("sci-base", "", "required CAS base-tier label")
	f.String("sci-up", "", "required CAS upgraded-tier label")

	f.String("llm-provider", "", "LLM provider: openai or anthropic")
	f.String("llm-base-url", "", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "LLM API key (enables classification)")
	f.String("llm-model", "", "LLM model")
	f.String("topic", "", "target domain the papers are judged against")
	f.Int("group-size", 0, "records per classification request")
	f.Int("max-in-flight", 0, "concurrent classification requests (1-8)")

	f.String("cache-db", "", "SQLite file persisting provider lookups across runs")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	keyword := strings.TrimSpace(strings.Join(args, " "))
	if keyword == "" {
		return eris.New("keyword must not be empty")
	}

	pages, err := acquire.ParsePages(cfg.Acquisition.Pages)
	if err != nil {
		return err
	}

	deps, closeDeps, err := openDeps(cfg)
	if err != nil {
		return err
	}
	defer closeDeps()

	q := acquire.Query{Keyword: keyword, Pages: pages, YearFloor: cfg.Acquisition.YearFloor}
	stages, err := pipeline.BuildStages(*cfg, q, deps)
	if err != nil {
		return err
	}

	sink, err := pipeline.NewDirSink(cfg.Output.Dir, keyword, *cfg, time.Now())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	report := pipeline.New(*cfg, stages, sink, w).Run(cmd.Context(), keyword)

	fmt.Fprintf(w, "\nRun %s: %d record(s), %d token(s)\n", report.RunID, len(report.Records), report.TokenUsage.Total())
	fmt.Fprintf(w, "Artifacts in %s\n", sink.Dir())
	if st, ok := report.Stage(pipeline.StageClassify); ok && !st.Skipped {
		fmt.Fprintf(w, "Relevant: %d of %d\n", countRelevant(report.Records), len(report.Records))
	}
	return report.Err
}

// openDeps loads the Scholar session and the optional persistent cache.
func openDeps(c *types.PipelineConfig) (pipeline.Deps, func(), error) {
	var deps pipeline.Deps
	closeFn := func() {}

	if c.Acquisition.Source == acquire.SourceNameScholar {
		session, err := acquire.LoadSession(c.Acquisition.CookiePath)
		if err != nil {
			return deps, closeFn, err
		}
		deps.Session = session
	}

	if c.Cache.Path != "" {
		store, err := cache.OpenSQLiteStore(c.Cache.Path)
		if err != nil {
			return deps, closeFn, err
		}
		deps.Store = store
		closeFn = func() { store.Close() }
	}
	return deps, closeFn, nil
}

func countRelevant(records []types.Record) int {
	n := 0
	for _, r := range records {
		if r.Relevance != nil && r.Relevance.Label == types.LabelRelevant {
			n++
		}
	}
	return n
}
