// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/pdiddy/scholar-pipeline/internal/acquire"
	"github.com/pdiddy/scholar-pipeline/internal/classify"
	"github.com/pdiddy/scholar-pipeline/internal/enrich"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/internal/merge"
	"github.com/pdiddy/scholar-pipeline/internal/ranking"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// Stage names, in run order.
const (
	StageAcquire  = "acquire"
	StageCrossref = "crossref"
	StageSemantic = "semantic"
	StageRanking  = "ranking"
	StageMerge    = "merge"
	StageClassify = "classify"
)

// ErrFatal marks an error that must stop the run.
var ErrFatal = eris.New("fatal stage failure")

// Stage is one step of the pipeline. Run returns a new record set and never
// modifies its input. A non-nil error aborts the run; the records returned
// with it are still reported.
type Stage interface {
	Name() string
	Enabled(cfg types.PipelineConfig) (bool, string)
	Run(ctx context.Context, records []types.Record) ([]types.Record, types.StageStats, error)
}

// --- acquire ---

// AcquireStage runs the configured Source and assigns record IDs.
type AcquireStage struct {
	Source acquire.Source
	Query  acquire.Query
}

func (s *AcquireStage) Name() string { return StageAcquire }

func (s *AcquireStage) Enabled(types.PipelineConfig) (bool, string) { return true, "" }

// Run ignores its input. Records are numbered r001, r002, ... in the order
// the source returned them. A block with nothing gathered is fatal; a block
// after some pages keeps the partial set and marks the stage halted.
func (s *AcquireStage) Run(ctx context.Context, _ []types.Record) ([]types.Record, types.StageStats, error) {
	stats := types.StageStats{Stage: StageAcquire}
	res, err := s.Source.Search(ctx, s.Query)

	records := types.CloneAll(res.Records)
	for i := range records {
		records[i].ID = fmt.Sprintf("r%03d", i+1)
	}
	stats.Processed = len(records)
	stats.Succeeded = len(records)
	stats.FailedRecoverable = res.PagesFailed
	stats.Halted = res.Halted
	stats.HaltReason = res.HaltReason

	if err != nil {
		if len(records) == 0 {
			stats.FailedFatal++
			return records, stats, eris.Wrapf(ErrFatal, "%s: %v", s.Source.Name(), err)
		}
		if httputil.IsRateLimited(err) {
			stats.FailedRecoverable++
			return records, stats, nil
		}
		return records, stats, err
	}
	return records, stats, nil
}

// --- enrichment ---

// CrossrefStage resolves DOIs for records that lack one.
type CrossrefStage struct {
	Client *enrich.CrossrefClient
}

func (s *CrossrefStage) Name() string { return StageCrossref }

func (s *CrossrefStage) Enabled(cfg types.PipelineConfig) (bool, string) {
	if cfg.Enrichment.DisableCrossref {
		return false, "disabled by configuration"
	}
	return true, ""
}

func (s *CrossrefStage) Run(ctx context.Context, records []types.Record) ([]types.Record, types.StageStats, error) {
	return s.Client.Enrich(ctx, records)
}

// SemanticStage adds abstracts, TL;DRs and PDF links by DOI.
type SemanticStage struct {
	Client *enrich.SemanticClient
}

func (s *SemanticStage) Name() string { return StageSemantic }

func (s *SemanticStage) Enabled(cfg types.PipelineConfig) (bool, string) {
	if cfg.Enrichment.DisableSemantic {
		return false, "disabled by configuration"
	}
	return true, ""
}

func (s *SemanticStage) Run(ctx context.Context, records []types.Record) ([]types.Record, types.StageStats, error) {
	return s.Client.Enrich(ctx, records)
}

// --- ranking ---

// RankingStage attaches journal metrics and applies the thresholds.
type RankingStage struct {
	Client   *ranking.EasyScholarClient
	Criteria ranking.Criteria
}

func (s *RankingStage) Name() string { return StageRanking }

func (s *RankingStage) Enabled(cfg types.PipelineConfig) (bool, string) {
	if cfg.Ranking.APIKey == "" {
		return false, "no EasyScholar key configured"
	}
	return true, ""
}

func (s *RankingStage) Run(ctx context.Context, records []types.Record) ([]types.Record, types.StageStats, error) {
	return s.Client.Rank(ctx, records, s.Criteria)
}

// --- merge ---

// MergeStage collapses records that describe the same publication.
type MergeStage struct{}

func (MergeStage) Name() string { return StageMerge }

func (MergeStage) Enabled(types.PipelineConfig) (bool, string) { return true, "" }

func (MergeStage) Run(_ context.Context, records []types.Record) ([]types.Record, types.StageStats, error) {
	out := merge.Dedupe(records)
	stats := types.StageStats{
		Stage:          StageMerge,
		Processed:      len(records),
		Succeeded:      len(out),
		SkippedRecords: len(records) - len(out),
	}
	return out, stats, nil
}

// --- classify ---

// ClassifyStage labels records for relevance to Topic.
type ClassifyStage struct {
	Classifier *classify.Classifier
	Topic      string
}

func (s *ClassifyStage) Name() string { return StageClassify }

func (s *ClassifyStage) Enabled(cfg types.PipelineConfig) (bool, string) {
	switch {
	case cfg.LLM.APIKey == "":
		return false, "no LLM key configured"
	case cfg.LLM.Topic == "":
		return false, "no topic configured"
	}
	return true, ""
}

func (s *ClassifyStage) Run(ctx context.Context, records []types.Record) ([]types.Record, types.StageStats, error) {
	results, usage, err := s.Classifier.Classify(ctx, records, s.Topic)
	out, stats := classify.Apply(records, results, usage)
	if err != nil {
		stats.FailedFatal++
		return out, stats, err
	}
	return out, stats, nil
}
