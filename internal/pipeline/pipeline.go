// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the search stages in order over one record set:
// acquisition, Crossref and Semantic Scholar enrichment, ranking filter,
// merge, and relevance classification. Each stage hands a fresh record set
// to the next; the orchestrator records per-stage statistics, skips stages
// whose configuration is missing, and stops at the first fatal error while
// keeping everything the completed stages produced.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// Report summarises one pipeline run.
type Report struct {
	RunID    string
	Keyword  string
	Started  time.Time
	Finished time.Time

	// Stages holds one entry per stage in run order, skipped ones included.
	Stages []types.StageStats

	// Records is the output of the last stage that ran.
	Records []types.Record

	TokenUsage types.TokenUsage

	// Artifacts lists the files written by the sink, in write order.
	Artifacts []string

	// Err is the fatal error that stopped the run, if any.
	Err error
}

// Completed reports whether every stage ran or was skipped without a
// fatal error.
func (r *Report) Completed() bool { return r.Err == nil }

// Stage returns the stats of the named stage.
func (r *Report) Stage(name string) (types.StageStats, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return types.StageStats{}, false
}

// Orchestrator runs an ordered stage list.
type Orchestrator struct {
	cfg    types.PipelineConfig
	stages []Stage
	sink   Sink
	out    io.Writer
	now    func() time.Time
}

// New creates an Orchestrator. sink may be nil to skip artifacts; progress
// lines go to w.
func New(cfg types.PipelineConfig, stages []Stage, sink Sink, w io.Writer) *Orchestrator {
	if w == nil {
		w = io.Discard
	}
	return &Orchestrator{cfg: cfg, stages: stages, sink: sink, out: w, now: time.Now}
}

// Run executes the stages sequentially for keyword. It always returns a
// Report; Report.Err is set when a stage failed fatally or the context
// was cancelled, and the stages after it did not run.
func (o *Orchestrator) Run(ctx context.Context, keyword string) *Report {
	report := &Report{
		RunID:   uuid.NewString(),
		Keyword: keyword,
		Started: o.now(),
	}
	log := zap.L().With(zap.String("run_id", report.RunID), zap.String("keyword", keyword))
	log.Info("pipeline: starting run", zap.Int("stages", len(o.stages)))

	var records []types.Record
	for i, st := range o.stages {
		name := st.Name()
		if err := ctx.Err(); err != nil {
			report.Err = err
			break
		}

		if ok, reason := st.Enabled(o.cfg); !ok {
			report.Stages = append(report.Stages, types.StageStats{Stage: name, Skipped: true, SkipReason: reason})
			log.Info("pipeline: stage skipped", zap.String("stage", name), zap.String("reason", reason))
			fmt.Fprintf(o.out, "skipped  %-9s %s\n", name, reason)
			continue
		}

		start := o.now()
		out, stats, err := st.Run(ctx, records)
		stats.Stage = name
		stats.Duration = o.now().Sub(start)
		if err != nil {
			stats.Error = err.Error()
		}
		report.Stages = append(report.Stages, stats)
		report.TokenUsage = report.TokenUsage.Add(stats.TokenUsage)
		records = out

		logStage(log, stats, err)
		fmt.Fprintf(o.out, "%-8s %-9s %s\n", stageVerb(err), name, summary(stats))

		if o.sink != nil {
			path, werr := o.sink.WriteStage(i+1, name, records)
			if werr != nil {
				log.Error("pipeline: writing stage artifact failed", zap.String("stage", name), zap.Error(werr))
			} else if path != "" {
				report.Artifacts = append(report.Artifacts, path)
			}
		}

		if err != nil {
			report.Err = eris.Wrapf(err, "stage %s", name)
			break
		}
	}

	report.Records = records
	report.Finished = o.now()

	if o.sink != nil {
		paths, err := o.sink.WriteReport(report)
		if err != nil {
			log.Error("pipeline: writing run report failed", zap.Error(err))
		}
		report.Artifacts = append(report.Artifacts, paths...)
	}

	if report.Err != nil {
		log.Error("pipeline: run stopped", zap.Error(report.Err), zap.Duration("duration", report.Finished.Sub(report.Started)))
	} else {
		log.Info("pipeline: run complete",
			zap.Int("records", len(records)),
			zap.Int64("total_tokens", report.TokenUsage.Total()),
			zap.Duration("duration", report.Finished.Sub(report.Started)))
	}
	return report
}

func logStage(log *zap.Logger, s types.StageStats, err error) {
	fields := []zap.Field{
		zap.String("stage", s.Stage),
		zap.Duration("duration", s.Duration),
		zap.Int("processed", s.Processed),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("skipped", s.SkippedRecords),
		zap.Int("failed_recoverable", s.FailedRecoverable),
		zap.Int("failed_fatal", s.FailedFatal),
	}
	if s.UnrankedExcluded > 0 || s.ThresholdFailed > 0 {
		fields = append(fields, zap.Int("unranked_excluded", s.UnrankedExcluded), zap.Int("threshold_failed", s.ThresholdFailed))
	}
	if s.Halted {
		fields = append(fields, zap.Bool("halted", true), zap.String("halt_reason", s.HaltReason))
	}
	if s.TokenUsage.Total() > 0 {
		fields = append(fields, zap.Int64("total_tokens", s.TokenUsage.Total()))
	}
	if err != nil {
		log.Error("pipeline: stage failed", append(fields, zap.Error(err))...)
		return
	}
	log.Info("pipeline: stage complete", fields...)
}

func stageVerb(err error) string {
	if err != nil {
		return "failed"
	}
	return "done"
}

func summary(s types.StageStats) string {
	out := fmt.Sprintf("%d in, %d ok, %d skipped, %d failed", s.Processed, s.Succeeded, s.SkippedRecords, s.FailedRecoverable+s.FailedFatal)
	if s.UnrankedExcluded > 0 || s.ThresholdFailed > 0 {
		out += fmt.Sprintf(", %d unranked, %d below threshold", s.UnrankedExcluded, s.ThresholdFailed)
	}
	if s.Halted {
		out += " (halted: " + s.HaltReason + ")"
	}
	if t := s.TokenUsage.Total(); t > 0 {
		out += fmt.Sprintf(", %d tokens", t)
	}
	return out
}
