// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholar-pipeline/internal/acquire"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

// fakeStage is a Stage driven by closures.
type fakeStage struct {
	name    string
	skip    string
	run     func(records []types.Record) ([]types.Record, types.StageStats, error)
	invoked int
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Enabled(types.PipelineConfig) (bool, string) {
	return f.skip == "", f.skip
}

func (f *fakeStage) Run(_ context.Context, records []types.Record) ([]types.Record, types.StageStats, error) {
	f.invoked++
	return f.run(records)
}

func appendStage(name, id string) *fakeStage {
	return &fakeStage{name: name, run: func(in []types.Record) ([]types.Record, types.StageStats, error) {
		out := append(types.CloneAll(in), types.Record{ID: id, Title: "Paper " + id})
		return out, types.StageStats{Processed: len(in), Succeeded: len(out)}, nil
	}}
}

// memorySink records what the orchestrator hands it.
type memorySink struct {
	stages  []string
	counts  []int
	reports []*Report
}

func (m *memorySink) WriteStage(n int, stage string, records []types.Record) (string, error) {
	m.stages = append(m.stages, stage)
	m.counts = append(m.counts, len(records))
	return stage + ".csv", nil
}

func (m *memorySink) WriteReport(r *Report) ([]string, error) {
	m.reports = append(m.reports, r)
	return []string{"run.yaml"}, nil
}

// --- Orchestrator ---

func TestRunPassesRecordsThroughStages(t *testing.T) {
	sink := &memorySink{}
	var progress bytes.Buffer
	o := New(types.PipelineConfig{}, []Stage{appendStage("a", "r001"), appendStage("b", "r002")}, sink, &progress)

	report := o.Run(context.Background(), "battery")

	require.NoError(t, report.Err)
	assert.True(t, report.Completed())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "battery", report.Keyword)
	require.Len(t, report.Records, 2)
	assert.Equal(t, "r002", report.Records[1].ID)
	assert.Equal(t, []string{"a", "b"}, sink.stages)
	assert.Equal(t, []int{1, 2}, sink.counts)
	assert.Equal(t, []string{"a.csv", "b.csv", "run.yaml"}, report.Artifacts)
	require.Len(t, sink.reports, 1)
	assert.Contains(t, progress.String(), "done     a")
}

func TestRunRecordsSkippedStages(t *testing.T) {
	skipped := &fakeStage{name: "rank", skip: "no key", run: func([]types.Record) ([]types.Record, types.StageStats, error) {
		t.Fatal("skipped stage must not run")
		return nil, types.StageStats{}, nil
	}}
	sink := &memorySink{}
	o := New(types.PipelineConfig{}, []Stage{appendStage("a", "r001"), skipped, appendStage("c", "r002")}, sink, nil)

	report := o.Run(context.Background(), "q")

	require.NoError(t, report.Err)
	require.Len(t, report.Stages, 3)
	st, ok := report.Stage("rank")
	require.True(t, ok)
	assert.True(t, st.Skipped)
	assert.Equal(t, "no key", st.SkipReason)
	assert.Equal(t, 0, skipped.invoked)
	assert.Equal(t, []string{"a", "c"}, sink.stages)
	assert.Len(t, report.Records, 2)
}

func TestRunStopsAtFatalAndKeepsPrefix(t *testing.T) {
	boom := eris.New("provider exploded")
	failing := &fakeStage{name: "b", run: func(in []types.Record) ([]types.Record, types.StageStats, error) {
		return types.CloneAll(in), types.StageStats{Processed: len(in), FailedFatal: 1}, boom
	}}
	after := appendStage("c", "r999")
	sink := &memorySink{}
	o := New(types.PipelineConfig{}, []Stage{appendStage("a", "r001"), failing, after}, sink, nil)

	report := o.Run(context.Background(), "q")

	require.Error(t, report.Err)
	assert.False(t, report.Completed())
	assert.True(t, eris.Is(report.Err, boom))
	assert.Contains(t, report.Err.Error(), "stage b")
	assert.Equal(t, 0, after.invoked)
	require.Len(t, report.Records, 1)
	assert.Equal(t, "r001", report.Records[0].ID)

	require.Len(t, report.Stages, 2)
	assert.Equal(t, "provider exploded", report.Stages[1].Error)
	assert.Equal(t, []string{"a", "b"}, sink.stages)
	require.Len(t, sink.reports, 1, "report is written even when the run stops")
}

func TestRunSumsTokenUsage(t *testing.T) {
	withTokens := func(name string, p, c int64) *fakeStage {
		return &fakeStage{name: name, run: func(in []types.Record) ([]types.Record, types.StageStats, error) {
			return in, types.StageStats{TokenUsage: types.TokenUsage{PromptTokens: p, CompletionTokens: c}}, nil
		}}
	}
	o := New(types.PipelineConfig{}, []Stage{withTokens("a", 100, 20), withTokens("b", 50, 5)}, nil, nil)

	report := o.Run(context.Background(), "q")

	require.NoError(t, report.Err)
	assert.Equal(t, types.TokenUsage{PromptTokens: 150, CompletionTokens: 25}, report.TokenUsage)
	assert.Empty(t, report.Artifacts)
}

func TestRunHonoursCancelledContext(t *testing.T) {
	first := appendStage("a", "r001")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := New(types.PipelineConfig{}, []Stage{first}, nil, nil).Run(ctx, "q")

	assert.ErrorIs(t, report.Err, context.Canceled)
	assert.Equal(t, 0, first.invoked)
}

// --- AcquireStage ---

type fakeSource struct {
	res acquire.Result
	err error
}

func (f fakeSource) Name() string { return "fake" }

func (f fakeSource) Search(context.Context, acquire.Query) (acquire.Result, error) {
	return f.res, f.err
}

func TestAcquireStageAssignsIDs(t *testing.T) {
	src := fakeSource{res: acquire.Result{
		Records:        []types.Record{{Title: "A"}, {Title: "B"}, {Title: "C"}},
		PagesRequested: 2, PagesFetched: 1, PagesFailed: 1,
	}}
	out, stats, err := (&AcquireStage{Source: src}).Run(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"r001", "r002", "r003"}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.FailedRecoverable)
	assert.Empty(t, src.res.Records[0].ID, "source records are not modified")
}

func TestAcquireStageBlockedWithNothingIsFatal(t *testing.T) {
	blocked := httputil.NewError("gscholar", httputil.KindRateLimited, eris.New("captcha"))
	src := fakeSource{res: acquire.Result{Halted: true, HaltReason: "captcha"}, err: blocked}

	out, stats, err := (&AcquireStage{Source: src}).Run(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrFatal))
	assert.Empty(t, out)
	assert.Equal(t, 1, stats.FailedFatal)
	assert.True(t, stats.Halted)
}

func TestAcquireStageBlockedAfterPartialContinues(t *testing.T) {
	blocked := httputil.NewError("gscholar", httputil.KindRateLimited, eris.New("429"))
	src := fakeSource{
		res: acquire.Result{Records: []types.Record{{Title: "A"}}, Halted: true, HaltReason: "429"},
		err: blocked,
	}

	out, stats, err := (&AcquireStage{Source: src}).Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.True(t, stats.Halted)
	assert.Equal(t, "429", stats.HaltReason)
	assert.Equal(t, 1, stats.FailedRecoverable)
}

// --- MergeStage ---

func TestMergeStageCountsDuplicates(t *testing.T) {
	in := []types.Record{
		{ID: "r001", Title: "Battery Aging", DOI: "10.1/a"},
		{ID: "r002", Title: "Battery aging", DOI: "10.1/A"},
		{ID: "r003", Title: "Something Else", Year: 2022},
	}
	out, stats, err := MergeStage{}.Run(context.Background(), in)

	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "r001", out[0].ID)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.SkippedRecords)
}

// --- Enabled ---

func TestStageEnabled(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		cfg   types.PipelineConfig
		want  bool
	}{
		{"crossref on by default", &CrossrefStage{}, types.PipelineConfig{}, true},
		{"crossref disabled", &CrossrefStage{}, types.PipelineConfig{Enrichment: types.EnrichmentConfig{DisableCrossref: true}}, false},
		{"semantic disabled", &SemanticStage{}, types.PipelineConfig{Enrichment: types.EnrichmentConfig{DisableSemantic: true}}, false},
		{"ranking without key", &RankingStage{}, types.PipelineConfig{}, false},
		{"ranking with key", &RankingStage{}, types.PipelineConfig{Ranking: types.RankingConfig{APIKey: "k"}}, true},
		{"classify without topic", &ClassifyStage{}, types.PipelineConfig{LLM: types.LLMConfig{APIKey: "k"}}, false},
		{"classify without key", &ClassifyStage{}, types.PipelineConfig{LLM: types.LLMConfig{Topic: "t"}}, false},
		{"classify configured", &ClassifyStage{}, types.PipelineConfig{LLM: types.LLMConfig{APIKey: "k", Topic: "t"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.stage.Enabled(tt.cfg)
			if got != tt.want {
				t.Errorf("Enabled = %v (%q), want %v", got, reason, tt.want)
			}
			if !got && reason == "" {
				t.Error("skipped stage must give a reason")
			}
		})
	}
}

// --- DirSink ---

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"battery aging", "battery_aging"},
		{"  li-ion / SOH?  ", "li_ion_SOH"},
		{"电池 老化", "电池_老化"},
		{"!!!", "search"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func sinkConfig() types.PipelineConfig {
	var cfg types.PipelineConfig
	cfg.Ranking.APIKey = "es-secret"
	cfg.Enrichment.SemanticAPIKey = "s2-secret"
	cfg.LLM.APIKey = "sk-secret"
	cfg.LLM.Model = "gpt-4o-mini"
	return cfg
}

func TestDirSinkWritesRunDirectory(t *testing.T) {
	root := t.TempDir()
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	sink, err := NewDirSink(root, "battery aging", sinkConfig(), started)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "20260314_092653_battery_aging"), sink.Dir())

	records := []types.Record{
		{ID: "r001", Title: "Relevant one", Authors: []string{"Ann Lee", "Bo Chen"},
			Ranking:   &types.Ranking{Venue: "J", ImpactFactor: "6.1", SCIPartition: "Q1"},
			Relevance: &types.Classification{Label: types.LabelRelevant, Confidence: 0.9, Evidence: []string{"SOH"}}},
		{ID: "r002", Title: "Off topic",
			Relevance: &types.Classification{Label: types.LabelIrrelevant, Confidence: 0.8}},
	}

	path, err := sink.WriteStage(4, StageRanking, records)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sink.Dir(), "4_ranking.csv"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	header := strings.SplitN(string(data), "\n", 2)[0]
	assert.True(t, strings.HasPrefix(header, "id,title,authors"), header)
	assert.Contains(t, header, "sci_partition")
	assert.Contains(t, string(data), "Ann Lee, Bo Chen")
	assert.Contains(t, string(data), "Q1")

	_, err = sink.WriteStage(6, StageClassify, records)
	require.NoError(t, err)
	relevant, err := os.ReadFile(filepath.Join(sink.Dir(), "relevant.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(relevant), "Relevant one")
	assert.NotContains(t, string(relevant), "Off topic")

	_, err = sink.WriteStage(4, StageRanking, records)
	assert.Error(t, err, "artifacts are never overwritten")
}

func TestDirSinkEmptyStageHasHeader(t *testing.T) {
	sink, err := NewDirSink(t.TempDir(), "q", types.PipelineConfig{}, time.Now())
	require.NoError(t, err)

	path, err := sink.WriteStage(5, StageMerge, nil)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(string(data)))
}

func TestDirSinkReportRedactsKeys(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sink, err := NewDirSink(t.TempDir(), "q", sinkConfig(), started)
	require.NoError(t, err)

	report := &Report{
		RunID:      "run-1",
		Keyword:    "q",
		Started:    started,
		Finished:   started.Add(90 * time.Second),
		Stages:     []types.StageStats{{Stage: StageAcquire, Processed: 3}},
		TokenUsage: types.TokenUsage{PromptTokens: 1200, CompletionTokens: 300},
	}
	paths, err := sink.WriteReport(report)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	summary, err := os.ReadFile(filepath.Join(sink.Dir(), "run.yaml"))
	require.NoError(t, err)
	for _, secret := range []string{"es-secret", "s2-secret", "sk-secret"} {
		assert.NotContains(t, string(summary), secret)
	}
	assert.Contains(t, string(summary), "run_id: run-1")
	assert.Contains(t, string(summary), "gpt-4o-mini")
	assert.Contains(t, string(summary), "completed: true")

	usage, err := os.ReadFile(filepath.Join(sink.Dir(), "token_usage.log"))
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14T09:01:30Z,1200,300,1500\n", string(usage))
}

func TestDirSinkReportWithoutTokens(t *testing.T) {
	sink, err := NewDirSink(t.TempDir(), "q", types.PipelineConfig{}, time.Now())
	require.NoError(t, err)

	paths, err := sink.WriteReport(&Report{RunID: "x", Err: eris.New("stage acquire: blocked")})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	_, err = os.Stat(filepath.Join(sink.Dir(), "token_usage.log"))
	assert.True(t, os.IsNotExist(err))

	summary, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(summary), "completed: false")
	assert.Contains(t, string(summary), "blocked")
}

func TestRedactLeavesEmptyKeys(t *testing.T) {
	cfg := Redact(types.PipelineConfig{LLM: types.LLMConfig{APIKey: "k"}})
	assert.Equal(t, redacted, cfg.LLM.APIKey)
	assert.Empty(t, cfg.Ranking.APIKey)
}
