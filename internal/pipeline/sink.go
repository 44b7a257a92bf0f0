// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/scholar-pipeline/internal/merge"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

const (
	runSummaryFile = "run.yaml"
	tokenUsageFile = "token_usage.log"
	relevantFile   = "relevant.csv"
	redacted       = "********"
)

// Sink receives each stage's output and the final report. Implementations
// must never rewrite an artifact they already produced.
type Sink interface {
	WriteStage(n int, stage string, records []types.Record) (string, error)
	WriteReport(r *Report) ([]string, error)
}

// RecordRow is the column set of the acquisition, enrichment and ranking
// artifacts.
type RecordRow struct {
	ID              string `csv:"id"`
	Title           string `csv:"title"`
	Authors         string `csv:"authors"`
	Year            int    `csv:"year,omitempty"`
	PublicationDate string `csv:"publication_date"`
	Venue           string `csv:"venue"`
	DOI             string `csv:"doi"`
	ArticleURL      string `csv:"article_url"`
	PDFURL          string `csv:"pdf_url"`
	Abstract        string `csv:"abstract"`
	TLDR            string `csv:"tldr"`
	CitationCount   int    `csv:"citation_count,omitempty"`
	Keywords        string `csv:"keywords"`
	IFScore         string `csv:"if_score"`
	JCIScore        string `csv:"jci_score"`
	SCIPartition    string `csv:"sci_partition"`
	SCIUpTop        string `csv:"sci_up_top"`
	SCIBase         string `csv:"sci_base"`
	SCIUp           string `csv:"sci_up"`
}

// ClassifiedRow is the column set of the classification artifacts.
type ClassifiedRow struct {
	merge.UnifiedRow
	Label      string  `csv:"label"`
	Confidence float64 `csv:"confidence"`
	Evidence   string  `csv:"evidence"`
	Reason     string  `csv:"reason"`
}

func recordRows(records []types.Record) []RecordRow {
	rows := make([]RecordRow, len(records))
	for i, r := range records {
		row := RecordRow{
			ID:              r.ID,
			Title:           r.Title,
			Authors:         strings.Join(r.Authors, ", "),
			Year:            r.Year,
			PublicationDate: r.PublicationDate,
			Venue:           r.Venue,
			DOI:             r.DOI,
			ArticleURL:      r.ArticleURL,
			PDFURL:          r.PDFURL,
			Abstract:        r.Abstract,
			TLDR:            r.TLDR,
			CitationCount:   r.CitationCount,
			Keywords:        strings.Join(r.Keywords, "; "),
		}
		if rk := r.Ranking; rk != nil {
			row.IFScore, row.JCIScore, row.SCIPartition = rk.ImpactFactor, rk.JCI, rk.SCIPartition
			row.SCIUpTop, row.SCIBase, row.SCIUp = rk.SCIUpTop, rk.SCIBase, rk.SCIUp
		}
		rows[i] = row
	}
	return rows
}

func classifiedRows(records []types.Record, onlyRelevant bool) []ClassifiedRow {
	rows := make([]ClassifiedRow, 0, len(records))
	for _, r := range records {
		row := ClassifiedRow{UnifiedRow: merge.UnifyRecord(r), Label: string(types.LabelUncertain)}
		if c := r.Relevance; c != nil {
			row.Label = string(c.Label)
			row.Confidence = c.Confidence
			row.Evidence = strings.Join(c.Evidence, ", ")
			row.Reason = c.Reason
		}
		if onlyRelevant && row.Label != string(types.LabelRelevant) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// stageRows picks the fixed column set for a stage.
func stageRows(stage string, records []types.Record) any {
	switch stage {
	case StageMerge:
		return merge.Unify(records)
	case StageClassify:
		return classifiedRows(records, false)
	default:
		return recordRows(records)
	}
}

// DirSink writes artifacts into one directory per run:
// <root>/<YYYYmmdd_HHMMSS>_<keyword>/.
type DirSink struct {
	dir string
	cfg types.PipelineConfig
}

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// SafeName turns a keyword into a file-name fragment.
func SafeName(keyword string) string {
	s := strings.Trim(unsafeNameChars.ReplaceAllString(keyword, "_"), "_")
	if r := []rune(s); len(r) > 50 {
		s = string(r[:50])
	}
	if s == "" {
		s = "search"
	}
	return s
}

// NewDirSink creates the run directory under root. cfg is echoed, with
// API keys redacted, in the run summary.
func NewDirSink(root, keyword string, cfg types.PipelineConfig, started time.Time) (*DirSink, error) {
	dir := filepath.Join(root, started.Format("20060102_150405")+"_"+SafeName(keyword))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "creating output directory %s", dir)
	}
	return &DirSink{dir: dir, cfg: cfg}, nil
}

// Dir returns the run directory.
func (s *DirSink) Dir() string { return s.dir }

// WriteStage writes <n>_<stage>.csv. The classify stage also writes
// relevant.csv with the relevant rows only.
func (s *DirSink) WriteStage(n int, stage string, records []types.Record) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%d_%s.csv", n, stage))
	if err := writeCSV(path, stageRows(stage, records)); err != nil {
		return "", err
	}
	if stage == StageClassify {
		if err := writeCSV(filepath.Join(s.dir, relevantFile), classifiedRows(records, true)); err != nil {
			return path, err
		}
	}
	return path, nil
}

// runSummary is the run.yaml document.
type runSummary struct {
	RunID      string               `yaml:"run_id"`
	Keyword    string               `yaml:"keyword"`
	Started    time.Time            `yaml:"started"`
	Finished   time.Time            `yaml:"finished"`
	Duration   time.Duration        `yaml:"duration"`
	Completed  bool                 `yaml:"completed"`
	Error      string               `yaml:"error,omitempty"`
	Records    int                  `yaml:"records"`
	TokenUsage types.TokenUsage     `yaml:"token_usage"`
	Stages     []types.StageStats   `yaml:"stages"`
	Artifacts  []string             `yaml:"artifacts,omitempty"`
	Config     types.PipelineConfig `yaml:"config"`
}

// WriteReport writes run.yaml and appends the run's token usage line to
// token_usage.log when any tokens were spent.
func (s *DirSink) WriteReport(r *Report) ([]string, error) {
	sum := runSummary{
		RunID:      r.RunID,
		Keyword:    r.Keyword,
		Started:    r.Started,
		Finished:   r.Finished,
		Duration:   r.Finished.Sub(r.Started),
		Completed:  r.Completed(),
		Records:    len(r.Records),
		TokenUsage: r.TokenUsage,
		Stages:     r.Stages,
		Artifacts:  relativeTo(s.dir, r.Artifacts),
		Config:     Redact(s.cfg),
	}
	if r.Err != nil {
		sum.Error = r.Err.Error()
	}

	data, err := yaml.Marshal(sum)
	if err != nil {
		return nil, eris.Wrap(err, "marshaling run summary")
	}
	summaryPath := filepath.Join(s.dir, runSummaryFile)
	if err := writeOnce(summaryPath, data); err != nil {
		return nil, err
	}
	paths := []string{summaryPath}

	if u := r.TokenUsage; u.Total() > 0 {
		line := fmt.Sprintf("%s,%d,%d,%d\n", r.Finished.Format(time.RFC3339), u.PromptTokens, u.CompletionTokens, u.Total())
		usagePath := filepath.Join(s.dir, tokenUsageFile)
		if err := writeOnce(usagePath, []byte(line)); err != nil {
			return paths, err
		}
		paths = append(paths, usagePath)
	}
	return paths, nil
}

// Redact returns cfg with every API key masked.
func Redact(cfg types.PipelineConfig) types.PipelineConfig {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Ranking.APIKey)
	mask(&cfg.Enrichment.SemanticAPIKey)
	mask(&cfg.LLM.APIKey)
	return cfg
}

func relativeTo(dir string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if rel, err := filepath.Rel(dir, p); err == nil {
			p = rel
		}
		out = append(out, p)
	}
	return out
}

func writeCSV(path string, rows any) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "encoding %s", filepath.Base(path))
	}
	return writeOnce(path, data)
}

// writeOnce creates path and fails if it already exists.
func writeOnce(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return eris.Wrapf(err, "creating %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return eris.Wrapf(err, "writing %s", path)
	}
	return eris.Wrapf(f.Close(), "closing %s", path)
}
