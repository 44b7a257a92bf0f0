// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package classify labels records as relevant, irrelevant or uncertain for a
// topic using a language model. Records are sent in small groups with
// bounded concurrency; every response is mapped back to its records by the
// echoed record ID, never by position.
package classify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

const (
	providerLLM = "llm"

	DefaultGroupSize   = 5
	DefaultMaxInFlight = 4
	maxInFlightCeiling = 8

	reasonUnparsable = "unparsable response"
)

// Backend abstracts the model API so tests can supply a mock. Errors should
// carry an httputil Kind so the shared retry policy can classify them.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// Prompt is one classification request.
type Prompt struct {
	System string
	User   string
}

// Completion is the model's raw reply and the tokens it cost.
type Completion struct {
	Text  string
	Usage types.TokenUsage
}

// Result is the verdict for one record. Failed is set when the verdict
// stands in for a request or parse failure rather than a model judgement.
type Result struct {
	ID             string
	Classification types.Classification
	Failed         bool
}

// Classifier runs grouped classification requests against a Backend.
type Classifier struct {
	backend     Backend
	policy      httputil.Policy
	groupSize   int
	maxInFlight int
}

// NewClassifier creates a Classifier. Group size defaults to 5 and the
// in-flight bound is clamped to 1..8.
func NewClassifier(backend Backend, cfg types.LLMConfig, policy httputil.Policy) *Classifier {
	size := cfg.GroupSize
	if size <= 0 {
		size = DefaultGroupSize
	}
	inFlight := cfg.MaxInFlight
	if inFlight <= 0 {
		inFlight = DefaultMaxInFlight
	}
	inFlight = min(inFlight, maxInFlightCeiling)
	return &Classifier{
		backend:     backend,
		policy:      policy,
		groupSize:   size,
		maxInFlight: inFlight,
	}
}

// NewBackend selects the backend named by cfg.Provider.
func NewBackend(cfg types.LLMConfig, client *http.Client) (Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIBackend(cfg, client), nil
	case "anthropic":
		return NewAnthropicBackend(cfg, client), nil
	}
	return nil, httputil.NewError(providerLLM, httputil.KindFatal, eris.Errorf("unknown llm provider %q (want openai or anthropic)", cfg.Provider))
}

// Classify labels every record against topic and returns one Result per
// record in input order, together with the summed token usage. A group
// whose request fails after retries has its records marked uncertain with
// the failure reason; the other groups are unaffected. Only an
// authentication failure or cancellation stops the remaining groups, and
// it is returned alongside the results gathered so far.
func (c *Classifier) Classify(ctx context.Context, records []types.Record, topic string) ([]Result, types.TokenUsage, error) {
	results := make([]Result, len(records))
	for i, r := range records {
		results[i] = Result{ID: r.ID, Classification: uncertain("not classified"), Failed: true}
	}
	if len(records) == 0 {
		return results, types.TokenUsage{}, nil
	}

	var (
		mu    sync.Mutex
		total types.TokenUsage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxInFlight)

	groups := 0
	for start := 0; start < len(records); start += c.groupSize {
		end := min(start+c.groupSize, len(records))
		group := records[start:end]
		n := groups
		groups++

		g.Go(func() error {
			verdicts, usage, err := c.classifyGroup(gctx, group, topic)

			mu.Lock()
			defer mu.Unlock()
			total = total.Add(usage)

			if err != nil {
				zap.L().Warn("classification group failed",
					zap.Int("group", n+1), zap.Int("size", len(group)), zap.Error(err))
				for i := range group {
					results[start+i] = Result{ID: group[i].ID, Classification: uncertain(err.Error()), Failed: true}
				}
				if httputil.IsAuth(err) || gctx.Err() != nil {
					return err
				}
				return nil
			}

			for i, r := range group {
				v, ok := verdicts[r.ID]
				if !ok {
					v = uncertain(reasonUnparsable)
				}
				v.Usage = usage
				results[start+i] = Result{ID: r.ID, Classification: v, Failed: !ok}
			}
			return nil
		})
	}

	err := g.Wait()
	zap.L().Info("classification finished",
		zap.Int("records", len(records)), zap.Int("groups", groups),
		zap.Int64("prompt_tokens", total.PromptTokens), zap.Int64("completion_tokens", total.CompletionTokens))
	return results, total, err
}

// classifyGroup sends one group and parses the verdicts keyed by record ID.
// Usage covers every attempt, including ones whose reply could not be parsed.
func (c *Classifier) classifyGroup(ctx context.Context, group []types.Record, topic string) (map[string]types.Classification, types.TokenUsage, error) {
	prompt, err := buildPrompt(group, topic)
	if err != nil {
		return nil, types.TokenUsage{}, err
	}

	var usage types.TokenUsage
	verdicts, err := httputil.Retry(ctx, c.policy, providerLLM, func(ctx context.Context) (map[string]types.Classification, error) {
		started := time.Now()
		comp, err := c.backend.Complete(ctx, prompt)
		usage = usage.Add(comp.Usage)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("classification response",
			zap.Int("records", len(group)), zap.Duration("duration", time.Since(started)),
			zap.Int64("total_tokens", comp.Usage.Total()))

		v, err := parseResponse(comp.Text)
		if err != nil {
			return nil, httputil.NewError(providerLLM, httputil.KindParse, err)
		}
		return v, nil
	})
	if err != nil {
		if httputil.IsParse(err) {
			// Records missing from an empty map are marked unparsable.
			zap.L().Warn("classification reply unparsable", zap.Error(err))
			return map[string]types.Classification{}, usage, nil
		}
		return nil, usage, err
	}
	return verdicts, usage, nil
}

// Apply returns copies of records with their verdicts attached, matched by
// ID. Stats count model verdicts as succeeded and stand-in verdicts as
// recoverable failures.
func Apply(records []types.Record, results []Result, usage types.TokenUsage) ([]types.Record, types.StageStats) {
	stats := types.StageStats{Stage: "classify", Processed: len(records), TokenUsage: usage}
	byID := make(map[string]Result, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	out := types.CloneAll(records)
	for i := range out {
		res, ok := byID[out[i].ID]
		if !ok {
			res = Result{ID: out[i].ID, Classification: uncertain("not classified"), Failed: true}
		}
		v := res.Classification
		out[i].Relevance = &v
		if res.Failed {
			stats.FailedRecoverable++
		} else {
			stats.Succeeded++
		}
	}
	return out, stats
}

func uncertain(reason string) types.Classification {
	return types.Classification{Label: types.LabelUncertain, Reason: reason}
}

// String renders a result for logs and the CLI.
func (r Result) String() string {
	return fmt.Sprintf("%s %s (%.2f): %s", r.ID, r.Classification.Label, r.Classification.Confidence, r.Classification.Reason)
}
