// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/pdiddy/scholar-pipeline/internal/acquire"
	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/classify"
	"github.com/pdiddy/scholar-pipeline/internal/enrich"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/internal/ranking"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// Deps holds the collaborators shared by the stages of one run.
type Deps struct {
	// Session is the Scholar cookie jar; required for the gscholar source.
	Session *acquire.Session

	// Store persists provider lookups across runs. Nil keeps them in memory.
	Store cache.Store

	// Client, when set, replaces the per-stage clients built from config.
	Client *http.Client
}

// BuildStages wires the standard stage list from cfg: acquire, crossref,
// semantic, ranking, merge, classify.
func BuildStages(cfg types.PipelineConfig, q acquire.Query, deps Deps) ([]Stage, error) {
	policy := httputil.PolicyFromConfig(cfg.Retry)
	client := func(hc types.HTTPConfig) (*http.Client, error) {
		if deps.Client != nil {
			return deps.Client, nil
		}
		return httputil.NewClient(hc)
	}
	cacheOpts := func(ns types.Source) cache.Options {
		return cache.Options{
			Namespace:   string(ns),
			TTL:         cfg.Cache.TTL,
			MaxInFlight: cfg.Cache.MaxInFlight,
			Store:       deps.Store,
			StoreMaxAge: cfg.Cache.StoreMaxAge,
		}
	}

	acqClient, err := client(cfg.Acquisition.HTTPConfig)
	if err != nil {
		return nil, eris.Wrap(err, "acquisition client")
	}
	source, err := acquire.NewSource(cfg.Acquisition, acquire.Deps{
		Client:  acqClient,
		Policy:  policy,
		Session: deps.Session,
		Store:   deps.Store,
		Cache:   cfg.Cache,
	})
	if err != nil {
		return nil, err
	}

	enrichClient, err := client(cfg.Enrichment.HTTPConfig)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment client")
	}
	crossref := enrich.NewCrossrefClient(enrichClient, cfg.Enrichment, policy,
		cache.New[*enrich.Match](cacheOpts(types.SourceCrossref)))

	semOpts := cacheOpts(types.SourceSemantic)
	semOpts.MinInterval = enrich.SemanticMinInterval
	semantic := enrich.NewSemanticClient(enrichClient, cfg.Enrichment, policy, cache.New[*enrich.Paper](semOpts))

	rankClient, err := client(cfg.Ranking.HTTPConfig)
	if err != nil {
		return nil, eris.Wrap(err, "ranking client")
	}
	rankOpts := cacheOpts(types.SourceEasyScholar)
	rankOpts.MinInterval = cfg.Ranking.MinInterval
	if rankOpts.MinInterval <= 0 {
		rankOpts.MinInterval = ranking.DefaultMinInterval
	}
	ranker := ranking.NewEasyScholarClient(rankClient, cfg.Ranking, policy, cache.New[*types.Ranking](rankOpts))

	llmClient, err := client(cfg.LLM.HTTPConfig)
	if err != nil {
		return nil, eris.Wrap(err, "llm client")
	}
	backend, err := classify.NewBackend(cfg.LLM, llmClient)
	if err != nil {
		return nil, err
	}

	return []Stage{
		&AcquireStage{Source: source, Query: q},
		&CrossrefStage{Client: crossref},
		&SemanticStage{Client: semantic},
		&RankingStage{Client: ranker, Criteria: ranking.CriteriaFrom(cfg.Ranking.Thresholds)},
		MergeStage{},
		&ClassifyStage{Classifier: classify.NewClassifier(backend, cfg.LLM, policy), Topic: cfg.LLM.Topic},
	}, nil
}
