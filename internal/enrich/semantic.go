// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/internal/merge"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// semanticAPIBase is the Semantic Scholar Graph API root. Declared as a var
// so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1"

const (
	providerSemantic    = "semantic_scholar"
	semanticBatchFields = "title,abstract,url,isOpenAccess,openAccessPdf,externalIds,tldr"
	maxSemanticBatch    = 50
)

// SemanticMinInterval is Semantic Scholar's request spacing: one request
// per second per caller.
const SemanticMinInterval = time.Second

// Paper holds the Semantic Scholar fields used for enrichment.
type Paper struct {
	PaperID      string `json:"paper_id"`
	Title        string `json:"title,omitempty"`
	DOI          string `json:"doi"`
	Abstract     string `json:"abstract,omitempty"`
	TLDR         string `json:"tldr,omitempty"`
	URL          string `json:"url,omitempty"`
	IsOpenAccess bool   `json:"is_open_access,omitempty"`
	PDFURL       string `json:"pdf_url,omitempty"`
}

// Record converts the paper into a Semantic Scholar-sourced partial record.
func (p Paper) Record() types.Record {
	r := types.Record{
		DOI:      p.DOI,
		Abstract: p.Abstract,
		TLDR:     p.TLDR,
		PDFURL:   p.PDFURL,
	}
	r.StampProvenance(types.SourceSemantic)
	return r
}

// SemanticClient looks up papers by DOI in batches.
type SemanticClient struct {
	client    *http.Client
	apiKey    string
	userAgent string
	batchSize int
	policy    httputil.Policy
	cache     *cache.Cache[*Paper]
}

// NewSemanticClient creates a Semantic Scholar client. A nil cache gets an
// in-memory one spaced at one request per second.
func NewSemanticClient(client *http.Client, cfg types.EnrichmentConfig, policy httputil.Policy, c *cache.Cache[*Paper]) *SemanticClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if c == nil {
		c = cache.New[*Paper](cache.Options{Namespace: providerSemantic, MinInterval: SemanticMinInterval})
	}
	size := cfg.SemanticBatchSize
	if size <= 0 || size > maxSemanticBatch {
		size = maxSemanticBatch
	}
	return &SemanticClient{
		client:    client,
		apiKey:    cfg.SemanticAPIKey,
		userAgent: cfg.UserAgent,
		batchSize: size,
		policy:    policy,
		cache:     c,
	}
}

// LookupByDOIBatch returns the papers Semantic Scholar knows for dois, keyed
// by normalized DOI. Unknown DOIs are absent from the map. Cached DOIs are
// answered without a request; the rest are sent in chunks of at most the
// batch size. A failed chunk does not stop later chunks; the first chunk
// error is returned alongside the partial map.
func (c *SemanticClient) LookupByDOIBatch(ctx context.Context, dois []string) (map[string]Paper, error) {
	found := make(map[string]Paper)

	var pending []string
	seen := make(map[string]bool)
	for _, d := range dois {
		doi := types.NormalizeDOI(d)
		if doi == "" || seen[doi] {
			continue
		}
		seen[doi] = true
		if p, ok := c.cache.Lookup(ctx, doi); ok {
			if p != nil {
				found[doi] = *p
			}
			continue
		}
		pending = append(pending, doi)
	}

	var firstErr error
	for start := 0; start < len(pending); start += c.batchSize {
		end := min(start+c.batchSize, len(pending))
		chunk := pending[start:end]

		var papers []*semanticPaper
		err := c.cache.Throttle(ctx, func(ctx context.Context) error {
			var err error
			papers, err = httputil.Retry(ctx, c.policy, providerSemantic, func(ctx context.Context) ([]*semanticPaper, error) {
				return c.fetchBatch(ctx, chunk)
			})
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			if httputil.IsAuth(err) {
				return found, err
			}
			zap.L().Warn("semantic scholar batch failed", zap.Int("size", len(chunk)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		// The response is positional: entry i answers chunk[i], null when unknown.
		for i, doi := range chunk {
			var p *Paper
			if i < len(papers) && papers[i] != nil {
				converted := papers[i].toPaper(doi)
				p = &converted
				found[doi] = converted
			}
			c.cache.Persist(ctx, doi, p)
		}
	}
	return found, firstErr
}

func (c *SemanticClient) fetchBatch(ctx context.Context, dois []string) ([]*semanticPaper, error) {
	ids := make([]string, len(dois))
	for i, d := range dois {
		ids[i] = "DOI:" + d
	}
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, httputil.NewError(providerSemantic, httputil.KindFatal, eris.Wrap(err, "encoding batch request"))
	}

	reqURL := strings.TrimRight(semanticAPIBase, "/") + "/paper/batch?fields=" + semanticBatchFields

	var papers []*semanticPaper
	err = httputil.FetchJSON(ctx, c.client, providerSemantic, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}
		return req, nil
	}, &papers)
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// Enrich adds Semantic Scholar abstracts, TL;DRs and PDF links to records
// that carry a DOI. Records without a DOI are skipped.
func (c *SemanticClient) Enrich(ctx context.Context, records []types.Record) ([]types.Record, types.StageStats, error) {
	out := types.CloneAll(records)
	stats := types.StageStats{Stage: "semantic", Processed: len(records)}

	var dois []string
	for _, r := range out {
		if r.DOI == "" {
			stats.SkippedRecords++
			continue
		}
		dois = append(dois, r.DOI)
	}
	if len(dois) == 0 {
		return out, stats, nil
	}

	papers, err := c.LookupByDOIBatch(ctx, dois)
	if err != nil && (ctx.Err() != nil || httputil.IsAuth(err)) {
		stats.FailedFatal++
		return out, stats, err
	}

	for i := range out {
		if out[i].DOI == "" {
			continue
		}
		doi := types.NormalizeDOI(out[i].DOI)
		p, ok := papers[doi]
		if !ok {
			// A cached nil means Semantic Scholar answered and does not know
			// the DOI; no entry means its chunk failed.
			if _, answered := c.cache.Peek(doi); answered || err == nil {
				stats.SkippedRecords++
			} else {
				stats.FailedRecoverable++
			}
			continue
		}
		out[i] = merge.Merge(out[i], p.Record())
		stats.Succeeded++
	}
	return out, stats, nil
}

// Semantic Scholar API JSON structures.
type semanticPaper struct {
	PaperID       string                 `json:"paperId"`
	Title         string                 `json:"title"`
	Abstract      *string                `json:"abstract"`
	URL           string                 `json:"url"`
	IsOpenAccess  bool                   `json:"isOpenAccess"`
	OpenAccessPDF *semanticOpenAccessPDF `json:"openAccessPdf"`
	ExternalIDs   map[string]any         `json:"externalIds"`
	TLDR          *semanticTLDR          `json:"tldr"`
}

type semanticOpenAccessPDF struct {
	URL string `json:"url"`
}

type semanticTLDR struct {
	Text string `json:"text"`
}

func (p semanticPaper) toPaper(requestedDOI string) Paper {
	out := Paper{
		PaperID:      p.PaperID,
		Title:        p.Title,
		DOI:          requestedDOI,
		URL:          p.URL,
		IsOpenAccess: p.IsOpenAccess,
	}
	if p.Abstract != nil {
		out.Abstract = strings.TrimSpace(*p.Abstract)
	}
	if p.TLDR != nil {
		out.TLDR = strings.TrimSpace(p.TLDR.Text)
	}
	if p.OpenAccessPDF != nil {
		out.PDFURL = p.OpenAccessPDF.URL
	}
	return out
}
