// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/internal/merge"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// crossrefAPIBase is the Crossref REST API root. Declared as a var so tests
// can substitute an httptest server.
var crossrefAPIBase = "https://api.crossref.org"

const (
	providerCrossref         = "crossref"
	crossrefRows             = 5
	crossrefSelect           = "DOI,title,author,container-title,published,abstract,URL"
	defaultCrossrefWorkers   = 3
	defaultCrossrefUserAgent = "scholar-pipeline/0.1"
)

var jatsTagPattern = regexp.MustCompile(`<[^>]+>`)

// Match is the best Crossref candidate for a title lookup.
type Match struct {
	DOI             string   `json:"doi"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors,omitempty"`
	Venue           string   `json:"venue,omitempty"`
	PublicationDate string   `json:"publication_date,omitempty"`
	Year            int      `json:"year,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
	URL             string   `json:"url,omitempty"`

	// Score is the normalized-title similarity to the queried title.
	Score float64 `json:"score"`
}

// Record converts the match into a Crossref-sourced partial record.
func (m Match) Record() types.Record {
	r := types.Record{
		Title:           m.Title,
		Authors:         m.Authors,
		Venue:           m.Venue,
		PublicationDate: m.PublicationDate,
		Year:            m.Year,
		DOI:             m.DOI,
		Abstract:        m.Abstract,
		ArticleURL:      m.URL,
	}
	r.StampProvenance(types.SourceCrossref)
	return r
}

// CrossrefClient resolves DOIs by bibliographic title and author search.
type CrossrefClient struct {
	client    *http.Client
	mailto    string
	userAgent string
	threshold float64
	workers   int
	policy    httputil.Policy
	cache     *cache.Cache[*Match]
}

// NewCrossrefClient creates a Crossref client. Lookups go through c; a nil
// cache gets an in-memory one.
func NewCrossrefClient(client *http.Client, cfg types.EnrichmentConfig, policy httputil.Policy, c *cache.Cache[*Match]) *CrossrefClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if c == nil {
		c = cache.New[*Match](cache.Options{Namespace: providerCrossref})
	}
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	workers := cfg.CrossrefConcurrency
	if workers <= 0 {
		workers = defaultCrossrefWorkers
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultCrossrefUserAgent
	}
	if cfg.CrossrefMailto != "" && !strings.Contains(ua, "mailto:") {
		ua += " (mailto:" + cfg.CrossrefMailto + ")"
	}
	return &CrossrefClient{
		client:    client,
		mailto:    cfg.CrossrefMailto,
		userAgent: ua,
		threshold: threshold,
		workers:   workers,
		policy:    policy,
		cache:     c,
	}
}

// LookupByTitleAuthor returns the best Crossref match for title when its
// similarity reaches the threshold. ok is false when there is no confident
// match, which is a normal outcome rather than an error.
func (c *CrossrefClient) LookupByTitleAuthor(ctx context.Context, title string, authors []string) (Match, bool, error) {
	if strings.TrimSpace(title) == "" {
		return Match{}, false, nil
	}
	first := ""
	if len(authors) > 0 {
		first = authors[0]
	}

	key := types.NormalizeTitle(title) + "|" + types.NormalizeTitle(first)
	best, err := c.cache.GetOrFetch(ctx, key, func(ctx context.Context) (*Match, error) {
		return httputil.Retry(ctx, c.policy, providerCrossref, func(ctx context.Context) (*Match, error) {
			return c.query(ctx, title, first)
		})
	})
	if err != nil {
		return Match{}, false, err
	}
	if best == nil || best.Score < c.threshold {
		return Match{}, false, nil
	}
	return *best, true, nil
}

// query returns the highest-scoring candidate, or nil when Crossref
// returned nothing usable. Ties keep the earlier, more relevant item.
func (c *CrossrefClient) query(ctx context.Context, title, author string) (*Match, error) {
	params := url.Values{
		"query.bibliographic": {title},
		"rows":                {fmt.Sprintf("%d", crossrefRows)},
		"select":              {crossrefSelect},
	}
	if author != "" {
		params.Set("query.author", author)
	}
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}
	reqURL := strings.TrimRight(crossrefAPIBase, "/") + "/works?" + params.Encode()

	var cr crossrefResponse
	err := httputil.FetchJSON(ctx, c.client, providerCrossref, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &cr)
	if err != nil {
		return nil, err
	}

	var best *Match
	for _, item := range cr.Message.Items {
		if item.DOI == "" || len(item.Title) == 0 {
			continue
		}
		m := item.toMatch()
		m.Score = Similarity(title, m.Title)
		if best == nil || m.Score > best.Score {
			best = &m
		}
	}
	return best, nil
}

// Enrich looks up a DOI for every record that lacks one and merges the
// confident matches. Records that already carry a DOI are skipped. Lookup
// failures leave the record unchanged and are counted as recoverable; an
// authentication failure aborts the stage.
func (c *CrossrefClient) Enrich(ctx context.Context, records []types.Record) ([]types.Record, types.StageStats, error) {
	out := types.CloneAll(records)
	stats := types.StageStats{Stage: "crossref", Processed: len(records)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i := range out {
		if out[i].DOI != "" || out[i].Title == "" {
			stats.SkippedRecords++
			continue
		}
		title, authors := out[i].Title, out[i].Authors
		g.Go(func() error {
			m, ok, err := c.LookupByTitleAuthor(gctx, title, authors)
			if err != nil {
				if httputil.IsAuth(err) {
					return err
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("crossref lookup failed", zap.String("id", out[i].ID), zap.Error(err))
				mu.Lock()
				stats.FailedRecoverable++
				mu.Unlock()
				return nil
			}
			if !ok {
				zap.L().Debug("no confident crossref match", zap.String("id", out[i].ID))
				return nil
			}

			merged := merge.Merge(out[i], m.Record())
			mu.Lock()
			out[i] = merged
			stats.Succeeded++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		stats.FailedFatal++
		return out, stats, err
	}
	return out, stats, nil
}

// Crossref API JSON structures.
type crossrefResponse struct {
	Message crossrefMessage `json:"message"`
}

type crossrefMessage struct {
	Items []crossrefItem `json:"items"`
}

type crossrefItem struct {
	DOI            string           `json:"DOI"`
	Title          []string         `json:"title"`
	Author         []crossrefAuthor `json:"author"`
	ContainerTitle []string         `json:"container-title"`
	Published      *crossrefDate    `json:"published"`
	Abstract       string           `json:"abstract"`
	URL            string           `json:"URL"`
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

func (item crossrefItem) toMatch() Match {
	m := Match{
		DOI:      strings.ToLower(item.DOI),
		Title:    strings.TrimSpace(item.Title[0]),
		URL:      item.URL,
		Abstract: stripJATS(item.Abstract),
	}
	if len(item.ContainerTitle) > 0 {
		m.Venue = item.ContainerTitle[0]
	}
	for _, a := range item.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name == "" {
			name = strings.TrimSpace(a.Name)
		}
		if name != "" {
			m.Authors = append(m.Authors, name)
		}
	}
	if item.Published != nil && len(item.Published.DateParts) > 0 {
		m.Year, m.PublicationDate = formatDateParts(item.Published.DateParts[0])
	}
	return m
}

// formatDateParts returns the year and, only when the day is known, the
// exact YYYY-MM-DD date. Partial dates leave the exact date empty.
func formatDateParts(parts []int) (int, string) {
	if len(parts) == 0 || parts[0] <= 0 {
		return 0, ""
	}
	if len(parts) >= 3 && parts[1] > 0 && parts[2] > 0 {
		return parts[0], fmt.Sprintf("%04d-%02d-%02d", parts[0], parts[1], parts[2])
	}
	return parts[0], ""
}

func stripJATS(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(jatsTagPattern.ReplaceAllString(s, " ")), " ")
}
