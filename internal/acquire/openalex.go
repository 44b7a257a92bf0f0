// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// openAlexAPIBase is the OpenAlex API root. Declared as a var so tests can
// substitute an httptest server.
var openAlexAPIBase = "https://api.openalex.org"

const (
	defaultOpenAlexPerPage = 200
	maxOpenAlexPerPage     = 200
)

// OpenAlexSource queries the OpenAlex works search.
type OpenAlexSource struct {
	client *http.Client
	cfg    types.AcquisitionConfig
	policy httputil.Policy
	pages  *cache.Cache[[]types.Record]
}

// NewOpenAlexSource creates an OpenAlex source.
func NewOpenAlexSource(client *http.Client, cfg types.AcquisitionConfig, policy httputil.Policy, pages *cache.Cache[[]types.Record]) *OpenAlexSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if pages == nil {
		pages = cache.New[[]types.Record](cache.Options{Namespace: SourceNameOpenAlex, MaxInFlight: 1})
	}
	return &OpenAlexSource{client: client, cfg: cfg, policy: policy, pages: pages}
}

// Name returns the source identifier.
func (s *OpenAlexSource) Name() string { return SourceNameOpenAlex }

// Search fetches the requested pages sequentially. OpenAlex returns DOIs
// directly, so its records usually skip the Crossref lookup.
func (s *OpenAlexSource) Search(ctx context.Context, q Query) (Result, error) {
	res := Result{PagesRequested: len(q.Pages)}
	if strings.TrimSpace(q.Keyword) == "" {
		return res, httputil.NewError(SourceNameOpenAlex, httputil.KindFatal, eris.New("empty keyword"))
	}

	var lastErr error
	for _, page := range q.Pages {
		key := strings.ToLower(q.Keyword) + "|" + strconv.Itoa(page) + "|" + strconv.Itoa(q.YearFloor) + "|" + strconv.Itoa(s.perPage())
		records, err := s.pages.GetOrFetch(ctx, key, func(ctx context.Context) ([]types.Record, error) {
			return httputil.Retry(ctx, s.policy, SourceNameOpenAlex, func(ctx context.Context) ([]types.Record, error) {
				return s.fetchPage(ctx, q, page)
			})
		})
		if err != nil {
			if httputil.IsRateLimited(err) {
				res.Halted = true
				res.HaltReason = err.Error()
				return res, err
			}
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			zap.L().Warn("openalex page failed", zap.Int("page", page), zap.Error(err))
			res.PagesFailed++
			lastErr = err
			continue
		}

		res.PagesFetched++
		if len(records) == 0 {
			break
		}
		res.Records = append(res.Records, types.CloneAll(records)...)
	}

	if res.PagesFetched == 0 && lastErr != nil {
		return res, lastErr
	}
	return res, nil
}

func (s *OpenAlexSource) perPage() int {
	n := s.cfg.PerPage
	if n <= 0 {
		n = defaultOpenAlexPerPage
	}
	if n > maxOpenAlexPerPage {
		n = maxOpenAlexPerPage
	}
	return n
}

func (s *OpenAlexSource) searchURL(q Query, page int) string {
	params := url.Values{
		"search":   {q.Keyword},
		"per-page": {strconv.Itoa(s.perPage())},
		"page":     {strconv.Itoa(page)},
	}
	filters := []string{"type:article"}
	if q.YearFloor > 0 {
		filters = append([]string{"publication_year:>" + strconv.Itoa(q.YearFloor-1)}, filters...)
	}
	params.Set("filter", strings.Join(filters, ","))
	if s.cfg.OpenAlexEmail != "" {
		params.Set("mailto", s.cfg.OpenAlexEmail)
	}
	return strings.TrimRight(openAlexAPIBase, "/") + "/works?" + params.Encode()
}

func (s *OpenAlexSource) fetchPage(ctx context.Context, q Query, page int) ([]types.Record, error) {
	reqURL := s.searchURL(q, page)

	var oar openAlexResponse
	err := httputil.FetchJSON(ctx, s.client, SourceNameOpenAlex, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		if s.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", s.cfg.UserAgent)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &oar)
	if err != nil {
		return nil, err
	}

	records := make([]types.Record, 0, len(oar.Results))
	for _, work := range oar.Results {
		r := work.toRecord()
		if r.Title == "" {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (w openAlexWork) toRecord() types.Record {
	r := types.Record{
		Title:           strings.TrimSpace(w.Title),
		Year:            w.PublicationYear,
		PublicationDate: w.PublicationDate,
		DOI:             strings.TrimPrefix(w.DOI, "https://doi.org/"),
		CitationCount:   w.CitedByCount,
		Abstract:        reconstructAbstract(w.AbstractInvertedIndex),
	}
	if r.Title == "" {
		r.Title = strings.TrimSpace(w.DisplayName)
	}

	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			r.Authors = append(r.Authors, a.Author.DisplayName)
		}
	}

	if loc := w.PrimaryLocation; loc != nil {
		if loc.Source != nil {
			r.Venue = loc.Source.DisplayName
		}
		r.ArticleURL = loc.LandingPageURL
	}
	if loc := w.BestOALocation; loc != nil {
		r.PDFURL = loc.PDFURL
		if r.ArticleURL == "" {
			r.ArticleURL = loc.LandingPageURL
		}
	}
	if r.ArticleURL == "" && r.DOI != "" {
		r.ArticleURL = "https://doi.org/" + r.DOI
	}

	for _, kw := range w.Keywords {
		if kw.DisplayName != "" {
			r.Keywords = append(r.Keywords, kw.DisplayName)
		}
	}

	r.StampProvenance(types.SourceOpenAlex)
	return r
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The index maps each word to the positions where it appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DisplayName           string               `json:"display_name"`
	DOI                   string               `json:"doi"`
	PublicationDate       string               `json:"publication_date"`
	PublicationYear       int                  `json:"publication_year"`
	CitedByCount          int                  `json:"cited_by_count"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	PrimaryLocation       *openAlexLocation    `json:"primary_location"`
	BestOALocation        *openAlexLocation    `json:"best_oa_location"`
	Keywords              []openAlexKeyword    `json:"keywords"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type openAlexLocation struct {
	Source         *openAlexSource `json:"source"`
	PDFURL         string          `json:"pdf_url"`
	LandingPageURL string          `json:"landing_page_url"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
}

type openAlexKeyword struct {
	DisplayName string `json:"display_name"`
}
