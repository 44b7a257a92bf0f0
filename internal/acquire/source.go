// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire retrieves raw publication records for a keyword. Each
// Source (Google Scholar scraping, OpenAlex bulk metadata) implements the
// same contract; NewSource picks one from configuration.
package acquire

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// Source searches one bibliographic provider.
//
// Search returns every record gathered before it stopped. When the provider
// signals a rate limit or block, Search stops requesting further pages and
// returns the partial Result together with a KindRateLimited error, so
// callers can tell "blocked" apart from "no results".
type Source interface {
	Name() string
	Search(ctx context.Context, q Query) (Result, error)
}

// Query holds the search parameters.
type Query struct {
	Keyword   string
	Pages     []int
	YearFloor int
}

// Result is the outcome of one Search.
type Result struct {
	Records []types.Record

	PagesRequested int
	PagesFetched   int
	PagesFailed    int

	// Halted is set when a rate-limit or block signal stopped pagination.
	Halted     bool
	HaltReason string
}

// Deps holds the collaborators a Source needs.
type Deps struct {
	Client  *http.Client
	Policy  httputil.Policy
	Session *Session
	Store   cache.Store
	Cache   types.CacheConfig
}

// NewSource returns the Source selected by cfg.Source.
func NewSource(cfg types.AcquisitionConfig, deps Deps) (Source, error) {
	switch strings.ToLower(cfg.Source) {
	case "", SourceNameScholar:
		if deps.Session == nil {
			return nil, eris.New("acquire: scholar source requires a session")
		}
		return NewScholarSource(deps.Client, deps.Session, cfg, deps.Policy, newPageCache(SourceNameScholar, deps)), nil
	case SourceNameOpenAlex:
		return NewOpenAlexSource(deps.Client, cfg, deps.Policy, newPageCache(SourceNameOpenAlex, deps)), nil
	default:
		return nil, httputil.NewError("acquire", httputil.KindFatal,
			fmt.Errorf("unknown source %q (want %s or %s)", cfg.Source, SourceNameScholar, SourceNameOpenAlex))
	}
}

const (
	SourceNameScholar  = "gscholar"
	SourceNameOpenAlex = "openalex"
)

// PageStoreMaxAge caps reuse of persisted result pages.
const PageStoreMaxAge = 24 * time.Hour

func newPageCache(name string, deps Deps) *cache.Cache[[]types.Record] {
	maxAge := PageStoreMaxAge
	if deps.Cache.StoreMaxAge > 0 && deps.Cache.StoreMaxAge < maxAge {
		maxAge = deps.Cache.StoreMaxAge
	}
	return cache.New[[]types.Record](cache.Options{
		Namespace:   name,
		TTL:         deps.Cache.TTL,
		MaxInFlight: 1,
		Store:       deps.Store,
		StoreMaxAge: maxAge,
	})
}

// ParsePages parses a page number ("3") or inclusive range ("1-5").
func ParsePages(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, eris.New("empty page range")
	}

	start, end := s, s
	if i := strings.Index(s, "-"); i >= 0 {
		start, end = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	}

	lo, err := strconv.Atoi(start)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid start page %q", start)
	}
	hi, err := strconv.Atoi(end)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid end page %q", end)
	}
	if lo < 1 || hi < lo {
		return nil, eris.Errorf("invalid page range %q", s)
	}

	pages := make([]int, 0, hi-lo+1)
	for p := lo; p <= hi; p++ {
		pages = append(pages, p)
	}
	return pages, nil
}
