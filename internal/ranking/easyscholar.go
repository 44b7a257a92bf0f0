// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ranking attaches journal metrics to records and filters them by
// configured thresholds. Metrics come from EasyScholar, looked up once per
// distinct venue through the shared cache.
package ranking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// easyScholarAPIBase is the EasyScholar open API root. Declared as a var so
// tests can substitute an httptest server.
var easyScholarAPIBase = "https://www.easyscholar.cc"

const (
	providerEasyScholar = "easyscholar"

	// DefaultMinInterval is EasyScholar's documented request spacing.
	DefaultMinInterval = 600 * time.Millisecond

	defaultConcurrency = 4
)

// EasyScholarClient looks up journal rankings by venue name.
type EasyScholarClient struct {
	client      *http.Client
	secretKey   string
	userAgent   string
	concurrency int
	policy      httputil.Policy
	cache       *cache.Cache[*types.Ranking]
}

// NewEasyScholarClient creates a ranking client. A nil cache gets an
// in-memory one spaced by cfg.MinInterval.
func NewEasyScholarClient(client *http.Client, cfg types.RankingConfig, policy httputil.Policy, c *cache.Cache[*types.Ranking]) *EasyScholarClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if c == nil {
		interval := cfg.MinInterval
		if interval <= 0 {
			interval = DefaultMinInterval
		}
		c = cache.New[*types.Ranking](cache.Options{Namespace: providerEasyScholar, MinInterval: interval})
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &EasyScholarClient{
		client:      client,
		secretKey:   cfg.APIKey,
		userAgent:   cfg.UserAgent,
		concurrency: concurrency,
		policy:      policy,
		cache:       c,
	}
}

// Lookup returns the ranking for one venue. A nil ranking with a nil error
// means EasyScholar does not know the venue.
func (c *EasyScholarClient) Lookup(ctx context.Context, venue string) (*types.Ranking, error) {
	venue = strings.TrimSpace(venue)
	key := types.NormalizeVenue(venue)
	if key == "" {
		return nil, nil
	}
	return c.cache.GetOrFetch(ctx, key, func(ctx context.Context) (*types.Ranking, error) {
		return httputil.Retry(ctx, c.policy, providerEasyScholar, func(ctx context.Context) (*types.Ranking, error) {
			return c.fetch(ctx, venue)
		})
	})
}

// LookupMany returns rankings for the distinct venues in venues, keyed by
// types.NormalizeVenue. Unknown venues and venues whose lookup failed are
// absent from the map. An authentication failure or cancellation stops
// the remaining lookups and is returned; other failures are logged.
func (c *EasyScholarClient) LookupMany(ctx context.Context, venues []string) (map[string]types.Ranking, error) {
	out := make(map[string]types.Ranking)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	seen := make(map[string]bool)
	for _, v := range venues {
		key := types.NormalizeVenue(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		g.Go(func() error {
			r, err := c.Lookup(gctx, v)
			if err != nil {
				if httputil.IsAuth(err) {
					return err
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("ranking lookup failed", zap.String("venue", v), zap.Error(err))
				return nil
			}
			if r == nil {
				zap.L().Debug("venue not ranked", zap.String("venue", v))
				return nil
			}
			mu.Lock()
			out[key] = *r
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return out, err
}

func (c *EasyScholarClient) fetch(ctx context.Context, venue string) (*types.Ranking, error) {
	params := url.Values{
		"secretKey":       {c.secretKey},
		"publicationName": {venue},
	}
	reqURL := strings.TrimRight(easyScholarAPIBase, "/") + "/open/getPublicationRank?" + params.Encode()

	var resp easyScholarResponse
	err := httputil.FetchJSON(ctx, c.client, providerEasyScholar, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.Code == 200:
	case isKeyError(resp.Msg):
		return nil, httputil.NewError(providerEasyScholar, httputil.KindAuth, eris.Errorf("code %d: %s", resp.Code, resp.Msg))
	default:
		zap.L().Debug("easyscholar returned no ranking",
			zap.String("venue", venue), zap.Int("code", resp.Code), zap.String("msg", resp.Msg))
		return nil, nil
	}

	if resp.Data == nil || resp.Data.OfficialRank == nil {
		return nil, nil
	}
	r := resp.Data.OfficialRank.ranking(venue)
	if r.IsEmpty() {
		return nil, nil
	}
	return &r, nil
}

// isKeyError recognises EasyScholar's rejection of the secret key, which it
// reports in the body rather than with an HTTP status.
func isKeyError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "secretkey") || strings.Contains(msg, "密钥")
}

// EasyScholar API JSON structures.
type easyScholarResponse struct {
	Code int              `json:"code"`
	Msg  string           `json:"msg"`
	Data *easyScholarData `json:"data"`
}

type easyScholarData struct {
	OfficialRank *officialRank `json:"officialRank"`
}

type officialRank struct {
	Select map[string]json.RawMessage `json:"select"`
	All    map[string]json.RawMessage `json:"all"`
}

func (o officialRank) ranking(venue string) types.Ranking {
	return types.Ranking{
		Venue:        venue,
		ImpactFactor: o.value("sciif"),
		JCI:          o.value("jci"),
		SCIPartition: o.value("sci"),
		SCIUpTop:     o.value("sciUpTop"),
		SCIBase:      o.value("sciBase"),
		SCIUp:        o.value("sciUp"),
	}
}

// value prefers the selected rank set and falls back to the full one.
func (o officialRank) value(key string) string {
	if raw, ok := o.Select[key]; ok {
		return rawString(raw)
	}
	if raw, ok := o.All[key]; ok {
		return rawString(raw)
	}
	return ""
}

// rawString renders a JSON string or number as text. Null and other
// shapes yield "".
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return n.String()
	}
	return ""
}
