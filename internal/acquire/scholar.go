// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// scholarBaseURL is the Google Scholar root. Declared as a var so tests can
// substitute an httptest server.
var scholarBaseURL = "https://scholar.google.com"

const (
	scholarUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	defaultSDT       = "0,5"

	defaultPageDelayMin = 500 * time.Millisecond
	defaultPageDelayMax = 2000 * time.Millisecond
)

var (
	scholarYearPattern  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	scholarCitePattern  = regexp.MustCompile(`(?:Cited by\s*|被引用\s*)(\d+)`)
	scholarTitleTagExpr = regexp.MustCompile(`^\s*(\[[A-Z]+\]\s*)+`)

	captchaMarkers = []string{
		"unusual traffic",
		"Solving the above CAPTCHA",
		`id="gs_captcha_ccl"`,
	}

	errCaptcha = errors.New("captcha or unusual-traffic page")
)

// ScholarSource scrapes Google Scholar result pages.
type ScholarSource struct {
	client  *http.Client
	session *Session
	cfg     types.AcquisitionConfig
	policy  httputil.Policy
	pages   *cache.Cache[[]types.Record]

	// sleep waits between page fetches; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScholarSource creates a Scholar source. Result pages are cached by
// (keyword, page, year floor, sdt).
func NewScholarSource(client *http.Client, session *Session, cfg types.AcquisitionConfig, policy httputil.Policy, pages *cache.Cache[[]types.Record]) *ScholarSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if pages == nil {
		pages = cache.New[[]types.Record](cache.Options{Namespace: SourceNameScholar, MaxInFlight: 1})
	}
	return &ScholarSource{
		client:  client,
		session: session,
		cfg:     cfg,
		policy:  policy,
		pages:   pages,
		sleep:   sleepContext,
	}
}

// Name returns the source identifier.
func (s *ScholarSource) Name() string { return SourceNameScholar }

// Search fetches each requested page in order. A page that fails for a
// non-blocking reason is counted and skipped; a block signal invalidates
// the session and ends pagination.
func (s *ScholarSource) Search(ctx context.Context, q Query) (Result, error) {
	res := Result{PagesRequested: len(q.Pages)}
	if strings.TrimSpace(q.Keyword) == "" {
		return res, httputil.NewError(SourceNameScholar, httputil.KindFatal, eris.New("empty keyword"))
	}
	if len(s.session.Cookies()) == 0 {
		zap.L().Warn("no scholar cookies loaded; import a browser session if results are blocked",
			zap.String("path", s.session.Path()))
	}

	var lastErr error
	networkFetches := 0
	for _, page := range q.Pages {
		if !s.session.Valid() {
			return s.halt(res, s.session.InvalidReason())
		}

		key := fmt.Sprintf("%s|%d|%d|%s", strings.ToLower(q.Keyword), page, q.YearFloor, s.sdt())
		records, cached := s.pages.Lookup(ctx, key)
		if !cached {
			if networkFetches > 0 {
				if err := s.sleep(ctx, s.pageDelay()); err != nil {
					return res, err
				}
			}
			networkFetches++

			var err error
			records, err = s.pages.GetOrFetch(ctx, key, func(ctx context.Context) ([]types.Record, error) {
				return httputil.Retry(ctx, s.policy, SourceNameScholar, func(ctx context.Context) ([]types.Record, error) {
					return s.fetchPage(ctx, q, page)
				})
			})
			if err != nil {
				if httputil.IsRateLimited(err) {
					s.session.Invalidate(err.Error())
					res, _ = s.halt(res, err.Error())
					return res, err
				}
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				zap.L().Warn("scholar page failed", zap.Int("page", page), zap.Error(err))
				res.PagesFailed++
				lastErr = err
				continue
			}
		}

		res.PagesFetched++
		zap.L().Debug("scholar page parsed", zap.Int("page", page), zap.Int("count", len(records)), zap.Bool("cached", cached))
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

func (s *ScholarSource) halt(res Result, reason string) (Result, error) {
	res.Halted = true
	res.HaltReason = reason
	return res, httputil.NewError(SourceNameScholar, httputil.KindRateLimited, eris.New(reason))
}

func (s *ScholarSource) fetchPage(ctx context.Context, q Query, page int) ([]types.Record, error) {
	pageURL, err := s.searchURL(q, page)
	if err != nil {
		return nil, httputil.NewError(SourceNameScholar, httputil.KindFatal, err)
	}

	body, err := httputil.Fetch(ctx, s.client, SourceNameScholar, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		s.setBrowserHeaders(req)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if isCaptchaPage(body) {
		return nil, httputil.NewError(SourceNameScholar, httputil.KindRateLimited, errCaptcha)
	}

	records, err := ParseScholarPage(body)
	if err != nil {
		return nil, httputil.NewError(SourceNameScholar, httputil.KindParse, err)
	}
	return records, nil
}

func (s *ScholarSource) searchURL(q Query, page int) (string, error) {
	base := scholarBaseURL
	if s.cfg.Mirror != "" {
		base = s.cfg.Mirror
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/scholar")
	if err != nil {
		return "", eris.Wrapf(err, "invalid scholar base URL %q", base)
	}
	params := url.Values{
		"q":      {q.Keyword},
		"hl":     {"en-US"},
		"start":  {strconv.Itoa((page - 1) * 10)},
		"as_sdt": {s.sdt()},
	}
	if q.YearFloor > 0 {
		params.Set("as_ylo", strconv.Itoa(q.YearFloor))
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (s *ScholarSource) setBrowserHeaders(req *http.Request) {
	ua := s.cfg.UserAgent
	if ua == "" || !strings.HasPrefix(ua, "Mozilla/") {
		ua = scholarUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if cookie := s.session.Header("google"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}

func (s *ScholarSource) sdt() string {
	if s.cfg.SDT != "" {
		return s.cfg.SDT
	}
	return defaultSDT
}

// pageDelay picks a uniform random pause in [PageDelayMin, PageDelayMax].
func (s *ScholarSource) pageDelay() time.Duration {
	lo, hi := s.cfg.PageDelayMin, s.cfg.PageDelayMax
	if lo <= 0 && hi <= 0 {
		lo, hi = defaultPageDelayMin, defaultPageDelayMax
	}
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isCaptchaPage(body []byte) bool {
	for _, m := range captchaMarkers {
		if bytes.Contains(body, []byte(m)) {
			return true
		}
	}
	return false
}

// ParseScholarPage extracts result entries from a Scholar result page.
// Entries without a title are dropped.
func ParseScholarPage(body []byte) ([]types.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "parsing scholar HTML")
	}

	var records []types.Record
	doc.Find("div.gs_r.gs_or.gs_scl").Each(func(_ int, item *goquery.Selection) {
		var r types.Record

		titleElem := item.Find("h3.gs_rt").First()
		if link := titleElem.Find("a").First(); link.Length() > 0 {
			r.Title = cleanScholarTitle(link.Text())
			r.ArticleURL, _ = link.Attr("href")
		} else {
			r.Title = cleanScholarTitle(titleElem.Text())
		}
		if r.Title == "" {
			return
		}

		parseScholarMeta(item.Find("div.gs_a").First().Text(), &r)

		r.Abstract = strings.TrimSpace(collapseSpace(item.Find("div.gs_rs").First().Text()))

		if href, ok := item.Find("div.gs_or_ggsm a").First().Attr("href"); ok {
			r.PDFURL = href
		}

		item.Find("div.gs_fl a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if !strings.Contains(href, "cites=") {
				return true
			}
			if m := scholarCitePattern.FindStringSubmatch(a.Text()); m != nil {
				r.CitationCount, _ = strconv.Atoi(m[1])
				return false
			}
			return true
		})

		r.StampProvenance(types.SourceScholar)
		records = append(records, r)
	})
	return records, nil
}

// parseScholarMeta splits the "authors - venue, year - host" line.
func parseScholarMeta(text string, r *types.Record) {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	parts := strings.Split(text, " - ")
	if len(parts) == 0 {
		return
	}

	for _, a := range strings.Split(parts[0], ",") {
		a = strings.TrimSpace(strings.Trim(strings.TrimSpace(a), "…"))
		if a != "" {
			r.Authors = append(r.Authors, a)
		}
	}

	if len(parts) < 2 {
		return
	}
	venueYear := parts[1]
	if loc := scholarYearPattern.FindStringIndex(venueYear); loc != nil {
		r.Year, _ = strconv.Atoi(venueYear[loc[0]:loc[1]])
		venueYear = venueYear[:loc[0]]
	}
	venue := strings.TrimSpace(venueYear)
	venue = strings.TrimRight(venue, ",")
	venue = strings.TrimSpace(strings.TrimSuffix(venue, "…"))
	r.Venue = venue
}

func cleanScholarTitle(s string) string {
	s = collapseSpace(s)
	s = scholarTitleTagExpr.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
