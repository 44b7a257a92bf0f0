// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

// hostRouter serves outbound requests in-process, picking a handler by host.
type hostRouter map[string]http.Handler

func (hr hostRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	h, ok := hr[req.URL.Host]
	if !ok {
		return nil, fmt.Errorf("unexpected host %s", req.URL.Host)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result(), nil
}

// fakeOpenAlex answers each page with three works and records the queries
// it saw. Pages listed in limited get a 429.
type fakeOpenAlex struct {
	mu      sync.Mutex
	queries []map[string]string
	limited map[string]bool
}

func (f *fakeOpenAlex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.queries = append(f.queries, map[string]string{"page": q.Get("page"), "filter": q.Get("filter"), "search": q.Get("search")})
	f.mu.Unlock()

	if f.limited[q.Get("page")] {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	var works []map[string]any
	for i := 1; i <= 3; i++ {
		works = append(works, map[string]any{
			"title":            fmt.Sprintf("Battery aging p%s-%d", q.Get("page"), i),
			"doi":              fmt.Sprintf("https://doi.org/10.1000/p%s.%d", q.Get("page"), i),
			"publication_year": 2023,
			"authorships":      []map[string]any{{"author": map[string]string{"display_name": "A Smith"}}},
			"primary_location": map[string]any{"source": map[string]string{"display_name": "Journal of Power Sources"}},
		})
	}
	json.NewEncoder(w).Encode(map[string]any{"meta": map[string]int{"count": 6}, "results": works})
}

func (f *fakeOpenAlex) pages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, q := range f.queries {
		out = append(out, q["page"])
	}
	return out
}

func testConfig() types.PipelineConfig {
	var cfg types.PipelineConfig
	cfg.Acquisition.Source = "openalex"
	cfg.Acquisition.PerPage = 3
	cfg.Acquisition.YearFloor = 2021
	cfg.Retry.MaxAttempts = 1
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	return cfg
}

func newTestServer(t *testing.T, cfg types.PipelineConfig, oa *fakeOpenAlex) *httptest.Server {
	t.Helper()
	client := &http.Client{Transport: hostRouter{"api.openalex.org": oa}}
	ts := httptest.NewServer(New(cfg, Deps{Client: client}).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postSearch(t *testing.T, ts *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+"/search", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig(), &fakeOpenAlex{})

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestSearch(t *testing.T) {
	oa := &fakeOpenAlex{}
	ts := newTestServer(t, testConfig(), oa)

	resp, body := postSearch(t, ts, `{"keyword": "battery aging", "pages": [1, 2], "ylo": 2020}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(6), body["count"])
	assert.Nil(t, body["halted"])

	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 6)
	first := results[0].(map[string]any)
	assert.Equal(t, "r001", first["id"])
	assert.Equal(t, "Battery aging p1-1", first["title"])

	assert.Equal(t, []string{"1", "2"}, oa.pages())
	assert.Equal(t, "battery aging", oa.queries[0]["search"])
	assert.Contains(t, oa.queries[0]["filter"], "publication_year:>2019", "ylo overrides the configured floor")
}

func TestSearchDefaults(t *testing.T) {
	oa := &fakeOpenAlex{}
	ts := newTestServer(t, testConfig(), oa)

	resp, body := postSearch(t, ts, `{"keyword": "battery aging"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["count"])
	assert.Equal(t, []string{"1"}, oa.pages())
	assert.Contains(t, oa.queries[0]["filter"], "publication_year:>2020")
}

func TestSearchRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed json", `{"keyword": `, "invalid request body"},
		{"empty keyword", `{"keyword": "  "}`, "keyword is required"},
		{"page zero", `{"keyword": "x", "pages": [0]}`, "invalid page"},
		{"unknown source", `{"keyword": "x", "source": "bing"}`, "unknown source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oa := &fakeOpenAlex{}
			ts := newTestServer(t, testConfig(), oa)

			resp, body := postSearch(t, ts, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "error", body["status"])
			assert.Contains(t, body["error"], tt.wantErr)
			assert.Empty(t, oa.pages())
		})
	}
}

func TestSearchInvalidProxy(t *testing.T) {
	ts := httptest.NewServer(New(testConfig(), Deps{}).Routes())
	defer ts.Close()

	resp, body := postSearch(t, ts, `{"keyword": "x", "proxy": "::not a url"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "invalid proxy URL")
}

func TestSearchScholarNeedsSession(t *testing.T) {
	ts := newTestServer(t, testConfig(), &fakeOpenAlex{})

	resp, body := postSearch(t, ts, `{"keyword": "x", "source": "gscholar"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body["error"], "requires a session")
}

func TestSearchRateLimited(t *testing.T) {
	oa := &fakeOpenAlex{limited: map[string]bool{"1": true}}
	ts := newTestServer(t, testConfig(), oa)

	resp, body := postSearch(t, ts, `{"keyword": "battery aging", "pages": [1, 2]}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, []string{"1"}, oa.pages(), "pagination halts on a rate limit")
}

func TestSearchPartialResultAfterRateLimit(t *testing.T) {
	oa := &fakeOpenAlex{limited: map[string]bool{"2": true}}
	ts := newTestServer(t, testConfig(), oa)

	resp, body := postSearch(t, ts, `{"keyword": "battery aging", "pages": [1, 2, 3]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["count"])
	assert.Equal(t, true, body["halted"])
	assert.NotEmpty(t, body["halt_reason"])
	assert.Equal(t, []string{"1", "2"}, oa.pages())
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"https://ui.example.org"}
	ts := newTestServer(t, cfg, &fakeOpenAlex{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/search", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://ui.example.org", resp.Header.Get("Access-Control-Allow-Origin"))

	// Without configured origins no CORS headers are sent.
	plain := newTestServer(t, testConfig(), &fakeOpenAlex{})
	resp, err = plain.Client().Get(plain.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, statusFor(httputil.NewError("openalex", httputil.KindRateLimited, fmt.Errorf("429"))))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(httputil.NewError("openalex", httputil.KindTransient, fmt.Errorf("503"))))
	assert.Equal(t, http.StatusBadRequest, statusFor(httputil.NewError("openalex", httputil.KindFatal, fmt.Errorf("empty keyword"))))
	assert.Equal(t, http.StatusBadGateway, statusFor(httputil.NewError("openalex", httputil.KindParse, fmt.Errorf("bad json"))))
}
