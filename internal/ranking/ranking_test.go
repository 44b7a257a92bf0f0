// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ranking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

func f64(v float64) *float64 { return &v }

// --- ParsePartitions ---

func TestParsePartitions(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"Q1,Q2", []string{"Q1", "Q2"}, false},
		{" q1 , Q2 ,", []string{"Q1", "Q2"}, false},
		{"Q1,Q1", []string{"Q1"}, false},
		{"", nil, false},
		{"Q5", nil, true},
		{"top", nil, true},
	}
	for _, tt := range tests {
		got, err := ParsePartitions(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePartitions(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePartitions(%q): %v", tt.in, err)
			continue
		}
		assert.Equal(t, tt.want, got, "ParsePartitions(%q)", tt.in)
	}
}

// --- Filter ---

func rankedRecords() ([]types.Record, map[string]types.Ranking) {
	records := []types.Record{
		{ID: "r001", Title: "A", Venue: "Journal of Power Sources"},
		{ID: "r002", Title: "B", Venue: "Energy Reports"},
		{ID: "r003", Title: "C", Venue: "Unknown Workshop"},
		{ID: "r004", Title: "D", Venue: "journal of power sources "},
		{ID: "r005", Title: "E"},
	}
	rankings := map[string]types.Ranking{
		"journal of power sources": {Venue: "Journal of Power Sources", ImpactFactor: "4.9", JCI: "1.2", SCIPartition: "Q1", SCIUpTop: "中科院2区"},
		"energy reports":           {Venue: "Energy Reports", ImpactFactor: "5.0", JCI: "-", SCIPartition: "Q3"},
	}
	return records, rankings
}

func ids(records []types.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestFilter_ImpactFactorBoundary(t *testing.T) {
	records, rankings := rankedRecords()

	tests := []struct {
		name  string
		sciif *float64
		want  []string
	}{
		{"above 4.9 excluded", f64(5.0), []string{"r002"}},
		{"equal included", f64(4.9), []string{"r001", "r002", "r004"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, stats := Filter(records, rankings, Criteria{SCIIF: tt.sciif})
			assert.Equal(t, tt.want, ids(kept))
			assert.Equal(t, 1, stats.UnrankedExcluded)
			assert.Equal(t, 1, stats.NoVenue)
			assert.Equal(t, 3-len(tt.want), stats.ThresholdFailed)
		})
	}
}

func TestFilter_NoCriteriaKeepsEverything(t *testing.T) {
	records, rankings := rankedRecords()

	kept, stats := Filter(records, rankings, Criteria{})
	assert.Equal(t, []string{"r001", "r002", "r003", "r004", "r005"}, ids(kept))
	assert.Equal(t, 3, stats.Ranked)
	assert.Equal(t, 4, stats.Passed)
	assert.Equal(t, 1, stats.NoVenue)
	assert.Zero(t, stats.UnrankedExcluded)
	require.NotNil(t, kept[0].Ranking)
	assert.Equal(t, "Q1", kept[0].Ranking.SCIPartition)
	assert.Nil(t, kept[2].Ranking)
	assert.Nil(t, records[0].Ranking, "input untouched")
}

func TestFilter_Partitions(t *testing.T) {
	records, rankings := rankedRecords()
	parts, err := ParsePartitions("Q1,Q2")
	require.NoError(t, err)

	kept, stats := Filter(records, rankings, Criteria{Partitions: parts})
	assert.Equal(t, []string{"r001", "r004"}, ids(kept))
	assert.Equal(t, 1, stats.ThresholdFailed, "Q3 rejected")
	assert.Equal(t, 1, stats.UnrankedExcluded)
	assert.Equal(t, 1, stats.NoVenue)
	assert.Equal(t, len(records), stats.Passed+stats.ThresholdFailed+stats.UnrankedExcluded+stats.NoVenue)
}

func TestCriteria_Passes(t *testing.T) {
	r := types.Ranking{ImpactFactor: "6.2", JCI: "-", SCIPartition: "q2", SCIUpTop: "中科院1区 Top", SCIBase: ""}

	tests := []struct {
		name string
		c    Criteria
		want bool
	}{
		{"empty", Criteria{}, true},
		{"impact factor", Criteria{SCIIF: f64(6)}, true},
		{"non-numeric JCI fails", Criteria{JCI: f64(0.1)}, false},
		{"partition case-insensitive", Criteria{Partitions: []string{"Q2"}}, true},
		{"tier substring", Criteria{SCIUpTop: "1区"}, true},
		{"tier mismatch", Criteria{SCIUpTop: "2区"}, false},
		{"missing tier fails", Criteria{SCIBase: "1区"}, false},
		{"all must hold", Criteria{SCIIF: f64(6), Partitions: []string{"Q1"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.c.Passes(r)
			if got != tt.want {
				t.Errorf("Passes() = %v (%s), want %v", got, reason, tt.want)
			}
			if !got && reason == "" {
				t.Error("failing predicate has no reason")
			}
		})
	}
}

func TestCriteriaFrom(t *testing.T) {
	c := CriteriaFrom(types.RankingThresholds{Partitions: []string{" q1", ""}, SCIUp: " Top "})
	assert.Equal(t, []string{"Q1"}, c.Partitions)
	assert.Equal(t, "Top", c.SCIUp)
	assert.True(t, c.Active())
	assert.False(t, CriteriaFrom(types.RankingThresholds{}).Active())
}

// --- EasyScholar ---

const easyScholarRanked = `{
  "code": 200,
  "msg": "SUCCESS",
  "data": {
    "officialRank": {
      "select": {"sciif": "4.9", "sci": "Q1"},
      "all": {"sciif": "9.9", "jci": 1.23, "sciUpTop": "中科院2区", "sciBase": null}
    }
  }
}`

func newTestEasyScholar(t *testing.T, handler http.HandlerFunc) (*EasyScholarClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	orig := easyScholarAPIBase
	easyScholarAPIBase = srv.URL
	t.Cleanup(func() { easyScholarAPIBase = orig })

	c := cache.New[*types.Ranking](cache.Options{Namespace: providerEasyScholar})
	return NewEasyScholarClient(srv.Client(), types.RankingConfig{APIKey: "secret"}, httputil.Policy{MaxAttempts: 2}, c), srv
}

func TestEasyScholar_Lookup(t *testing.T) {
	client, _ := newTestEasyScholar(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/open/getPublicationRank", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("secretKey"))
		assert.Equal(t, "Journal of Power Sources", r.URL.Query().Get("publicationName"))
		w.Write([]byte(easyScholarRanked))
	})

	got, err := client.Lookup(context.Background(), "  Journal of Power Sources ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "4.9", got.ImpactFactor, "select wins over all")
	assert.Equal(t, "1.23", got.JCI, "numbers rendered as text")
	assert.Equal(t, "Q1", got.SCIPartition)
	assert.Equal(t, "中科院2区", got.SCIUpTop)
	assert.Empty(t, got.SCIBase)
}

func TestEasyScholar_LookupManyDedupesVenues(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestEasyScholar(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Query().Get("publicationName") {
		case "Workshop Notes":
			w.Write([]byte(`{"code": 200, "data": {"officialRank": {"select": {}, "all": {}}}}`))
		case "Broken":
			w.Write([]byte(`{"code": 500, "msg": "publication not found"}`))
		default:
			w.Write([]byte(easyScholarRanked))
		}
	})

	venues := []string{"Journal of Power Sources", "journal of power sources", "JOURNAL OF POWER SOURCES", "Workshop Notes", "Broken", ""}
	got, err := client.LookupMany(context.Background(), venues)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "one request per distinct venue")
	require.Len(t, got, 1)
	assert.Equal(t, "Q1", got["journal of power sources"].SCIPartition)

	_, err = client.LookupMany(context.Background(), venues)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "unknown venues are cached too")
}

func TestEasyScholar_BadKeyIsAuth(t *testing.T) {
	client, _ := newTestEasyScholar(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 40001, "msg": "secretKey is invalid"}`))
	})

	_, err := client.LookupMany(context.Background(), []string{"Nature"})
	require.Error(t, err)
	assert.True(t, httputil.IsAuth(err))
}

func TestEasyScholar_TransientFailureOmitsVenue(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestEasyScholar(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	got, err := client.LookupMany(context.Background(), []string{"Nature"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(2), calls.Load(), "retried up to MaxAttempts")
}

func TestEasyScholar_Rank(t *testing.T) {
	client, _ := newTestEasyScholar(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("publicationName") {
		case "Energy Reports":
			json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"officialRank": map[string]any{"all": map[string]any{"sciif": 3.1, "sci": "Q3"}}},
			})
		case "Journal of Power Sources":
			w.Write([]byte(easyScholarRanked))
		default:
			w.Write([]byte(`{"code": 200, "data": null}`))
		}
	})

	records, _ := rankedRecords()
	kept, stats, err := client.Rank(context.Background(), records, Criteria{Partitions: []string{"Q1", "Q2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r001", "r004"}, ids(kept))
	assert.Equal(t, "ranking", stats.Stage)
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.ThresholdFailed)
	assert.Equal(t, 1, stats.UnrankedExcluded)
	assert.Equal(t, 1, stats.SkippedRecords, "record without venue")
	assert.Equal(t, stats.Processed, stats.Succeeded+stats.ThresholdFailed+stats.UnrankedExcluded+stats.SkippedRecords)
}
