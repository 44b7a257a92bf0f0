// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ranking

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// Criteria are the threshold predicates a ranked record must satisfy. Nil
// or empty fields are not applied.
type Criteria struct {
	SCIIF      *float64
	JCI        *float64
	Partitions []string
	SCIUpTop   string
	SCIBase    string
	SCIUp      string
}

// CriteriaFrom converts configured thresholds into Criteria.
func CriteriaFrom(t types.RankingThresholds) Criteria {
	c := Criteria{
		SCIIF:    t.SCIIF,
		JCI:      t.JCI,
		SCIUpTop: strings.TrimSpace(t.SCIUpTop),
		SCIBase:  strings.TrimSpace(t.SCIBase),
		SCIUp:    strings.TrimSpace(t.SCIUp),
	}
	for _, p := range t.Partitions {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			c.Partitions = append(c.Partitions, p)
		}
	}
	return c
}

// Active reports whether any predicate is configured.
func (c Criteria) Active() bool {
	return c.SCIIF != nil || c.JCI != nil || len(c.Partitions) > 0 ||
		c.SCIUpTop != "" || c.SCIBase != "" || c.SCIUp != ""
}

// ParsePartitions parses a comma-separated partition set such as "Q1,Q2".
// Empty input yields no partitions.
func ParsePartitions(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		p := strings.ToUpper(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		switch p {
		case "Q1", "Q2", "Q3", "Q4":
		default:
			return nil, eris.Errorf("invalid SCI partition %q (want Q1..Q4)", part)
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Passes reports whether r satisfies every configured predicate. When it
// does not, reason names the first failing predicate. A metric that is
// missing or not numeric fails its predicate.
func (c Criteria) Passes(r types.Ranking) (bool, string) {
	if c.SCIIF != nil {
		v, ok := r.ImpactFactorValue()
		if !ok || v < *c.SCIIF {
			return false, fmt.Sprintf("impact factor %q below %g", r.ImpactFactor, *c.SCIIF)
		}
	}
	if c.JCI != nil {
		v, ok := r.JCIValue()
		if !ok || v < *c.JCI {
			return false, fmt.Sprintf("JCI %q below %g", r.JCI, *c.JCI)
		}
	}
	if len(c.Partitions) > 0 {
		p := strings.ToUpper(strings.TrimSpace(r.SCIPartition))
		if !slices.Contains(c.Partitions, p) {
			return false, fmt.Sprintf("partition %q not in %s", r.SCIPartition, strings.Join(c.Partitions, ","))
		}
	}
	for _, f := range []struct{ name, want, got string }{
		{"sciUpTop", c.SCIUpTop, r.SCIUpTop},
		{"sciBase", c.SCIBase, r.SCIBase},
		{"sciUp", c.SCIUp, r.SCIUp},
	} {
		if f.want != "" && !strings.Contains(f.got, f.want) {
			return false, fmt.Sprintf("%s %q does not match %q", f.name, f.got, f.want)
		}
	}
	return true, ""
}

// FilterStats counts the outcome of a Filter pass.
// Each record lands in exactly one of NoVenue, Passed, UnrankedExcluded
// and ThresholdFailed.
type FilterStats struct {
	Ranked           int
	Passed           int
	UnrankedExcluded int
	ThresholdFailed  int

	// NoVenue counts records that carry no venue to look up. They are kept
	// when no criterion is active.
	NoVenue int
}

// Filter attaches rankings to records by normalized venue and keeps the
// records that satisfy criteria, in input order. Input records are not
// modified. Records without a ranking are excluded when any criterion is
// active and kept otherwise.
func Filter(records []types.Record, rankings map[string]types.Ranking, criteria Criteria) ([]types.Record, FilterStats) {
	var stats FilterStats
	active := criteria.Active()
	kept := make([]types.Record, 0, len(records))

	for _, rec := range records {
		r := rec.Clone()
		if !hasVenue(r) {
			stats.NoVenue++
			if !active {
				kept = append(kept, r)
			}
			continue
		}
		rk, ok := rankings[types.NormalizeVenue(r.Venue)]
		if ok {
			r.Ranking = &rk
			stats.Ranked++
		}

		switch {
		case !active:
		case r.Ranking == nil:
			stats.UnrankedExcluded++
			continue
		default:
			if pass, _ := criteria.Passes(*r.Ranking); !pass {
				stats.ThresholdFailed++
				continue
			}
		}
		stats.Passed++
		kept = append(kept, r)
	}
	return kept, stats
}

// Rank looks up every distinct venue in records and filters them. The
// returned stats follow the stage contract: unranked and failed records
// are counted separately and are not errors.
func (c *EasyScholarClient) Rank(ctx context.Context, records []types.Record, criteria Criteria) ([]types.Record, types.StageStats, error) {
	stats := types.StageStats{Stage: "ranking", Processed: len(records)}

	venues := make([]string, 0, len(records))
	for _, r := range records {
		if hasVenue(r) {
			venues = append(venues, r.Venue)
		}
	}

	rankings, err := c.LookupMany(ctx, venues)
	if err != nil {
		stats.FailedFatal++
		return types.CloneAll(records), stats, err
	}

	kept, fs := Filter(records, rankings, criteria)
	stats.Succeeded = fs.Passed
	stats.SkippedRecords = fs.NoVenue
	stats.UnrankedExcluded = fs.UnrankedExcluded
	stats.ThresholdFailed = fs.ThresholdFailed
	return kept, stats, nil
}

func hasVenue(r types.Record) bool {
	return types.NormalizeVenue(r.Venue) != ""
}
