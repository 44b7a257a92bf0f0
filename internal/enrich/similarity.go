// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich fills gaps in acquired records from metadata providers:
// Crossref resolves DOIs for records that lack one by title and author,
// and Semantic Scholar adds abstracts, TL;DRs and open-access PDF links
// for records that have a DOI. Contributions are applied through
// merge.Merge so the field priority table governs every write.
package enrich

import (
	"github.com/agext/levenshtein"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// DefaultSimilarityThreshold is the minimum normalized-title similarity for
// accepting a Crossref DOI match.
const DefaultSimilarityThreshold = 0.85

// Similarity scores two titles in [0, 1] by Levenshtein distance over their
// normalized forms. Empty titles never match.
func Similarity(a, b string) float64 {
	na, nb := types.NormalizeTitle(a), types.NormalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return levenshtein.Similarity(na, nb, nil)
}
