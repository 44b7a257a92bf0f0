// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package merge combines partial records from several providers into one
// canonical record. Merging is pure: the same inputs in the same order
// always produce the same output, and neither input is modified.
//
// Most fields follow "first non-empty wins": a later provider may fill a
// gap but never overwrite a populated value. The override-eligible fields
// (abstract, pdf_url) instead follow a fixed provider priority, regardless
// of arrival order. An exact publication date always outranks a bare year,
// and among exact dates the first one stays.
package merge

import (
	"slices"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// abstractPriority ranks providers for the abstract field.
var abstractPriority = map[types.Source]int{
	types.SourceSemantic: 3,
	types.SourceScholar:  2,
	types.SourceOpenAlex: 2,
	types.SourceCrossref: 1,
}

// pdfPriority ranks providers for the pdf_url field.
var pdfPriority = map[types.Source]int{
	types.SourceSemantic: 4,
	types.SourceOpenAlex: 3,
	types.SourceScholar:  2,
	types.SourceCrossref: 1,
}

// Priority returns the rank of src for an override-eligible field, or -1
// when f is not override-eligible.
func Priority(f types.Field, src types.Source) int {
	switch f {
	case types.FieldAbstract:
		return abstractPriority[src]
	case types.FieldPDFURL:
		return pdfPriority[src]
	default:
		return -1
	}
}

// Merge folds incoming into base and returns the result.
func Merge(base, incoming types.Record) types.Record {
	out := base.Clone()
	if out.Provenance == nil {
		out.Provenance = make(map[types.Field]types.Source)
	}
	if out.ID == "" {
		out.ID = incoming.ID
	}

	fillString(&out, incoming, types.FieldTitle, &out.Title, incoming.Title)
	fillString(&out, incoming, types.FieldVenue, &out.Venue, incoming.Venue)
	fillString(&out, incoming, types.FieldDOI, &out.DOI, incoming.DOI)
	fillString(&out, incoming, types.FieldArticleURL, &out.ArticleURL, incoming.ArticleURL)
	fillString(&out, incoming, types.FieldTLDR, &out.TLDR, incoming.TLDR)
	fillString(&out, incoming, types.FieldPublicationDate, &out.PublicationDate, incoming.PublicationDate)

	if len(out.Authors) == 0 && len(incoming.Authors) > 0 {
		out.Authors = append([]string(nil), incoming.Authors...)
		out.Provenance[types.FieldAuthors] = incoming.SourceOf(types.FieldAuthors)
	}
	if len(out.Keywords) == 0 && len(incoming.Keywords) > 0 {
		out.Keywords = append([]string(nil), incoming.Keywords...)
		out.Provenance[types.FieldKeywords] = incoming.SourceOf(types.FieldKeywords)
	}
	if out.Year == 0 && incoming.Year > 0 {
		out.Year = incoming.Year
		out.Provenance[types.FieldYear] = incoming.SourceOf(types.FieldYear)
	}
	if out.CitationCount == 0 && incoming.CitationCount > 0 {
		out.CitationCount = incoming.CitationCount
		out.Provenance[types.FieldCitationCount] = incoming.SourceOf(types.FieldCitationCount)
	}

	override(&out, incoming, types.FieldAbstract, &out.Abstract, incoming.Abstract)
	override(&out, incoming, types.FieldPDFURL, &out.PDFURL, incoming.PDFURL)

	if out.Ranking == nil && incoming.Ranking != nil {
		rk := *incoming.Ranking
		out.Ranking = &rk
	}
	if out.Relevance == nil && incoming.Relevance != nil {
		cl := *incoming.Relevance
		cl.Evidence = append([]string(nil), incoming.Relevance.Evidence...)
		out.Relevance = &cl
	}
	return out
}

func fillString(out *types.Record, incoming types.Record, f types.Field, dst *string, v string) {
	if *dst != "" || v == "" {
		return
	}
	*dst = v
	out.Provenance[f] = incoming.SourceOf(f)
}

// override replaces a populated value only when the incoming provider
// outranks the current one. Equal ranks keep the first value.
func override(out *types.Record, incoming types.Record, f types.Field, dst *string, v string) {
	if v == "" {
		return
	}
	if *dst == "" {
		*dst = v
		out.Provenance[f] = incoming.SourceOf(f)
		return
	}
	if Priority(f, incoming.SourceOf(f)) > Priority(f, out.SourceOf(f)) {
		*dst = v
		out.Provenance[f] = incoming.SourceOf(f)
	}
}

// Dedupe merges records that share an identity key, either the DOI or the
// (title, first author, year) tuple. The title tuple only links two records
// when at least one of them has no DOI: records with different DOIs stay
// apart even when their titles match. The merged record takes the position
// and ID of the first occurrence; later duplicates are folded into it in
// input order.
func Dedupe(records []types.Record) []types.Record {
	out := make([]types.Record, 0, len(records))
	byDOI := make(map[string]int, len(records))
	byTitle := make(map[string][]int, len(records))

	for _, r := range records {
		pos := -1
		if doi := types.NormalizeDOI(r.DOI); doi != "" {
			if i, ok := byDOI[doi]; ok {
				pos = i
			}
		}
		if pos < 0 {
			for _, i := range byTitle[titleKey(r)] {
				if compatibleDOI(out[i].DOI, r.DOI) {
					pos = i
					break
				}
			}
		}

		if pos >= 0 {
			out[pos] = Merge(out[pos], r)
		} else {
			pos = len(out)
			out = append(out, r.Clone())
		}

		if doi := types.NormalizeDOI(out[pos].DOI); doi != "" {
			if _, ok := byDOI[doi]; !ok {
				byDOI[doi] = pos
			}
		}
		if out[pos].Title != "" {
			tk := titleKey(out[pos])
			if !slices.Contains(byTitle[tk], pos) {
				byTitle[tk] = append(byTitle[tk], pos)
			}
		}
	}
	return out
}

// titleKey is the identity key r would have without a DOI.
func titleKey(r types.Record) string {
	r.DOI = ""
	return r.Key()
}

func compatibleDOI(a, b string) bool {
	a, b = types.NormalizeDOI(a), types.NormalizeDOI(b)
	return a == "" || b == "" || a == b
}
