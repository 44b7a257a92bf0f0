// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package merge

import (
	"strings"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// UnifiedRow is the flat per-record row of the unified artifact.
type UnifiedRow struct {
	ID           string `csv:"id" json:"id"`
	Title        string `csv:"title" json:"title"`
	Author       string `csv:"author" json:"author"`
	Date         string `csv:"date" json:"date"`
	DOI          string `csv:"doi" json:"doi"`
	ArticleURL   string `csv:"article_url" json:"article_url"`
	PDFURL       string `csv:"pdf_url" json:"pdf_url"`
	AbstractText string `csv:"abstract_text" json:"abstract_text"`
	TLDR         string `csv:"tldr" json:"tldr"`
	Journal      string `csv:"journal" json:"journal"`
	IFScore      string `csv:"if_score" json:"if_score"`
	JCIScore     string `csv:"jci_score" json:"jci_score"`
	SCIPartition string `csv:"sci_partition" json:"sci_partition"`
}

// Unify flattens records into rows, one per record, in input order.
func Unify(records []types.Record) []UnifiedRow {
	rows := make([]UnifiedRow, len(records))
	for i, r := range records {
		rows[i] = UnifyRecord(r)
	}
	return rows
}

// UnifyRecord flattens one record.
func UnifyRecord(r types.Record) UnifiedRow {
	row := UnifiedRow{
		ID:           r.ID,
		Title:        r.Title,
		Author:       strings.Join(r.Authors, ", "),
		Date:         r.Date(),
		DOI:          r.DOI,
		ArticleURL:   r.ArticleURL,
		PDFURL:       r.PDFURL,
		AbstractText: r.Abstract,
		TLDR:         r.TLDR,
		Journal:      r.Venue,
	}
	if r.Ranking != nil {
		row.IFScore = r.Ranking.ImpactFactor
		row.JCIScore = r.Ranking.JCI
		row.SCIPartition = r.Ranking.SCIPartition
	}
	return row
}
