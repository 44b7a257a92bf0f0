// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the scholar-pipeline stages:
// the Record that flows through every stage, the Ranking attached by the
// ranking filter, the Classification produced by the LLM stage, per-stage
// statistics, and the configuration consumed by each stage.
package types

import (
	"fmt"
	"strings"
)

// Source identifies the provider that supplied a field value.
type Source string

const (
	SourceScholar     Source = "gscholar"
	SourceOpenAlex    Source = "openalex"
	SourceCrossref    Source = "crossref"
	SourceSemantic    Source = "semantic_scholar"
	SourceEasyScholar Source = "easyscholar"
	SourceLLM         Source = "llm"
)

// IsAcquisition reports whether s is one of the acquisition sources.
func (s Source) IsAcquisition() bool {
	return s == SourceScholar || s == SourceOpenAlex
}

// Field names a provenance-tracked Record field.
type Field string

const (
	FieldTitle           Field = "title"
	FieldAuthors         Field = "authors"
	FieldYear            Field = "year"
	FieldPublicationDate Field = "publication_date"
	FieldVenue           Field = "venue"
	FieldDOI             Field = "doi"
	FieldArticleURL      Field = "article_url"
	FieldPDFURL          Field = "pdf_url"
	FieldAbstract        Field = "abstract"
	FieldTLDR            Field = "tldr"
	FieldCitationCount   Field = "citation_count"
	FieldKeywords        Field = "keywords"
)

// Record is one publication candidate flowing through the pipeline. Every
// populated field has an entry in Provenance naming the provider that set it.
type Record struct {
	// ID is assigned by acquisition ("r001", "r002", ...) and is stable for
	// the run. The LLM stage echoes it to map responses back to records.
	ID string `json:"id" yaml:"id"`

	Title   string   `json:"title,omitempty" yaml:"title,omitempty"`
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Year is the bare publication year; PublicationDate is an exact
	// YYYY-MM-DD date when a provider supplies one.
	Year            int    `json:"year,omitempty" yaml:"year,omitempty"`
	PublicationDate string `json:"publication_date,omitempty" yaml:"publication_date,omitempty"`

	Venue         string   `json:"venue,omitempty" yaml:"venue,omitempty"`
	DOI           string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	ArticleURL    string   `json:"article_url,omitempty" yaml:"article_url,omitempty"`
	PDFURL        string   `json:"pdf_url,omitempty" yaml:"pdf_url,omitempty"`
	Abstract      string   `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	TLDR          string   `json:"tldr,omitempty" yaml:"tldr,omitempty"`
	CitationCount int      `json:"citation_count,omitempty" yaml:"citation_count,omitempty"`
	Keywords      []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`

	Ranking   *Ranking        `json:"ranking,omitempty" yaml:"ranking,omitempty"`
	Relevance *Classification `json:"relevance,omitempty" yaml:"relevance,omitempty"`

	Provenance map[Field]Source `json:"provenance,omitempty" yaml:"provenance,omitempty"`
}

// Key returns the identity key: the lowercased DOI when present, otherwise
// the normalized (title, first author, year) tuple.
func (r Record) Key() string {
	if doi := NormalizeDOI(r.DOI); doi != "" {
		return "doi:" + doi
	}
	first := ""
	if len(r.Authors) > 0 {
		first = NormalizeTitle(r.Authors[0])
	}
	return fmt.Sprintf("t:%s|%s|%d", NormalizeTitle(r.Title), first, r.Year)
}

// Clone returns a deep copy so a stage can derive new records without
// touching the previous stage's output.
func (r Record) Clone() Record {
	c := r
	if r.Authors != nil {
		c.Authors = append([]string(nil), r.Authors...)
	}
	if r.Keywords != nil {
		c.Keywords = append([]string(nil), r.Keywords...)
	}
	if r.Ranking != nil {
		rk := *r.Ranking
		c.Ranking = &rk
	}
	if r.Relevance != nil {
		cl := *r.Relevance
		cl.Evidence = append([]string(nil), r.Relevance.Evidence...)
		c.Relevance = &cl
	}
	if r.Provenance != nil {
		c.Provenance = make(map[Field]Source, len(r.Provenance))
		for k, v := range r.Provenance {
			c.Provenance[k] = v
		}
	}
	return c
}

// SourceOf returns the provider that set f, or "" when f is unset.
func (r Record) SourceOf(f Field) Source {
	return r.Provenance[f]
}

// Date returns the exact publication date if known, else the bare year.
func (r Record) Date() string {
	if r.PublicationDate != "" {
		return r.PublicationDate
	}
	if r.Year > 0 {
		return fmt.Sprintf("%d", r.Year)
	}
	return ""
}

// CloneAll deep-copies a record slice.
func CloneAll(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// NormalizeDOI lowercases a DOI and strips resolver prefixes.
func NormalizeDOI(doi string) string {
	d := strings.TrimSpace(strings.ToLower(doi))
	for _, p := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		d = strings.TrimPrefix(d, p)
	}
	return d
}

// StampProvenance records src as the provider of every populated field that
// has no provenance yet.
func (r *Record) StampProvenance(src Source) {
	if r.Provenance == nil {
		r.Provenance = make(map[Field]Source)
	}
	for _, f := range r.PopulatedFields() {
		if _, ok := r.Provenance[f]; !ok {
			r.Provenance[f] = src
		}
	}
}

// PopulatedFields lists the provenance-tracked fields that hold a value.
func (r Record) PopulatedFields() []Field {
	var fs []Field
	add := func(ok bool, f Field) {
		if ok {
			fs = append(fs, f)
		}
	}
	add(r.Title != "", FieldTitle)
	add(len(r.Authors) > 0, FieldAuthors)
	add(r.Year > 0, FieldYear)
	add(r.PublicationDate != "", FieldPublicationDate)
	add(r.Venue != "", FieldVenue)
	add(r.DOI != "", FieldDOI)
	add(r.ArticleURL != "", FieldArticleURL)
	add(r.PDFURL != "", FieldPDFURL)
	add(r.Abstract != "", FieldAbstract)
	add(r.TLDR != "", FieldTLDR)
	add(r.CitationCount > 0, FieldCitationCount)
	add(len(r.Keywords) > 0, FieldKeywords)
	return fs
}
