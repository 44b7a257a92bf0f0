// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTitle folds diacritics, lowercases, strips punctuation, and
// collapses whitespace. It is used for identity keys, title similarity and
// venue lookups.
func NormalizeTitle(s string) string {
	folded := foldDiacritics(s)
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeVenue returns the lookup key for a journal or venue name. Case
// and surrounding whitespace are ignored; internal punctuation such as "&"
// is kept because ranking providers distinguish on it.
func NormalizeVenue(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(foldDiacritics(s))), " ")
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
