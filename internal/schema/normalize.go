package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHeader is the single normalization applied to uploaded header names and to
// every synonym before comparison: accents are folded, letters lower-cased, and runs of
// punctuation, symbols and whitespace collapse to one space, trimmed at both ends.
//
// Example:
//
//	NormalizeHeader("  Loan_Amount (£) ") // "loan amount"
//	NormalizeHeader("Région")             // "region"
func NormalizeHeader(s string) string {
	folded, _, err := transform.String(foldAccents(), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder

	b.Grow(len(folded))

	pendingSpace := false

	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}

			pendingSpace = false

			b.WriteRune(unicode.ToLower(r))

			continue
		}

		pendingSpace = true
	}

	return b.String()
}

// foldAccents builds a fresh transformer per call; transform.Chain is not safe for
// concurrent use.
func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
