package search

import (
	"strings"
	"unicode"
)

// Tokenize splits s on whitespace and the separators - _ / and lower-cases
// the pieces. Empty tokens are dropped.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_' || r == '/'
	})
	out := fields[:0]
	for _, f := range fields {
		if f == "" {
			continue
		}
		out = append(out, strings.ToLower(f))
	}
	return out
}

// matchExpr turns a free-text query into an FTS5 MATCH expression: every
// token becomes a quoted prefix term, OR-ed together.
func matchExpr(query string) string {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if strings.IndexFunc(t, isWordRune) < 0 {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(t, `"`, `""`)+`"*`)
	}
	return strings.Join(terms, " OR ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
