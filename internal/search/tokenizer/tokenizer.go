// Package tokenizer turns free text into the normalised terms used by the
// search index. It lower-cases input and splits on every maximal run of
// characters that are neither letters nor digits.
//
// The same function is used for indexing catalog text and for parsing user
// queries, so a query term matches an indexed term only when both produced
// the exact same token. There is no stop-word removal and no stemming.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenize breaks text into lower-cased tokens in left-to-right order.
// Duplicates are kept; separators are never emitted. Empty input yields an
// empty, non-nil slice.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, isSeparator)
	if words == nil {
		return []string{}
	}
	return words
}

// Join renders tokens back into a single string that tokenizes to the same
// sequence.
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
