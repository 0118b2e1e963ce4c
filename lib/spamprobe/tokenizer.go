package spamprobe

import (
	"sort"
	"strings"
	"unicode"
)

// Tokenize splits a message into a sorted set of normalized tokens. Words are
// delimited by non-alphanumeric runes and lowercased; tokens shorter than
// MinTokenLen are dropped as noise, tokens longer than MaxTokenLen are
// truncated to bound memory on pathological input. A token's presence, not the
// number of times it repeats within one message, is what gets counted, so the
// result is deduplicated.
func (f *Filter) Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		runes := []rune(w)
		if len(runes) < f.MinTokenLen {
			continue
		}
		if f.MaxTokenLen > 0 && len(runes) > f.MaxTokenLen {
			w = string(runes[:f.MaxTokenLen])
		}
		set[w] = struct{}{}
	}

	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}
