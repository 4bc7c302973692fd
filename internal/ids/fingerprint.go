package ids

import (
	"slices"
	"strings"
)

// stopwords are dropped from fingerprints: articles and connectives in
// the languages the catalog names appear in most.
var stopwords = map[string]struct{}{
	"the": {}, "of": {}, "and": {}, "a": {}, "an": {}, "for": {},
	"der": {}, "die": {}, "das": {}, "und": {},
	"le": {}, "la": {}, "les": {}, "et": {}, "de": {}, "du": {},
	"el": {}, "los": {}, "y": {},
}

type fingerprintConfig struct {
	sortTokens bool
	keepStop   bool
}

// FingerprintOption tunes Fingerprint.
type FingerprintOption func(*fingerprintConfig)

// WithSortedTokens orders tokens alphabetically so "Smith John" and
// "John Smith" share a fingerprint.
func WithSortedTokens() FingerprintOption {
	return func(c *fingerprintConfig) { c.sortTokens = true }
}

// WithStopwords keeps stopwords in the fingerprint.
func WithStopwords() FingerprintOption {
	return func(c *fingerprintConfig) { c.keepStop = true }
}

// Fingerprint reduces text to a matching key: lowercase tokens without
// diacritics or punctuation, stopwords removed, single spaces between
// tokens. Token order is kept unless WithSortedTokens is given.
func Fingerprint(text string, opts ...FingerprintOption) string {
	cfg := fingerprintConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	tokens := strings.Fields(collapse(foldMarks(text), " "))
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, stop := stopwords[tok]; stop && !cfg.keepStop {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		kept = tokens
	}
	if cfg.sortTokens {
		slices.Sort(kept)
	}
	return strings.Join(kept, " ")
}
