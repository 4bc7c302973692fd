// Package ids builds deterministic entity identifiers.
//
// Three constructors share one normalization: compatibility-decompose,
// strip combining marks, lowercase, collapse every run of
// non-alphanumeric characters into Separator and trim it from both ends.
//
//	Slug("gdho", "42")           -> "gdho-42"
//	ID("gdho", "a", "b")         -> "gdho-<sha1 hex>"
//	FingerprintID("gdho", "ACME Ltd.") == FingerprintID("gdho", "acme ltd")
//
// Identifiers depend only on the prefix and the ordered parts. They are
// stable across runs, processes and machines. Callers pass parts in a
// canonical order when the order carries no meaning.
package ids

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/stitch/internal/errors"
)

const (
	// Separator joins slug sections.
	Separator = "-"

	// Algorithm names the digest behind ID. Changing the digest or the
	// part delimiter requires a new version tag.
	Algorithm = "sha1/v1"

	// MaxSlugLength bounds slugs in bytes; longer results are cut on a rune
	// boundary and re-trimmed.
	MaxSlugLength = 255

	partDelimiter = "."
)

// EmptyIDError is returned when identifier parts normalize to nothing.
type EmptyIDError struct {
	Constructor string
	Parts       []string
}

func (e *EmptyIDError) Error() string {
	return fmt.Sprintf("%s: parts %q normalize to an empty identifier", e.Constructor, e.Parts)
}

// Unwrap exposes the error kind so errors.Is(err, errors.ErrIDGeneration) holds.
func (e *EmptyIDError) Unwrap() error {
	return errors.ErrIDGeneration
}

// Normalize applies the identifier normalization to s.
func Normalize(s string) string {
	return collapse(foldMarks(s), Separator)
}

// foldMarks decomposes s and removes combining marks. A fresh transformer
// is built per call because transform chains carry state.
func foldMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// collapse lowercases s, keeps letters and digits and replaces each run of
// anything else with sep.
func collapse(s, sep string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteString(sep)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// Slug joins the normalized parts with Separator behind the normalized
// prefix. Every part must carry content: an empty part would silently
// merge distinct identities, so it fails like an all-empty input.
func Slug(prefix string, parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", &EmptyIDError{Constructor: "slug"}
	}
	sections := make([]string, 0, len(parts)+1)
	if p := Normalize(prefix); p != "" {
		sections = append(sections, p)
	}
	for _, part := range parts {
		n := Normalize(part)
		if n == "" {
			return "", &EmptyIDError{Constructor: "slug", Parts: parts}
		}
		sections = append(sections, n)
	}
	slug := strings.Join(sections, Separator)
	return truncate(slug, MaxSlugLength), nil
}

// truncate cuts s to at most n bytes on a rune boundary and trims a
// trailing separator.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimRight(s[:n], Separator)
}

// ID hashes the normalized parts, joined positionally, and prepends the
// prefix. Empty parts keep their position, so ("a", "", "b") and
// ("a", "b") differ. Only an input without any content fails.
func ID(prefix string, parts ...string) (string, error) {
	normalized := make([]string, len(parts))
	content := false
	for i, part := range parts {
		normalized[i] = Normalize(part)
		if normalized[i] != "" {
			content = true
		}
	}
	if !content {
		return "", &EmptyIDError{Constructor: "id", Parts: parts}
	}
	digest := sha1.Sum([]byte(strings.Join(normalized, partDelimiter)))
	hexID := hex.EncodeToString(digest[:])
	if p := Normalize(prefix); p != "" {
		return p + Separator + hexID, nil
	}
	return hexID, nil
}

// FingerprintID fingerprints every part before hashing it with ID, so
// spelling variants of one name map to one identifier.
func FingerprintID(prefix string, parts ...string) (string, error) {
	fingerprints := make([]string, len(parts))
	for i, part := range parts {
		fingerprints[i] = Fingerprint(part)
	}
	id, err := ID(prefix, fingerprints...)
	if err != nil {
		return "", &EmptyIDError{Constructor: "fingerprint_id", Parts: parts}
	}
	return id, nil
}

// Generator binds a dataset prefix to the three constructors.
type Generator struct {
	prefix string
}

// NewGenerator returns a Generator for prefix.
func NewGenerator(prefix string) Generator {
	return Generator{prefix: prefix}
}

// Prefix returns the bound prefix.
func (g Generator) Prefix() string {
	return g.prefix
}

// WithPrefix returns a Generator bound to another prefix.
func (g Generator) WithPrefix(prefix string) Generator {
	return Generator{prefix: prefix}
}

// Slug is Slug with the bound prefix.
func (g Generator) Slug(parts ...string) (string, error) {
	return Slug(g.prefix, parts...)
}

// ID is ID with the bound prefix.
func (g Generator) ID(parts ...string) (string, error) {
	return ID(g.prefix, parts...)
}

// FingerprintID is FingerprintID with the bound prefix.
func (g Generator) FingerprintID(parts ...string) (string, error) {
	return FingerprintID(g.prefix, parts...)
}
