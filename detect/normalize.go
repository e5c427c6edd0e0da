package detect

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes diacritic marks after NFD decomposition so "é" and "e"
// produce the same key.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize maps a raw chat message to its detection/dedup key: diacritics
// stripped, invisible and control characters removed, whitespace collapsed to
// single spaces, case folded. Spam tools pad commands with zero-width
// characters to defeat naive dedup; normalization collapses those variants.
func Normalize(text string) string {
	stripped, _, err := transform.String(stripMarks, text)
	if err != nil {
		// Malformed UTF-8 etc: fall back to the raw text rather than drop it.
		stripped = text
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			// zero-width and control characters
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
