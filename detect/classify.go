package detect

import (
	"math"
	"strings"
	"unicode"
)

// Entropy returns the Shannon entropy in bits of the rune distribution of s.
// Degenerate strings ("aaaa", "!!!") score near zero; real command tokens
// land well above typical floors around 1.5 bits.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	n := 0
	for _, r := range s {
		freq[r]++
		n++
	}
	var h float64
	for _, c := range freq {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

// commandShaped reports whether a normalized single-token message looks like
// a participation command: a "!"-prefixed token or a bare alphanumeric token.
func commandShaped(msg string) bool {
	if msg == "" || strings.ContainsRune(msg, ' ') {
		return false
	}
	if strings.HasPrefix(msg, "!") {
		return len(msg) > 1
	}
	for _, r := range msg {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// sightingWorthy reports whether a normalized message should be recorded as a
// learned-command sighting. Multi-token "!"-prefixed announcements are
// recorded too (the registry path admits whitespace; the coordinator's
// validator is the final gate).
func sightingWorthy(msg string) bool {
	if strings.HasPrefix(msg, "!") {
		return len(msg) > 1
	}
	return commandShaped(msg)
}
