package knowledge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NameMode selects how candidate names are keyed during
// deduplication. Sources disagree on casing, so both behaviors are
// supported explicitly rather than guessed at.
type NameMode int

const (
	// NameExact keys candidates by the name exactly as received from
	// the source. This matches the historical merge behavior.
	NameExact NameMode = iota
	// NameFolded keys candidates case-insensitively with diacritics
	// stripped ("Amoxicilline" and "amoxicilline" collapse).
	NameFolded
)

var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// CanonicalName returns the merge key for a candidate name under the
// given mode.
func CanonicalName(name string, mode NameMode) string {
	if mode == NameExact {
		return name
	}
	folded, _, err := transform.String(foldChain, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// BigramSimilarity is the Jaccard similarity of character bigrams over
// the lowercase names. It is the fallback when relation-based
// similarity is unavailable, and 0 when either name is shorter than
// two characters.
func BigramSimilarity(a, b string) float64 {
	ba := bigrams(strings.ToLower(a))
	bb := bigrams(strings.ToLower(b))
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	shared := 0
	for bg := range ba {
		if bb[bg] {
			shared++
		}
	}
	union := len(ba) + len(bb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func bigrams(s string) map[string]bool {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make(map[string]bool, len(r)-1)
	for i := 0; i+1 < len(r); i++ {
		out[string(r[i:i+2])] = true
	}
	return out
}

// OverlapRatio is |shared| / |union| over two relation sets, the
// building block of the class/indication similarity blend.
func OverlapRatio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	shared := 0
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		if seen[s] {
			continue
		}
		seen[s] = true
		if set[s] {
			shared++
		}
	}
	union := len(set) + len(seen) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// BlendedSimilarity is the weighted class/indication blend:
// 0.6*classOverlap + 0.4*indicationOverlap.
func BlendedSimilarity(classesA, classesB, indicationsA, indicationsB []string) float64 {
	return 0.6*OverlapRatio(classesA, classesB) + 0.4*OverlapRatio(indicationsA, indicationsB)
}
