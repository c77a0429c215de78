package capability

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// suggest returns the registered name most similar to name, or "" when none
// is close enough.
//
// Names are split into tokens on underscores, dashes and dots. A candidate
// whose tokens share a Double Metaphone code with the input is accepted at a
// lower Jaro-Winkler score than one that only matches by spelling.
func suggest(name string, names []string) string {
	input := strings.ToLower(strings.TrimSpace(name))
	if input == "" || len(names) == 0 {
		return ""
	}
	inputTokens := tokenize(input)
	inputCodes := codesForTokens(inputTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, candidate := range names {
		lower := strings.ToLower(candidate)
		tokens := tokenize(lower)
		score := bestJWScore(inputTokens, tokens, input, lower)

		if codesOverlap(inputCodes, codesForTokens(tokens)) {
			if score >= phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = candidate, score, true
			}
		} else if !bestPhonetic && score >= fuzzyThreshold && score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity of the full names, the
// names with separators removed, and the best token pair weighted by how much
// of the longer name the pair covers.
func bestJWScore(inputTokens, candTokens []string, inputFull, candFull string) float64 {
	score := matchr.JaroWinkler(inputFull, candFull, false)

	if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(candTokens, ""), false); s > score {
		score = s
	}

	n := max(len(inputTokens), len(candTokens))
	if n == 0 {
		return score
	}
	matched := 0.0
	for _, it := range inputTokens {
		top := 0.0
		for _, ct := range candTokens {
			top = max(top, matchr.JaroWinkler(it, ct, false))
		}
		matched += top
	}
	if s := matched / float64(n); s > score {
		score = s
	}
	return score
}
