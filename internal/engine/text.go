package engine

import (
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
)

var english = stopwords.MustGet("en")

// normalizeText lowercases s, drops punctuation and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// textSimilarity is the Jaccard index of the character bigrams of the
// normalized inputs. Identical inputs score 1, including two empty strings.
func textSimilarity(a, b string) float64 {
	a, b = normalizeText(a), normalizeText(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}
	union := len(bigramsA) + len(bigramsB) - shared
	return float64(shared) / float64(union)
}

func bigrams(s string) map[string]bool {
	if len(s) < 2 {
		return nil
	}
	m := make(map[string]bool, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		m[s[i:i+2]] = true
	}
	return m
}

// keywords returns the distinct content words of s: normalized, at least
// three characters, stop words removed.
func keywords(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(normalizeText(s)) {
		if len([]rune(w)) < 3 || english.Contains(w) || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// keywordOverlap is the fraction of want found in have. Words match exactly
// or by a shared five-character prefix, so "planting" matches "plants".
func keywordOverlap(want []string, have map[string]bool) float64 {
	if len(want) == 0 {
		return 0
	}
	hit := 0
	for _, w := range want {
		if have[w] || have[stem(w)] {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

func keywordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range keywords(s) {
		set[w] = true
		set[stem(w)] = true
	}
	return set
}

func stem(w string) string {
	r := []rune(w)
	if len(r) > 5 {
		return string(r[:5])
	}
	return w
}

// validKeyChar returns true if the character is allowed in a novelty key.
func validKeyChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

// sanitizeKey normalizes a novelty key to [a-z0-9_-]. Spaces, dots and
// slashes become single hyphens, other characters are dropped.
func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}

	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(key) {
		if validKeyChar(r) {
			b.WriteRune(r)
			prevHyphen = (r == '-')
		} else if r == ' ' || r == '.' || r == '/' {
			if !prevHyphen && b.Len() > 0 {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-_")
}

// truncateClean truncates s to maxLen bytes, cutting at the last word
// boundary when one is close.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncated := strings.ToValidUTF8(s[:maxLen], "")
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > 0 && idx > maxLen-40 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
