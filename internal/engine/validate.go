package engine

import (
	"errors"
	"fmt"
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

var (
	errDraftEmpty      = errors.New("draft is empty")
	errDraftTooLong    = errors.New("draft exceeds length limit")
	errDraftOffTopic   = errors.New("draft does not mention the topic")
	errDraftDisallowed = errors.New("draft matches disallowed content")
	errDraftLink       = errors.New("draft contains a link or code")
	errDraftDuplicate  = errors.New("draft repeats the last proactive message")
)

var linkMarkers = []string{"http://", "https://", "www.", "```"}

// draftValidator decides whether a generated draft is worth sending.
type draftValidator struct {
	cfg        config.DraftConfig
	disallowed *matcher
	links      *matcher
}

// matcher is a case-insensitive multi-phrase scanner.
type matcher struct {
	ac       ahocorasick.AhoCorasick
	patterns []string
}

func newMatcher(phrases []string) *matcher {
	var patterns []string
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	return &matcher{ac: builder.Build(patterns), patterns: patterns}
}

// first returns the first pattern found in text, or "".
func (m *matcher) first(text string) string {
	if m == nil {
		return ""
	}
	matches := m.ac.FindAll(strings.ToLower(text))
	if len(matches) == 0 {
		return ""
	}
	return m.patterns[matches[0].Pattern()]
}

func newDraftValidator(cfg config.DraftConfig) *draftValidator {
	return &draftValidator{
		cfg:        cfg,
		disallowed: newMatcher(cfg.DisallowedPhrases),
		links:      newMatcher(linkMarkers),
	}
}

// check returns the cleaned draft, or an error naming the first failed rule.
// lastProactive is the text of the most recent proactive message, if any.
func (v *draftValidator) check(draft string, t *store.Topic, lastProactive string) (string, error) {
	text := cleanDraft(draft)
	if text == "" {
		return "", errDraftEmpty
	}
	if n := len([]rune(text)); n > v.cfg.MaxChars {
		return "", fmt.Errorf("%w (%d > %d chars)", errDraftTooLong, n, v.cfg.MaxChars)
	}
	if want := keywords(t.Title + " " + t.Content); len(want) > 0 {
		if keywordOverlap(want, keywordSet(text)) == 0 {
			return "", errDraftOffTopic
		}
	}
	if p := v.disallowed.first(text); p != "" {
		return "", fmt.Errorf("%w: %q", errDraftDisallowed, p)
	}
	if !allowsLinks(t.Type) {
		if p := v.links.first(text); p != "" {
			return "", fmt.Errorf("%w: %q", errDraftLink, p)
		}
	}
	if lastProactive != "" {
		if sim := textSimilarity(text, lastProactive); sim >= v.cfg.DuplicateSimilarity {
			return "", fmt.Errorf("%w (similarity %.2f)", errDraftDuplicate, sim)
		}
	}
	return text, nil
}

// allowsLinks reports whether drafts for this topic type may carry links.
func allowsLinks(typ store.TopicType) bool {
	return typ == store.TypeReminder || typ == store.TypeCritical
}

// cleanDraft trims whitespace and one pair of wrapping quotes.
func cleanDraft(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
		if len(s) >= 2 && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, q[0]), q[1]))
			break
		}
	}
	return s
}
