package doc

import (
	"sort"
	"strings"

	"github.com/quillworks/redline/internal/issue"
)

const (
	// fuzzyContextRadius is how many characters of surrounding context the
	// fuzzy tier includes on each side of a matched word, clamped to the
	// document bounds.
	fuzzyContextRadius = 15

	// fuzzyMinWordLen is the length a token word must exceed to be used by
	// the fuzzy tier. Short fragments match too promiscuously to be safe
	// anchors.
	fuzzyMinWordLen = 2
)

// Tier identifies which resolution strategy located a span.
type Tier int

const (
	// TierMarker is the exact metadata lookup against a displayed marker.
	TierMarker Tier = iota + 1

	// TierExact is the exact text search for the issue token.
	TierExact

	// TierFuzzy is the widened longest-word fallback.
	TierFuzzy
)

// Resolve finds the live span to replace for the given issue. The tiers are
// tried strictly in order and the first match wins; loosening this ordering
// (e.g. preferring the fuzzy tier) raises the risk of misapplied edits.
// When no tier matches, ErrPositionNotFound is returned and nothing may be
// mutated.
func (d *Document) Resolve(iss issue.Issue) (Span, Tier, error) {
	// Tier 1: the document still carries the marker recorded when the
	// issue was first displayed. Fastest and exact.
	if m, ok := d.markers[iss.Key()]; ok {
		if m.From >= 0 && m.To <= len(d.text) && m.From < m.To {
			return Span{From: m.From, To: m.To}, TierMarker, nil
		}
	}

	// Tier 2: first exact occurrence of the token in the live text. Used
	// when the marker is gone, e.g. after a re-render.
	if iss.Token != "" {
		if idx := strings.Index(d.text, iss.Token); idx >= 0 {
			span := Span{From: idx, To: idx + len(iss.Token)}
			return span, TierExact, nil
		}
	}

	// Tier 3: fuzzy fallback for tokens that have drifted under
	// concurrent edits. Search for the most distinctive token word and
	// widen the span with surrounding context.
	words := fuzzyWords(iss.Token)
	for _, word := range words {
		idx := strings.Index(d.text, word)
		if idx < 0 {
			continue
		}

		from := idx - fuzzyContextRadius
		if from < 0 {
			from = 0
		}
		to := idx + len(word) + fuzzyContextRadius
		if to > len(d.text) {
			to = len(d.text)
		}

		return Span{From: from, To: to}, TierFuzzy, nil
	}

	return Span{}, 0, ErrPositionNotFound
}

// fuzzyWords splits the token on whitespace, keeps words longer than
// fuzzyMinWordLen, and sorts them by length descending so the most
// distinctive word is tried first. The sort is stable to keep original order
// among equal lengths.
func fuzzyWords(token string) []string {
	var words []string
	for _, w := range strings.Fields(token) {
		if len(w) > fuzzyMinWordLen {
			words = append(words, w)
		}
	}

	sort.SliceStable(words, func(i, j int) bool {
		return len(words[i]) > len(words[j])
	})

	return words
}
