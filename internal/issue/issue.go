// Package issue defines the core data types flowing through the correction
// pipeline: flagged issues returned by the correction provider and the ignore
// rules that suppress them.
package issue

import "time"

// Issue is a single flagged token with suggested replacements. The Offset is
// relative to the text snapshot that was checked and may be stale by the time
// the issue is acted on; identity for de-duplication and ignoring is the
// (Token, Type) pair, never the offset.
type Issue struct {
	// Offset is the character offset of the token in the checked snapshot.
	Offset int `json:"offset"`

	// Token is the original flagged text.
	Token string `json:"token"`

	// Type classifies the issue (e.g. "spelling", "grammar").
	Type string `json:"type"`

	// Suggestions holds candidate replacement strings.
	Suggestions []string `json:"suggestions"`

	// EditID identifies the issue to the remote provider for accept or
	// reject feedback. Issues without an EditID cannot be accepted or
	// rejected remotely; feedback for them is a silent no-op.
	EditID string `json:"editId,omitempty"`
}

// Key is the identity of an issue for de-duplication and ignore matching.
type Key struct {
	Token string
	Type  string
}

// Key returns the (token, type) identity of the issue.
func (i Issue) Key() Key {
	return Key{Token: i.Token, Type: i.Type}
}

// Valid reports whether the issue passed provider-response validation: a
// non-empty token and a non-negative offset. Invalid issues are dropped by
// the pipeline, never surfaced.
func (i Issue) Valid() bool {
	return i.Token != "" && i.Offset >= 0
}

// Rule is a persisted directive to suppress all future issues matching a
// (token, type) pair.
type Rule struct {
	// ID is the rule's unique identifier assigned by the store.
	ID string `json:"id"`

	// UserID identifies the owning user.
	UserID string `json:"userId"`

	// Token is the suppressed token text.
	Token string `json:"token"`

	// Type is the suppressed issue type.
	Type string `json:"type"`

	// CreatedAt is when the rule was created.
	CreatedAt time.Time `json:"createdAt"`
}

// Matches reports whether the rule suppresses the given issue.
func (r Rule) Matches(i Issue) bool {
	return r.Token == i.Token && r.Type == i.Type
}

// Key returns the (token, type) identity of the rule.
func (r Rule) Key() Key {
	return Key{Token: r.Token, Type: r.Type}
}

// FilterIgnored returns the issues that are not suppressed by any of the
// given rules. The input slice is not modified. Filtering is idempotent:
// applying the same rule set twice yields the same result as applying it
// once.
func FilterIgnored(issues []Issue, rules []Rule) []Issue {
	if len(rules) == 0 {
		return issues
	}

	ignored := make(map[Key]struct{}, len(rules))
	for _, r := range rules {
		ignored[r.Key()] = struct{}{}
	}

	kept := make([]Issue, 0, len(issues))
	for _, iss := range issues {
		if _, ok := ignored[iss.Key()]; ok {
			continue
		}
		kept = append(kept, iss)
	}

	return kept
}
