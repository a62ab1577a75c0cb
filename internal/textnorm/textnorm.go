// Package textnorm provides the text normalization and fingerprinting used
// as cache and deduplication keys throughout the correction pipeline.
//
// Two normalizations exist on purpose and do not agree with each other: the
// client tier keys its result cache on markup-stripped document text
// (StripMarkup), while the server tier keys its recent-query cache on a
// case-folded form of the raw request text (ServerNormalize). This is a
// documented compatibility boundary, not a bug: each tier only ever compares
// its own fingerprints against its own.
package textnorm

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/quillworks/redline/internal/issue"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Fingerprint returns a short deterministic digest of the given text. A
// 32-bit FNV-1a hash is used deliberately: fingerprints are a cost-saving
// cache heuristic, and a collision merely serves a cached result for a
// different text. They are not a security or correctness primitive.
func Fingerprint(text string) string {
	h := fnv.New32a()

	// Write on an fnv hash never returns an error.
	_, _ = h.Write([]byte(text))

	return fmt.Sprintf("%08x", h.Sum32())
}

// StripMarkup renders the markdown source down to its plain text content
// with all whitespace runs collapsed to single spaces. It is total: input
// that fails to parse as markdown degrades to whitespace collapse of the raw
// input rather than an error.
func StripMarkup(markup string) string {
	src := []byte(markup)
	root := goldmark.New().Parser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	err := ast.Walk(root, func(n ast.Node,
		entering bool) (ast.WalkStatus, error) {

		if !entering {
			// Block boundaries separate words that markdown
			// rendering would keep apart.
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}

		case *ast.String:
			b.Write(t.Value)
		}

		return ast.WalkContinue, nil
	})
	if err != nil {
		return collapse(markup)
	}

	return collapse(b.String())
}

// ServerNormalize is the request-text normalization used for the server's
// recent-query cache keys: lowercase, trimmed, whitespace collapsed.
func ServerNormalize(text string) string {
	return collapse(strings.ToLower(strings.TrimSpace(text)))
}

// IgnoreFingerprint returns a fingerprint over the sorted (token, type)
// pairs of the given rules. The scheduler uses it to detect ignore-list
// changes between checks; rule order and rule IDs do not affect the result.
func IgnoreFingerprint(rules []issue.Rule) string {
	pairs := make([]string, 0, len(rules))
	for _, r := range rules {
		pairs = append(pairs, r.Token+"\x1f"+r.Type)
	}
	sort.Strings(pairs)

	return Fingerprint(strings.Join(pairs, "\x1e"))
}

// collapse reduces every whitespace run to a single space and trims the
// ends.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
