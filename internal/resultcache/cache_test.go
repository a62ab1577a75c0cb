package resultcache

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/quillworks/redline/internal/issue"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeClock is a manually advanced clock for cache tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func testIssues(tokens ...string) []issue.Issue {
	issues := make([]issue.Issue, 0, len(tokens))
	for _, tok := range tokens {
		issues = append(issues, issue.Issue{
			Token:       tok,
			Type:        "spelling",
			Suggestions: []string{"fix"},
		})
	}

	return issues
}

// TestCacheGetPut asserts basic store and retrieve behavior.
func TestCacheGetPut(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New(&Config{Now: clock.Now})

	require.True(t, cache.Get("abcd1234").IsNone())

	cache.Put("abcd1234", testIssues("teh"))

	entry := cache.Get("abcd1234")
	require.True(t, entry.IsSome())
	require.Equal(t, testIssues("teh"), entry.UnwrapOr(Entry{}).Issues)
}

// TestCacheTTLExpiry asserts an entry is reported absent once its age
// reaches the TTL, without waiting for Evict.
func TestCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New(&Config{Now: clock.Now})

	cache.Put("fp", testIssues("teh"))

	clock.Advance(DefaultTTL - time.Millisecond)
	require.True(t, cache.Get("fp").IsSome())

	clock.Advance(time.Millisecond)
	require.True(t, cache.Get("fp").IsNone())

	// Lazy expiry: still physically stored until the next eviction.
	require.Equal(t, 1, cache.Len())
	cache.Evict()
	require.Equal(t, 0, cache.Len())
}

// TestCacheCapacityBound asserts the capacity trim keeps the most recent
// entries.
func TestCacheCapacityBound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New(&Config{Now: clock.Now, MaxEntries: 5})

	for i := 0; i < 8; i++ {
		cache.Put(fmt.Sprintf("fp-%d", i), testIssues("teh"))
		clock.Advance(time.Second)
	}

	require.Equal(t, 5, cache.Len())

	// The oldest three were trimmed, the newest five survive.
	for i := 0; i < 3; i++ {
		require.True(t, cache.Get(fmt.Sprintf("fp-%d", i)).IsNone())
	}
	for i := 3; i < 8; i++ {
		require.True(t, cache.Get(fmt.Sprintf("fp-%d", i)).IsSome())
	}
}

// TestReconcileIgnored asserts rule reconciliation filters matching issues
// from every entry and only touches modified entries.
func TestReconcileIgnored(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New(&Config{Now: clock.Now})

	cache.Put("fp1", testIssues("teh", "alot"))
	cache.Put("fp2", testIssues("recieve"))

	fp2Before := cache.Get("fp2").UnwrapOr(Entry{}).Timestamp

	clock.Advance(time.Minute)
	cache.ReconcileIgnored([]issue.Rule{
		{Token: "teh", Type: "spelling"},
	})

	entry1 := cache.Get("fp1").UnwrapOr(Entry{})
	require.Equal(t, testIssues("alot"), entry1.Issues)

	// The untouched entry keeps its original timestamp.
	entry2 := cache.Get("fp2").UnwrapOr(Entry{})
	require.Equal(t, testIssues("recieve"), entry2.Issues)
	require.Equal(t, fp2Before, entry2.Timestamp)
}

// TestRemoveIssue asserts single-issue removal from a stored entry.
func TestRemoveIssue(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New(&Config{Now: clock.Now})

	cache.Put("fp", testIssues("teh", "alot"))

	cache.RemoveIssue("fp", issue.Key{Token: "teh", Type: "spelling"})
	entry := cache.Get("fp").UnwrapOr(Entry{})
	require.Equal(t, testIssues("alot"), entry.Issues)

	// Removing an absent key is a no-op.
	cache.RemoveIssue("fp", issue.Key{Token: "gone", Type: "spelling"})
	require.Equal(t, testIssues("alot"),
		cache.Get("fp").UnwrapOr(Entry{}).Issues)
}

// TestFileBlobRoundTrip asserts persisted entries survive a cache restart
// and a missing blob starts empty.
func TestFileBlobRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache", "results.json")
	blob, err := NewFileBlob(path)
	require.NoError(t, err)

	clock := newFakeClock()
	cache := New(&Config{Blob: blob, Now: clock.Now})
	require.Equal(t, 0, cache.Len())

	cache.Put("fp", testIssues("teh"))

	reopened := New(&Config{Blob: blob, Now: clock.Now})
	entry := reopened.Get("fp")
	require.True(t, entry.IsSome())
	require.Equal(t, testIssues("teh"), entry.UnwrapOr(Entry{}).Issues)
}

// TestReconcileIdempotentProperty asserts that reconciling a random cache
// state against a random rule set twice gives the same result as once.
func TestReconcileIdempotentProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		cache := New(&Config{Now: clock.Now})

		tokenGen := rapid.SampledFrom([]string{
			"teh", "alot", "recieve", "seperate", "wich",
		})
		typeGen := rapid.SampledFrom([]string{"spelling", "grammar"})

		numEntries := rapid.IntRange(0, 10).Draw(t, "numEntries")
		for i := 0; i < numEntries; i++ {
			numIssues := rapid.IntRange(0, 5).Draw(t, "numIssues")
			issues := make([]issue.Issue, 0, numIssues)
			for j := 0; j < numIssues; j++ {
				issues = append(issues, issue.Issue{
					Token: tokenGen.Draw(t, "token"),
					Type:  typeGen.Draw(t, "type"),
				})
			}
			cache.Put(fmt.Sprintf("fp-%d", i), issues)
		}

		numRules := rapid.IntRange(0, 4).Draw(t, "numRules")
		rules := make([]issue.Rule, 0, numRules)
		for i := 0; i < numRules; i++ {
			rules = append(rules, issue.Rule{
				ID:    fmt.Sprintf("rule-%d", i),
				Token: tokenGen.Draw(t, "ruleToken"),
				Type:  typeGen.Draw(t, "ruleType"),
			})
		}

		cache.ReconcileIgnored(rules)
		after := cache.Entries()

		// No surviving issue matches any rule.
		for _, entry := range after {
			for _, iss := range entry.Issues {
				for _, rule := range rules {
					require.False(t, rule.Matches(iss))
				}
			}
		}

		// A second reconcile changes nothing, timestamps included.
		cache.ReconcileIgnored(rules)
		require.Equal(t, after, cache.Entries())
	})
}

// TestCacheBoundProperty asserts that after any sequence of puts the cache
// holds at most MaxEntries live entries, none expired.
func TestCacheBoundProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		maxEntries := rapid.IntRange(1, 20).Draw(t, "maxEntries")
		cache := New(&Config{
			Now:        clock.Now,
			MaxEntries: maxEntries,
		})

		numPuts := rapid.IntRange(0, 60).Draw(t, "numPuts")
		for i := 0; i < numPuts; i++ {
			fp := fmt.Sprintf(
				"fp-%d", rapid.IntRange(0, 40).Draw(t, "fp"),
			)
			cache.Put(fp, testIssues("teh"))

			advance := rapid.Int64Range(
				0, int64(time.Hour),
			).Draw(t, "advance")
			clock.Advance(time.Duration(advance))
		}

		cache.Evict()

		require.LessOrEqual(t, cache.Len(), maxEntries)
		for _, entry := range cache.Entries() {
			age := clock.Now().UnixMilli() - entry.Timestamp
			require.Less(t, age, DefaultTTL.Milliseconds())
		}
	})
}
