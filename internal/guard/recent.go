package guard

import (
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/quillworks/redline/internal/issue"
	"github.com/quillworks/redline/internal/textnorm"
)

const (
	// DefaultRecentTTL is how long a recent-query entry stays usable.
	DefaultRecentTTL = 10 * time.Minute

	// DefaultRecentMaxEntries is the recent-query cache size cap. When
	// exceeded, the oldest half of the entries is evicted.
	DefaultRecentMaxEntries = 100
)

// recentEntry is one cached provider response.
type recentEntry struct {
	issues   []issue.Issue
	storedAt time.Time
}

// RecentQueries caches the last provider response per request-text
// fingerprint. Keys use the server-side normalization (lowercase, trimmed,
// collapsed whitespace), which intentionally differs from the client cache's
// markup-stripping normalization.
type RecentQueries struct {
	mu sync.Mutex

	entries map[string]recentEntry
	ttl     time.Duration
	max     int
	now     func() time.Time
}

// NewRecentQueries creates a recent-query cache. Zero values select the
// defaults; a nil now defaults to time.Now.
func NewRecentQueries(ttl time.Duration, max int,
	now func() time.Time) *RecentQueries {

	if ttl <= 0 {
		ttl = DefaultRecentTTL
	}
	if max <= 0 {
		max = DefaultRecentMaxEntries
	}
	if now == nil {
		now = time.Now
	}

	return &RecentQueries{
		entries: make(map[string]recentEntry),
		ttl:     ttl,
		max:     max,
		now:     now,
	}
}

// Key returns the cache key for the given request text.
func (r *RecentQueries) Key(text string) string {
	return textnorm.Fingerprint(textnorm.ServerNormalize(text))
}

// Get returns the cached response for the text, or None when absent or
// older than the TTL.
func (r *RecentQueries) Get(text string) fn.Option[[]issue.Issue] {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[r.Key(text)]
	if !ok || r.now().Sub(entry.storedAt) >= r.ttl {
		return fn.None[[]issue.Issue]()
	}

	return fn.Some(entry.issues)
}

// Put stores the response for the text, evicting the oldest half of the
// cache when the size cap is exceeded.
func (r *RecentQueries) Put(text string, issues []issue.Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.Key(text)] = recentEntry{
		issues:   issues,
		storedAt: r.now(),
	}

	if len(r.entries) <= r.max {
		return
	}

	type keyed struct {
		key      string
		storedAt time.Time
	}
	all := make([]keyed, 0, len(r.entries))
	for key, entry := range r.entries {
		all = append(all, keyed{key: key, storedAt: entry.storedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].storedAt.Before(all[j].storedAt)
	})

	for _, k := range all[:len(all)/2] {
		delete(r.entries, k.key)
	}
}

// Len returns the number of stored entries.
func (r *RecentQueries) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
