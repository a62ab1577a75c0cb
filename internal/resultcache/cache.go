// Package resultcache implements the client-side correction result cache.
// It maps content fingerprints to previously returned issue sets, bounded by
// a TTL and a capacity limit, and is reconciled against the user's ignore
// rules whenever those change.
package resultcache

import (
	"sort"
	"sync"
	"time"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/quillworks/redline/internal/build"
	"github.com/quillworks/redline/internal/issue"
)

const (
	// DefaultTTL is how long a cached result stays usable. Entries older
	// than this are treated as absent even if still physically stored.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries is the capacity bound. When eviction leaves more
	// than this many live entries, only the most recent ones are kept.
	DefaultMaxEntries = 50
)

// Entry is a cached check result for one content fingerprint. Timestamp is
// epoch milliseconds so the persisted blob stays portable across hosts.
type Entry struct {
	// Fingerprint is the normalized-content fingerprint this entry keys on.
	Fingerprint string `json:"fingerprint"`

	// Issues holds the filtered issues from the last successful check.
	Issues []issue.Issue `json:"issues"`

	// Timestamp is the entry's creation or last-refresh time in epoch
	// milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Blob is the durable storage the cache writes through on every mutation. A
// crash must not lose more than the last mutation, so there is no batching.
type Blob interface {
	// Save persists the full entry map, replacing any previous contents.
	Save(entries map[string]Entry) error

	// Load reads back the previously saved entry map. A missing blob
	// yields an empty map, not an error.
	Load() (map[string]Entry, error)
}

// Config holds the cache construction parameters.
type Config struct {
	// Blob is the durable store written through on each mutation. If nil,
	// the cache is memory-only.
	Blob Blob

	// TTL overrides DefaultTTL when non-zero.
	TTL time.Duration

	// MaxEntries overrides DefaultMaxEntries when non-zero.
	MaxEntries int

	// Now overrides the clock, for tests.
	Now func() time.Time

	// Logger receives persistence warnings. Defaults to a nop logger.
	Logger btclog.Logger
}

// Cache is the client result cache. All mutations write through to the
// configured Blob immediately.
type Cache struct {
	mu sync.Mutex

	entries map[string]Entry

	blob       Blob
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	log        btclog.Logger
}

// New creates a result cache, loading any previously persisted entries from
// the blob. A corrupt or missing blob starts the cache empty rather than
// failing construction.
func New(cfg *Config) *Cache {
	c := &Cache{
		entries:    make(map[string]Entry),
		blob:       cfg.Blob,
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
		log:        cfg.Logger,
	}
	if c.ttl == 0 {
		c.ttl = DefaultTTL
	}
	if c.maxEntries == 0 {
		c.maxEntries = DefaultMaxEntries
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = build.NewNopLogger()
	}

	if c.blob != nil {
		entries, err := c.blob.Load()
		switch {
		case err != nil:
			c.log.Warnf("Unable to load persisted result cache, "+
				"starting empty: %v", err)

		case entries != nil:
			c.entries = entries
		}
	}

	return c
}

// Get returns the cached entry for the fingerprint, or None when absent or
// expired. Expiry here is lazy: an expired entry is reported absent but only
// physically removed by the next Evict.
func (c *Cache) Get(fingerprint string) fn.Option[Entry] {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok || c.expired(entry) {
		return fn.None[Entry]()
	}

	return fn.Some(entry)
}

// Put stores the issues under the fingerprint with a fresh timestamp, then
// runs eviction and persists.
func (c *Cache) Put(fingerprint string, issues []issue.Issue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fingerprint] = Entry{
		Fingerprint: fingerprint,
		Issues:      issues,
		Timestamp:   c.now().UnixMilli(),
	}

	c.evictLocked()
	c.persistLocked()
}

// Evict drops all expired entries, then trims the cache down to the
// MaxEntries most recent entries by timestamp.
func (c *Cache) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked()
	c.persistLocked()
}

// ReconcileIgnored removes every issue matching one of the given rules from
// every stored entry. It is called synchronously whenever the ignore
// registry changes and is safe to call any number of times: once the
// matching issues are gone, further calls with the same rules are no-ops.
func (c *Cache) ReconcileIgnored(rules []issue.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for fp, entry := range c.entries {
		kept := issue.FilterIgnored(entry.Issues, rules)
		if len(kept) == len(entry.Issues) {
			continue
		}

		entry.Issues = kept
		entry.Timestamp = c.now().UnixMilli()
		c.entries[fp] = entry
		changed = true
	}

	if changed {
		c.persistLocked()
	}
}

// RemoveIssue drops the issue with the given key from the entry stored under
// the fingerprint, refreshing the entry's timestamp. Used when the user
// accepts, rejects, or ignores a single issue.
func (c *Cache) RemoveIssue(fingerprint string, key issue.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return
	}

	kept := make([]issue.Issue, 0, len(entry.Issues))
	for _, iss := range entry.Issues {
		if iss.Key() == key {
			continue
		}
		kept = append(kept, iss)
	}
	if len(kept) == len(entry.Issues) {
		return
	}

	entry.Issues = kept
	entry.Timestamp = c.now().UnixMilli()
	c.entries[fingerprint] = entry

	c.persistLocked()
}

// Clear drops every entry and persists the empty state.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
	c.persistLocked()
}

// Len returns the number of physically stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Entries returns a snapshot copy of the stored entries, for tests and
// diagnostics.
func (c *Cache) Entries() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[string]Entry, len(c.entries))
	for fp, entry := range c.entries {
		snapshot[fp] = entry
	}

	return snapshot
}

// expired reports whether the entry's age has reached the TTL.
func (c *Cache) expired(entry Entry) bool {
	age := c.now().UnixMilli() - entry.Timestamp
	return age >= c.ttl.Milliseconds()
}

// evictLocked drops expired entries and enforces the capacity bound by
// keeping only the most recent entries by timestamp.
func (c *Cache) evictLocked() {
	for fp, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, fp)
		}
	}

	if len(c.entries) <= c.maxEntries {
		return
	}

	live := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		live = append(live, entry)
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].Timestamp > live[j].Timestamp
	})

	for _, entry := range live[c.maxEntries:] {
		delete(c.entries, entry.Fingerprint)
	}
}

// persistLocked writes the full entry map through to the blob. Persistence
// failures are logged and otherwise ignored: the in-memory cache remains the
// working copy and the next mutation retries the write.
func (c *Cache) persistLocked() {
	if c.blob == nil {
		return
	}

	if err := c.blob.Save(c.entries); err != nil {
		c.log.Warnf("Unable to persist result cache: %v", err)
	}
}
