package intel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached threat check stays valid.
const DefaultCacheTTL = 24 * time.Hour

// CheckResult is the outcome of one threat lookup, cloud or cached.
type CheckResult struct {
	Known       bool    `json:"known"`
	Confidence  float64 `json:"confidence"`
	ReportCount int     `json:"reportCount"`
	FirstSeen   string  `json:"firstSeen,omitempty"`
	LastSeen    string  `json:"lastSeen,omitempty"`
	Category    string  `json:"category,omitempty"`
}

type cacheEntry struct {
	Hash      string      `json:"hash"`
	Result    CheckResult `json:"result"`
	CachedAt  time.Time   `json:"cachedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Cache is a hash-to-result store persisted as a single JSON document.
// The number of entries is not capped; an entry leaves only once its TTL
// has passed. It loads lazily on first use, drops expired entries as it
// reads, and rewrites the whole file on every mutation. One process
// owns the file; concurrent processes are not supported.
type Cache struct {
	path string
	ttl  time.Duration

	// Now is the clock; replaced in tests to drive expiry.
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	loaded  bool
}

// NewCache creates a cache persisting to path. A zero ttl means
// DefaultCacheTTL.
func NewCache(path string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{path: path, ttl: ttl, Now: time.Now}
}

// Get returns the cached result for hash, or nil if absent or expired.
// Expired entries are pruned.
func (c *Cache) Get(hash string) *CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	entry, ok := c.entries[hash]
	if !ok {
		return nil
	}
	if c.Now().After(entry.ExpiresAt) {
		delete(c.entries, hash)
		c.persist()
		return nil
	}
	result := entry.Result
	return &result
}

// Set stores a result for hash, replacing any existing entry.
func (c *Cache) Set(hash string, result CheckResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	now := c.Now()
	c.entries[hash] = cacheEntry{
		Hash:      hash,
		Result:    result,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.persist()
}

// FeedEntry is one record from the community threat feed.
type FeedEntry struct {
	Hash        string  `json:"hash"`
	HashType    string  `json:"hashType"`
	Confidence  float64 `json:"confidence"`
	ReportCount int     `json:"reportCount"`
	UpdatedAt   string  `json:"updatedAt"`
	Category    string  `json:"category,omitempty"`
}

// ImportFeed inserts one known-threat cache record per feed entry and
// returns how many were imported.
func (c *Cache) ImportFeed(entries []FeedEntry) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	now := c.Now()
	imported := 0
	for _, fe := range entries {
		if fe.Hash == "" {
			continue
		}
		c.entries[fe.Hash] = cacheEntry{
			Hash: fe.Hash,
			Result: CheckResult{
				Known:       true,
				Confidence:  fe.Confidence,
				ReportCount: fe.ReportCount,
				LastSeen:    fe.UpdatedAt,
				Category:    fe.Category,
			},
			CachedAt:  now,
			ExpiresAt: now.Add(c.ttl),
		}
		imported++
	}
	if imported > 0 {
		c.persist()
	}
	return imported
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	n := 0
	now := c.Now()
	for _, e := range c.entries {
		if !now.After(e.ExpiresAt) {
			n++
		}
	}
	return n
}

// load reads the cache file once, dropping expired entries. A missing or
// corrupt file is treated as empty. Caller holds c.mu.
func (c *Cache) load() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.entries = map[string]cacheEntry{}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var stored []cacheEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return
	}
	now := c.Now()
	for _, e := range stored {
		if now.After(e.ExpiresAt) {
			continue
		}
		c.entries[e.Hash] = e
	}
}

// persist rewrites the whole file. Write failures are dropped; the
// in-memory state stays authoritative for this process. Caller holds c.mu.
func (c *Cache) persist() {
	stored := make([]cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		stored = append(stored, e)
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return
	}
	_ = os.WriteFile(c.path, data, 0o600)
}
