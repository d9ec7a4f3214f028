package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gzhole/calshield/internal/fingerprint"
)

// Timeouts for cloud calls. Check and report are small exchanges; a feed
// page can be larger.
const (
	checkTimeout = 5 * time.Second
	feedTimeout  = 10 * time.Second
)

// DefaultSyncInterval is how often SyncFeed actually reaches the cloud.
const DefaultSyncInterval = 6 * time.Hour

// clientIDFile holds the anonymous installation id under the state dir.
const clientIDFile = "client-id"

// Config controls the threat-intel client.
type Config struct {
	APIURL       string
	Enabled      bool
	SyncInterval time.Duration
	StateDir     string
	CacheTTL     time.Duration
}

// Client wraps the local cache with optional cloud lookups, reports, and
// feed syncs. With the cloud disabled or unreachable it degrades to
// cache-only: Check answers from cache, Report is a no-op, SyncFeed
// imports nothing.
type Client struct {
	cfg   Config
	cache *Cache
	http  *http.Client

	mu       sync.Mutex
	clientID string
	lastSync time.Time
}

// NewClient creates a client using cache as its local store.
func NewClient(cfg Config, cache *Cache) *Client {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	return &Client{
		cfg:   cfg,
		cache: cache,
		http:  &http.Client{},
	}
}

// Check looks up a fingerprint, content hash first, then structural.
// The cache answers the hot path; the cloud is consulted at most once
// per hash per TTL, after which the response is cache-resident. Any
// network failure yields a negative result, never an error the caller
// must handle.
func (c *Client) Check(ctx context.Context, fp fingerprint.Fingerprint) *CheckResult {
	for _, hash := range []string{fp.ContentHash, fp.StructuralHash} {
		if hash == "" {
			continue
		}
		if cached := c.cache.Get(hash); cached != nil {
			if cached.Known {
				return cached
			}
		} else if c.cfg.Enabled {
			result := c.cloudCheck(ctx, hash)
			c.cache.Set(hash, result)
			if result.Known {
				res := result
				return &res
			}
		}
	}
	return &CheckResult{Known: false}
}

func (c *Client) cloudCheck(ctx context.Context, hash string) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/check/" + url.PathEscape(hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return CheckResult{}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{}
	}
	var result CheckResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return CheckResult{}
	}
	return result
}

// reportPayload is the wire body of POST /report.
type reportPayload struct {
	ClientID    string                  `json:"clientId"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	ReportedAt  string                  `json:"reportedAt"`
}

// Report submits a fingerprint of a detected threat. Fire and forget:
// errors are swallowed, nothing blocks the caller beyond the HTTP
// round trip, and the cloud disabled flag makes it a no-op.
func (c *Client) Report(ctx context.Context, fp fingerprint.Fingerprint) {
	if !c.cfg.Enabled {
		return
	}
	payload := reportPayload{
		ClientID:    c.ClientID(),
		Fingerprint: fp,
		ReportedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/report"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// feedResponse is the wire body of GET /feed.
type feedResponse struct {
	Entries  []FeedEntry `json:"entries"`
	Count    int         `json:"count"`
	SyncedAt string      `json:"syncedAt"`
}

// SyncFeed pulls the community feed into the cache and returns the
// number of imported entries. Syncs more frequent than the configured
// interval are skipped; all failures return 0.
func (c *Client) SyncFeed(ctx context.Context) int {
	if !c.cfg.Enabled {
		return 0
	}

	c.mu.Lock()
	since := c.lastSync
	if !since.IsZero() && time.Since(since) < c.cfg.SyncInterval {
		c.mu.Unlock()
		return 0
	}
	c.mu.Unlock()

	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(ctx, feedTimeout)
	defer cancel()
	endpoint := fmt.Sprintf("%s/feed?since=%s",
		strings.TrimRight(c.cfg.APIURL, "/"),
		url.QueryEscape(since.UTC().Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0
	}
	var feed feedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&feed); err != nil {
		return 0
	}

	imported := c.cache.ImportFeed(feed.Entries)

	c.mu.Lock()
	c.lastSync = time.Now()
	c.mu.Unlock()
	return imported
}

// LastSync returns when the feed last synced, zero if never.
func (c *Client) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// ClientID returns the anonymous installation id, generating and
// persisting a UUID v4 on first use. The id carries no user identity;
// it only lets the cloud deduplicate reports per installation.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clientID != "" {
		return c.clientID
	}

	path := filepath.Join(c.cfg.StateDir, clientIDFile)
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(id); err == nil {
			c.clientID = id
			return c.clientID
		}
	}

	c.clientID = uuid.NewString()
	if err := os.MkdirAll(c.cfg.StateDir, 0o700); err == nil {
		_ = os.WriteFile(path, []byte(c.clientID+"\n"), 0o600)
	}
	return c.clientID
}
