package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gzhole/calshield/internal/fingerprint"
	"github.com/gzhole/calshield/internal/intel"
)

func newIntelTier(t *testing.T, serverURL string, enabled bool) *ThreatIntelTier {
	t.Helper()
	dir := t.TempDir()
	cache := intel.NewCache(filepath.Join(dir, "cache.json"), time.Hour)
	client := intel.NewClient(intel.Config{
		APIURL:   serverURL,
		Enabled:  enabled,
		StateDir: dir,
	}, cache)
	return NewThreatIntelTier(client)
}

func TestThreatIntelUnknownHashNoDetections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(intel.CheckResult{Known: false})
	}))
	defer server.Close()

	tier := newIntelTier(t, server.URL, true)
	dets := tier.Analyze(context.Background(), "routine text", ScanContext{})
	if len(dets) != 0 {
		t.Fatalf("unknown hash produced %d detections", len(dets))
	}
}

func TestThreatIntelKnownHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(intel.CheckResult{
			Known: true, Confidence: 0.70, ReportCount: 4, Category: "prompt-injection",
		})
	}))
	defer server.Close()

	tier := newIntelTier(t, server.URL, true)
	dets := tier.Analyze(context.Background(), "known bad payload", ScanContext{})
	if len(dets) != 1 {
		t.Fatalf("expected exactly one detection, got %d", len(dets))
	}

	d := dets[0]
	if d.RuleID != "THREAT-001" || d.Tier != TierThreatIntel {
		t.Errorf("detection identity wrong: %+v", d)
	}
	// severity = confidence + 0.02 * reportCount, capped at +0.15
	want := 0.70 + 0.02*4
	if diff := d.Severity - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("severity = %v, want %v", d.Severity, want)
	}
	if d.Metadata["category"] != "prompt-injection" {
		t.Errorf("metadata = %v", d.Metadata)
	}
}

func TestThreatIntelReportBonusCapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(intel.CheckResult{Known: true, Confidence: 0.80, ReportCount: 1000})
	}))
	defer server.Close()

	tier := newIntelTier(t, server.URL, true)
	dets := tier.Analyze(context.Background(), "heavily reported payload", ScanContext{})
	if len(dets) != 1 {
		t.Fatal("expected one detection")
	}
	want := 0.80 + 0.15
	if diff := dets[0].Severity - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("severity = %v, want capped %v", dets[0].Severity, want)
	}
}

func TestThreatIntelCloudFailureDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	tier := newIntelTier(t, server.URL, true)
	if dets := tier.Analyze(context.Background(), "anything", ScanContext{}); len(dets) != 0 {
		t.Fatalf("unreachable cloud produced %d detections", len(dets))
	}
}

func TestThreatIntelDisabledUsesCacheOnly(t *testing.T) {
	dir := t.TempDir()
	cache := intel.NewCache(filepath.Join(dir, "cache.json"), time.Hour)

	text := "cached bad payload"
	cache.Set(fingerprint.ContentHash(text), intel.CheckResult{Known: true, Confidence: 0.9})

	client := intel.NewClient(intel.Config{Enabled: false, StateDir: dir}, cache)
	tier := NewThreatIntelTier(client)

	dets := tier.Analyze(context.Background(), text, ScanContext{})
	if len(dets) != 1 {
		t.Fatalf("cache-resident threat should still be found with cloud disabled, got %d", len(dets))
	}
	if dets[0].RuleID != "THREAT-001" {
		t.Errorf("rule = %s", dets[0].RuleID)
	}
}
