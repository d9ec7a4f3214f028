package scan

import (
	"context"
	"fmt"

	"github.com/gzhole/calshield/internal/fingerprint"
	"github.com/gzhole/calshield/internal/intel"
)

// ThreatIntelTier checks field content against community threat
// intelligence by fingerprint. It never sees the text leave the machine:
// only irreversible hashes are looked up. The tier may suspend on cache
// file I/O or, on a cache miss, on the cloud; every failure mode
// degrades to zero detections.
type ThreatIntelTier struct {
	client *intel.Client
}

// NewThreatIntelTier creates the tier around an intel client.
func NewThreatIntelTier(client *intel.Client) *ThreatIntelTier {
	return &ThreatIntelTier{client: client}
}

func (t *ThreatIntelTier) Name() string { return TierThreatIntel }

// reportCountBonus caps how much corroborating reports can raise the
// severity above the feed's own confidence.
const (
	reportCountStep  = 0.02
	reportCountLimit = 0.15
)

// Analyze hashes the field and asks the client. At most one detection
// comes back; an unknown hash or any lookup failure yields none.
func (t *ThreatIntelTier) Analyze(ctx context.Context, text string, _ ScanContext) []Detection {
	if t.client == nil || text == "" {
		return nil
	}
	text = truncateField(text)

	fp := fingerprint.New(text)
	result := t.client.Check(ctx, fp)
	if result == nil || !result.Known {
		return nil
	}

	bonus := reportCountStep * float64(result.ReportCount)
	if bonus > reportCountLimit {
		bonus = reportCountLimit
	}
	severity := clamp01(result.Confidence + bonus)

	meta := map[string]string{
		"reportCount": fmt.Sprintf("%d", result.ReportCount),
	}
	if result.Category != "" {
		meta["category"] = result.Category
	}
	if result.LastSeen != "" {
		meta["lastSeen"] = result.LastSeen
	}

	return []Detection{{
		Tier:           TierThreatIntel,
		RuleID:         "THREAT-001",
		RuleName:       "Known Threat Fingerprint",
		Severity:       severity,
		Confidence:     clamp01(result.Confidence),
		MatchedContent: "content matches a reported threat fingerprint",
		Metadata:       meta,
	}}
}
