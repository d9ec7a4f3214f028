package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/gzhole/calshield/internal/annotate"
	"github.com/gzhole/calshield/internal/engine"
	"github.com/gzhole/calshield/internal/scan"
)

// Sanitizer wraps upstream tool execution: it extracts events from a
// tool response, runs each through the engine, and re-emits the response
// with sanitized events and, when anything was flagged, a security
// notice prepended for the LLM.
//
// The engine pointer is swappable so config hot reload can install new
// thresholds between requests without a lock on the scan path.
type Sanitizer struct {
	engine      atomic.Pointer[engine.Engine]
	ownerDomain atomic.Pointer[string]
	stderr      io.Writer
}

// NewSanitizer creates a sanitizer around an engine.
func NewSanitizer(eng *engine.Engine, ownerDomain string) *Sanitizer {
	s := &Sanitizer{stderr: os.Stderr}
	s.engine.Store(eng)
	s.ownerDomain.Store(&ownerDomain)
	return s
}

// SetStderr redirects diagnostics, for tests.
func (s *Sanitizer) SetStderr(w io.Writer) {
	s.stderr = w
}

// SwapEngine atomically replaces the engine. In-flight scans finish on
// the engine they started with.
func (s *Sanitizer) SwapEngine(eng *engine.Engine) {
	s.engine.Store(eng)
}

// SetOwnerDomain atomically replaces the owner domain used to classify
// external organizers.
func (s *Sanitizer) SetOwnerDomain(domain string) {
	s.ownerDomain.Store(&domain)
}

// SanitizeToolResult processes one tool response body. The returned
// string is what the LLM should see instead of the raw response. A
// response with no recognizable events passes through unmodified.
func (s *Sanitizer) SanitizeToolResult(ctx context.Context, raw string) (string, []scan.EventResult, error) {
	parsed := ParseToolResult(raw)
	events := parsed.Events()
	if len(events) == 0 {
		return raw, nil, nil
	}

	eng := s.engine.Load()
	owner := *s.ownerDomain.Load()

	var results []scan.EventResult
	sanitizedEvents := events[:0:0]
	for start := 0; start < len(events); start += scan.MaxEventsPerBatch {
		end := start + scan.MaxEventsPerBatch
		if end > len(events) {
			end = len(events)
		}
		chunkResults, chunkSanitized, err := eng.ScanEvents(ctx, events[start:end], owner)
		if err != nil {
			return raw, nil, fmt.Errorf("scan batch: %w", err)
		}
		results = append(results, chunkResults...)
		sanitizedEvents = append(sanitizedEvents, chunkSanitized...)
	}

	for _, r := range results {
		if r.OverallRiskLevel != scan.LevelSafe {
			fmt.Fprintf(s.stderr, "[CalShield] event %s: %s (score %.2f, action %s)\n",
				r.EventID, r.OverallRiskLevel, r.OverallRiskScore, r.OverallAction)
		}
	}

	body := parsed.Render(sanitizedEvents)
	if notice := annotate.Build(results); notice != "" {
		body = notice + "\n" + body
	}
	return body, results, nil
}
