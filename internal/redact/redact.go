package redact

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gzhole/calshield/internal/scan"
)

// Apply rewrites a field's text according to its scan outcome.
//
// Pass and Flag leave the text alone. Block replaces the whole field
// with a notice. Redact splices a placeholder over every detection that
// points at a concrete range; whole-field detections already did their
// work in the score and leave the text intact.
func Apply(text string, action scan.Action, detections []scan.Detection) string {
	switch action {
	case scan.ActionBlock:
		return BlockNotice(len(detections))
	case scan.ActionRedact:
		return spliceDetections(text, detections)
	default:
		return text
	}
}

// BlockNotice is the replacement text for a blocked field.
func BlockNotice(detectionCount int) string {
	return fmt.Sprintf(
		"[CONTENT BLOCKED: %d security detection(s). Original content is preserved in quarantine; run 'calshield quarantine show <event-id>' to review it.]",
		detectionCount)
}

// spliceDetections replaces each detection's matched range with a
// placeholder naming the rule. Splicing runs highest offset first so
// earlier replacements never shift later indices.
func spliceDetections(text string, detections []scan.Detection) string {
	spans := make([]scan.Detection, 0, len(detections))
	for _, d := range detections {
		if d.MatchLength <= 0 || d.MatchOffset < 0 || d.MatchOffset >= len(text) {
			continue
		}
		spans = append(spans, d)
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].MatchOffset > spans[j].MatchOffset
	})

	out := text
	for _, d := range spans {
		end := d.MatchOffset + d.MatchLength
		if end > len(out) {
			end = len(out)
		}
		if d.MatchOffset >= end {
			continue
		}
		var sb strings.Builder
		sb.Grow(len(out))
		sb.WriteString(out[:d.MatchOffset])
		sb.WriteString("[REDACTED:")
		sb.WriteString(d.RuleID)
		sb.WriteString("]")
		sb.WriteString(out[end:])
		out = sb.String()
	}
	return out
}
