package scan

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gzhole/calshield/internal/unicode"
)

// StructuralTier detects technical attack markers in a text field:
// invisible characters, encoded payloads, dangerous markup and URI
// schemes, homoglyphs, and CSS-hidden content. It is pure and
// synchronous; severities are base values, never context-weighted.
type StructuralTier struct {
	rules []structuralRule
}

type structuralRule struct {
	id   string
	name string
	run  func(text string, clock *ruleClock) []Detection
}

// NewStructuralTier creates the structural tier with its built-in rules.
func NewStructuralTier() *StructuralTier {
	t := &StructuralTier{}
	t.rules = []structuralRule{
		{"STRUCT-001", "Invisible Characters", checkZeroWidth},
		{"STRUCT-002", "Encoded Payload", checkBase64Payload},
		{"STRUCT-003", "Dangerous Markup", checkDangerousMarkup},
		{"STRUCT-004", "Script URI Scheme", checkScriptScheme},
		{"STRUCT-005", "Suspicious Link Target", checkMarkdownLinks},
		{"STRUCT-006", "Mixed-Script Homoglyphs", checkHomoglyphs},
		{"STRUCT-007", "Layered Encoding", checkLayeredEncoding},
		{"STRUCT-008", "Base64 Data URI", checkDataURI},
		{"STRUCT-009", "CSS-Hidden Content", checkHiddenCSS},
	}
	return t
}

func (t *StructuralTier) Name() string { return TierStructural }

// Analyze runs every structural rule over the field text. Each rule has
// its own wall-clock budget; an overrunning rule keeps whatever it found
// and is tagged as aborted. The returned list is ordered by (rule id,
// offset) and capped at MaxDetectionsPerField.
func (t *StructuralTier) Analyze(_ context.Context, text string, _ ScanContext) []Detection {
	if text == "" {
		return nil
	}
	text = truncateField(text)

	var detections []Detection
	for _, rule := range t.rules {
		clock := newRuleClock()
		found := rule.run(text, clock)
		for i := range found {
			found[i].Tier = TierStructural
			found[i].RuleID = rule.id
			found[i].RuleName = rule.name
			found[i].Severity = clamp01(found[i].Severity)
			found[i].Confidence = clamp01(found[i].Confidence)
			if clock.aborted {
				if found[i].Metadata == nil {
					found[i].Metadata = map[string]string{}
				}
				found[i].Metadata["aborted"] = "true"
			}
		}
		detections = append(detections, found...)
		if len(detections) >= MaxDetectionsPerField {
			detections = detections[:MaxDetectionsPerField]
			break
		}
	}

	sortDetections(detections)
	return detections
}

// ruleClock is a cooperative per-rule deadline. Hand-scanned rules poll
// expired() at loop boundaries; regex rules are linear-time under RE2 and
// poll between patterns.
type ruleClock struct {
	deadline time.Time
	aborted  bool
}

func newRuleClock() *ruleClock {
	return &ruleClock{deadline: time.Now().Add(RuleBudget)}
}

func (c *ruleClock) expired() bool {
	if c.aborted {
		return true
	}
	if time.Now().After(c.deadline) {
		c.aborted = true
	}
	return c.aborted
}

func sortDetections(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		if dets[i].RuleID != dets[j].RuleID {
			return dets[i].RuleID < dets[j].RuleID
		}
		return dets[i].MatchOffset < dets[j].MatchOffset
	})
}

// ── STRUCT-001: zero-width characters ──────────────────────────────────

func checkZeroWidth(text string, _ *ruleClock) []Detection {
	count := unicode.CountZeroWidth(text)
	if count == 0 {
		return nil
	}
	severity := 0.70
	if count >= 5 {
		severity = 0.80
	}
	return []Detection{{
		Severity:       severity,
		Confidence:     0.95,
		MatchedContent: fmt.Sprintf("%d zero-width characters", count),
		Metadata:       map[string]string{"count": strconv.Itoa(count)},
	}}
}

// ── STRUCT-002: base64-encoded payloads ────────────────────────────────

const minBase64Run = 32

// b64SuspectRe matches decoded content that warrants a detection: shell
// tools, instruction-override vocabulary, script tags, pipe-to-shell.
var b64SuspectRe = regexp.MustCompile(
	`(?i)(\b(bash|sh|curl|wget|chmod|python|node|exec|eval|powershell)\b` +
		`|\brm\s` +
		`|ignore|override|system|instruction|prompt` +
		`|<script` +
		`|\|\s*(bash|sh)\b)`,
)

func isBase64Char(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') || c == '+' || c == '/'
}

// base64Runs finds contiguous base64-alphabet runs of at least minLen,
// returning [start, end) byte ranges. Trailing '=' padding is included.
func base64Runs(text string, minLen int) [][2]int {
	var runs [][2]int
	start := -1
	for i := 0; i < len(text); i++ {
		if isBase64Char(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			end := i
			for end < len(text) && text[end] == '=' {
				end++
			}
			if end-start >= minLen {
				runs = append(runs, [2]int{start, end})
			}
			i = end - 1
			start = -1
		}
	}
	if start >= 0 && len(text)-start >= minLen {
		runs = append(runs, [2]int{start, len(text)})
	}
	return runs
}

func decodeBase64(s string) (string, bool) {
	trimmed := strings.TrimRight(s, "=")
	if pad := len(trimmed) % 4; pad != 0 {
		trimmed += strings.Repeat("=", 4-pad)
	}
	if raw, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return string(raw), true
	}
	if raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return string(raw), true
	}
	return "", false
}

// suspiciousDecode decodes a base64 run and reports whether its content
// (at any nesting depth up to MaxBase64Recursion) is suspicious.
func suspiciousDecode(encoded string, depth int) (preview string, foundDepth int, ok bool) {
	if depth > MaxBase64Recursion {
		return "", 0, false
	}
	decoded, valid := decodeBase64(encoded)
	if !valid {
		return "", 0, false
	}
	if b64SuspectRe.MatchString(decoded) {
		return sample(decoded, 40), depth, true
	}
	for _, run := range base64Runs(decoded, minBase64Run) {
		if p, d, nested := suspiciousDecode(decoded[run[0]:run[1]], depth+1); nested {
			return p, d, true
		}
	}
	return "", 0, false
}

func checkBase64Payload(text string, clock *ruleClock) []Detection {
	var detections []Detection
	for _, run := range base64Runs(text, minBase64Run) {
		if clock.expired() {
			break
		}
		preview, depth, ok := suspiciousDecode(text[run[0]:run[1]], 1)
		if !ok {
			continue
		}
		detections = append(detections, Detection{
			Severity:       0.80,
			Confidence:     0.85,
			MatchedContent: sample(text[run[0]:run[1]], 24),
			MatchOffset:    run[0],
			MatchLength:    run[1] - run[0],
			Metadata: map[string]string{
				"decoded": preview,
				"depth":   strconv.Itoa(depth),
			},
		})
	}
	return detections
}

// ── STRUCT-003: dangerous HTML ─────────────────────────────────────────

var (
	dangerousTagRe = regexp.MustCompile(`(?i)<(script|iframe|object|embed|form|input|svg|link|meta|base)\b`)
	eventHandlerRe = regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*["']`)
)

func checkDangerousMarkup(text string, clock *ruleClock) []Detection {
	var detections []Detection
	for _, loc := range dangerousTagRe.FindAllStringIndex(text, -1) {
		detections = append(detections, Detection{
			Severity:       0.90,
			Confidence:     0.95,
			MatchedContent: sample(text[loc[0]:loc[1]], 24),
			MatchOffset:    loc[0],
			MatchLength:    loc[1] - loc[0],
		})
	}
	if clock.expired() {
		return detections
	}
	for _, loc := range eventHandlerRe.FindAllStringIndex(text, -1) {
		detections = append(detections, Detection{
			Severity:       0.85,
			Confidence:     0.90,
			MatchedContent: sample(text[loc[0]:loc[1]], 24),
			MatchOffset:    loc[0],
			MatchLength:    loc[1] - loc[0],
			Metadata:       map[string]string{"kind": "event-handler"},
		})
	}
	return detections
}

// ── STRUCT-004: script URI schemes ─────────────────────────────────────

// Letters may be separated by whitespace ("j a v a script:") to dodge
// naive substring checks.
var scriptSchemeRe = regexp.MustCompile(
	`(?i)(j\s*a\s*v\s*a\s*s\s*c\s*r\s*i\s*p\s*t|v\s*b\s*s\s*c\s*r\s*i\s*p\s*t)\s*:`,
)

func checkScriptScheme(text string, _ *ruleClock) []Detection {
	var detections []Detection
	for _, loc := range scriptSchemeRe.FindAllStringIndex(text, -1) {
		detections = append(detections, Detection{
			Severity:       0.95,
			Confidence:     0.95,
			MatchedContent: sample(text[loc[0]:loc[1]], 24),
			MatchOffset:    loc[0],
			MatchLength:    loc[1] - loc[0],
		})
	}
	return detections
}

// ── STRUCT-005: markdown link targets ──────────────────────────────────

var (
	markdownLinkRe = regexp.MustCompile(`\[([^\]\n]*)\]\(([^)\n]+)\)`)
	dottedQuadRe   = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	pipeToShellRe  = regexp.MustCompile(`\|\s*(sh|bash)\b`)
)

func checkMarkdownLinks(text string, clock *ruleClock) []Detection {
	var detections []Detection
	for _, m := range markdownLinkRe.FindAllStringSubmatchIndex(text, -1) {
		if clock.expired() {
			break
		}
		url := text[m[4]:m[5]]
		lower := strings.ToLower(url)

		severity := 0.0
		reason := ""
		switch {
		case strings.Contains(lower, "javascript:"), strings.Contains(lower, "data:"):
			severity, reason = 0.85, "script-or-data-url"
		case pipeToShellRe.MatchString(url):
			severity, reason = 0.60, "pipe-to-shell"
		case strings.ContainsAny(url, ";&|`$"):
			severity, reason = 0.60, "shell-metacharacters"
		case dottedQuadRe.MatchString(url):
			severity, reason = 0.60, "raw-ip-target"
		}
		if severity == 0 {
			continue
		}
		detections = append(detections, Detection{
			Severity:       severity,
			Confidence:     0.80,
			MatchedContent: sample(url, 40),
			MatchOffset:    m[0],
			MatchLength:    m[1] - m[0],
			Metadata:       map[string]string{"reason": reason},
		})
	}
	return detections
}

// ── STRUCT-006: mixed-script homoglyphs ────────────────────────────────

func checkHomoglyphs(text string, _ *ruleClock) []Detection {
	if !unicode.HasMixableScripts(text) {
		return nil
	}
	count, word := unicode.MixedScriptWords(text)
	if count == 0 {
		return nil
	}
	severity := 0.50
	switch {
	case count >= 5:
		severity = 0.85
	case count >= 3:
		severity = 0.75
	}
	meta := map[string]string{
		"count":  strconv.Itoa(count),
		"sample": sample(word, 24),
	}
	if conf := unicode.ConfusableSample(text, 4); conf != "" {
		meta["confusables"] = conf
	}
	return []Detection{{
		Severity:       severity,
		Confidence:     0.85,
		MatchedContent: fmt.Sprintf("%d mixed-script words", count),
		Metadata:       meta,
	}}
}

// ── STRUCT-007: layered encoding ───────────────────────────────────────

var (
	doubleURLEncRe = regexp.MustCompile(`%25[0-9A-Fa-f]{2}`)
	htmlEntityRe   = regexp.MustCompile(`&(?:[a-zA-Z]{2,12}|#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6});`)
)

func checkLayeredEncoding(text string, clock *ruleClock) []Detection {
	var detections []Detection
	if n := len(doubleURLEncRe.FindAllStringIndex(text, -1)); n >= 3 {
		detections = append(detections, Detection{
			Severity:       0.80,
			Confidence:     0.85,
			MatchedContent: fmt.Sprintf("%d double-URL-encoded sequences", n),
			Metadata:       map[string]string{"count": strconv.Itoa(n), "kind": "double-url-encoding"},
		})
	}
	if clock.expired() {
		return detections
	}
	if n := len(htmlEntityRe.FindAllStringIndex(text, -1)); n >= 10 {
		detections = append(detections, Detection{
			Severity:       0.80,
			Confidence:     0.80,
			MatchedContent: fmt.Sprintf("%d HTML entities", n),
			Metadata:       map[string]string{"count": strconv.Itoa(n), "kind": "html-entities"},
		})
	}
	return detections
}

// ── STRUCT-008: base64 data URIs ───────────────────────────────────────

var dataURIRe = regexp.MustCompile(`(?i)data:[a-z0-9.+/-]*;base64,`)

func checkDataURI(text string, _ *ruleClock) []Detection {
	var detections []Detection
	for _, loc := range dataURIRe.FindAllStringIndex(text, -1) {
		detections = append(detections, Detection{
			Severity:       0.85,
			Confidence:     0.90,
			MatchedContent: sample(text[loc[0]:loc[1]], 32),
			MatchOffset:    loc[0],
			MatchLength:    loc[1] - loc[0],
		})
	}
	return detections
}

// ── STRUCT-009: CSS-hidden content ─────────────────────────────────────

var cssHiddenRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)overflow\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0+(?:\.0+)?(?:px|pt|em|rem|%)?\s*(?:[;"'}]|\s|$)`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0+(?:\.0+)?\s*(?:[;"'}]|\s|$)`),
	regexp.MustCompile(`(?i)(?:^|[^-a-z])height\s*:\s*0+(?:\.0+)?(?:px|pt|em|rem|%)?\s*(?:[;"'}]|\s|$)`),
}

var (
	whiteColorRe = regexp.MustCompile(`(?i)(?:^|[^-a-z])color\s*:\s*(#fff\b|#ffffff\b|white\b)`)
	whiteBgRe    = regexp.MustCompile(`(?i)background(?:-color)?\s*:\s*(#fff\b|#ffffff\b|white\b)`)
)

func checkHiddenCSS(text string, clock *ruleClock) []Detection {
	var detections []Detection
	for _, re := range cssHiddenRes {
		if clock.expired() {
			return detections
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				Severity:       0.75,
				Confidence:     0.85,
				MatchedContent: sample(strings.TrimSpace(text[loc[0]:loc[1]]), 32),
				MatchOffset:    loc[0],
				MatchLength:    loc[1] - loc[0],
			})
		}
	}
	if whiteColorRe.MatchString(text) && whiteBgRe.MatchString(text) {
		detections = append(detections, Detection{
			Severity:       0.75,
			Confidence:     0.80,
			MatchedContent: "white-on-white text",
			Metadata:       map[string]string{"kind": "white-on-white"},
		})
	}
	return detections
}
