package scan

import (
	"context"
	"regexp"
	"strings"
)

// ContextualTier detects semantic injection patterns: instruction
// overrides, imperative system verbs, shell syntax, fake tool calls,
// role assumption, output manipulation, urgency framing, payload
// delivery, and sensitive path references. Pure and synchronous.
//
// After rule evaluation the tier applies contextual weighting: the same
// phrasing is more dangerous coming from an external organizer, inside a
// description, or smuggled into an attendee display name.
type ContextualTier struct {
	rules []contextualRule
}

type contextualRule struct {
	id   string
	name string
	run  func(text string, clock *ruleClock) []Detection
}

// NewContextualTier creates the contextual tier with its built-in rules.
func NewContextualTier() *ContextualTier {
	t := &ContextualTier{}
	t.rules = []contextualRule{
		{"CTX-001", "Instruction Override", checkInstructionOverride},
		{"CTX-002", "Imperative System Verb", checkImperativeSystem},
		{"CTX-003", "Shell Command", checkShellCommands},
		{"CTX-004", "Tool-Call Syntax", checkToolCallSyntax},
		{"CTX-005", "Role Assumption", checkRoleAssumption},
		{"CTX-006", "Output Manipulation", checkOutputManipulation},
		{"CTX-007", "Urgency and Authority", checkUrgencyAuthority},
		{"CTX-008", "Payload Delivery", checkPayloadDelivery},
		{"CTX-009", "Sensitive File Path", checkSensitivePaths},
	}
	return t
}

func (t *ContextualTier) Name() string { return TierContextual }

// Contextual weighting multipliers. They compose, then clamp to 1.0.
const (
	externalOrganizerWeight = 1.4
	descriptionWeight       = 1.2
	attendeeNameWeight      = 1.3
)

// Analyze runs every contextual rule, then applies field-type and
// organizer-trust weighting. Output ordering is stable in (rule id,
// offset); at most MaxDetectionsPerField detections are kept.
func (t *ContextualTier) Analyze(_ context.Context, text string, sc ScanContext) []Detection {
	if text == "" {
		return nil
	}
	text = truncateField(text)

	multiplier := 1.0
	if sc.IsExternalOrganizer {
		multiplier *= externalOrganizerWeight
	}
	switch sc.FieldType {
	case FieldDescription:
		multiplier *= descriptionWeight
	case FieldAttendeeName:
		multiplier *= attendeeNameWeight
	}

	var detections []Detection
	for _, rule := range t.rules {
		clock := newRuleClock()
		found := rule.run(text, clock)
		for i := range found {
			found[i].Tier = TierContextual
			found[i].RuleID = rule.id
			found[i].RuleName = rule.name
			found[i].Severity = clamp01(found[i].Severity * multiplier)
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

// ── CTX-001: instruction override ──────────────────────────────────────
//
// A verb alone ("ignore") or a noun alone ("instructions") is routine
// language. The rule fires only when a noun follows a verb within a
// 60-character window, and scores higher when a modifier ("all",
// "previous") sits in the same window.

const overrideWindow = 60

var (
	overrideVerbRe = regexp.MustCompile(
		`(?i)\b(ignore|disregard|forget|override|bypass|skip|discard|dismiss|abandon|drop)\b`)
	overrideNounRe = regexp.MustCompile(
		`(?i)\b(system prompt|instructions?|prompt|rules|commands|guidelines|constraints|directives|policies|restrictions|safeguards|safety|programming|training|context|protocols)\b`)
	overrideModifierRe = regexp.MustCompile(
		`(?i)\b(all|any|every|the|your|previous|prior|above|existing|current|original|initial|old)\b`)
)

func checkInstructionOverride(text string, clock *ruleClock) []Detection {
	var detections []Detection
	for _, verb := range overrideVerbRe.FindAllStringIndex(text, -1) {
		if clock.expired() {
			break
		}
		end := verb[1] + overrideWindow
		if end > len(text) {
			end = len(text)
		}
		window := text[verb[1]:end]

		noun := overrideNounRe.FindStringIndex(window)
		if noun == nil {
			continue
		}
		severity, confidence := 0.65, 0.75
		if overrideModifierRe.MatchString(window) {
			severity, confidence = 0.80, 0.90
		}
		matchEnd := verb[1] + noun[1]
		detections = append(detections, Detection{
			Severity:       severity,
			Confidence:     confidence,
			MatchedContent: sample(text[verb[0]:matchEnd], 60),
			MatchOffset:    verb[0],
			MatchLength:    matchEnd - verb[0],
			Metadata: map[string]string{
				"verb": strings.ToLower(text[verb[0]:verb[1]]),
				"noun": strings.ToLower(window[noun[0]:noun[1]]),
			},
		})
	}
	return detections
}

// ── CTX-002: imperative + system noun ──────────────────────────────────
//
// Token-distance matching, not regex: "run the backup script" has verb
// and noun three tokens apart, "execute this on your system" four.

var imperativeVerbs = map[string]bool{
	"execute": true, "run": true, "open": true, "access": true,
	"delete": true, "read": true, "write": true, "create": true,
	"send": true, "call": true, "invoke": true, "start": true,
	"launch": true, "spawn": true, "modify": true, "remove": true,
	"install": true, "fetch": true, "get": true, "load": true,
}

var systemNouns = map[string]bool{
	"file": true, "files": true, "terminal": true, "shell": true,
	"command": true, "system": true, "api": true, "code": true,
	"server": true, "database": true, "directory": true, "process": true,
	"endpoint": true, "registry": true, "service": true, "function": true,
	"script": true, "binary": true, "executable": true, "program": true,
	"tool": true, "plugin": true, "module": true, "contents": true,
}

const imperativeTokenDistance = 5

type token struct {
	text   string
	offset int
}

func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		isWord := r == '_' || (r >= '0' && r <= '9') ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if isWord {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, token{strings.ToLower(text[start:i]), start})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{strings.ToLower(text[start:]), start})
	}
	return tokens
}

func checkImperativeSystem(text string, clock *ruleClock) []Detection {
	tokens := tokenize(text)
	var detections []Detection
	for i, tok := range tokens {
		if !imperativeVerbs[tok.text] {
			continue
		}
		if clock.expired() {
			break
		}
		lo := i - imperativeTokenDistance
		if lo < 0 {
			lo = 0
		}
		hi := i + imperativeTokenDistance
		if hi > len(tokens)-1 {
			hi = len(tokens) - 1
		}
		for j := lo; j <= hi; j++ {
			if j == i || !systemNouns[tokens[j].text] {
				continue
			}
			first, last := tok, tokens[j]
			if last.offset < first.offset {
				first, last = last, first
			}
			length := last.offset + len(last.text) - first.offset
			detections = append(detections, Detection{
				Severity:       0.55,
				Confidence:     0.70,
				MatchedContent: sample(text[first.offset:first.offset+length], 48),
				MatchOffset:    first.offset,
				MatchLength:    length,
				Metadata: map[string]string{
					"verb": tok.text,
					"noun": tokens[j].text,
				},
			})
			break
		}
	}
	return detections
}

// stripCodeFences blanks out fenced code blocks so their contents keep
// their byte offsets but no longer match. Calendar descriptions quote
// commands in fences legitimately; instructions outside fences do not.
func stripCodeFences(text string) string {
	const fence = "```"
	var sb strings.Builder
	rest := text
	for {
		open := strings.Index(rest, fence)
		if open < 0 {
			sb.WriteString(rest)
			break
		}
		closing := strings.Index(rest[open+len(fence):], fence)
		if closing < 0 {
			sb.WriteString(rest)
			break
		}
		end := open + len(fence) + closing + len(fence)
		sb.WriteString(rest[:open])
		sb.WriteString(strings.Repeat(" ", end-open))
		rest = rest[end:]
	}
	return sb.String()
}
