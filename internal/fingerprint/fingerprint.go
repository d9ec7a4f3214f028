package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gzhole/calshield/internal/unicode"
)

// Fingerprint is a privacy-safe summary of a text: two independent
// SHA-256 digests plus scan metadata for reporting. Neither hash can be
// reversed to the original content.
type Fingerprint struct {
	ContentHash     string   `json:"contentHash"`
	StructuralHash  string   `json:"structuralHash"`
	PatternIDs      []string `json:"patternIds,omitempty"`
	RiskScore       float64  `json:"riskScore"`
	OrganizerDomain string   `json:"organizerDomain,omitempty"`
}

// New computes both hashes of text. Pattern ids, risk score, and
// organizer domain are filled by the caller when reporting.
func New(text string) Fingerprint {
	return Fingerprint{
		ContentHash:    ContentHash(text),
		StructuralHash: StructuralHash(text),
	}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// ContentHash digests the normalized text: lowercased, runs of
// whitespace collapsed to single spaces, trimmed. Trivial reformatting
// of the same payload therefore hashes identically.
func ContentHash(text string) string {
	normalized := strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// StructuralHash digests the canonical feature shape of the text, so
// that rewrites of a payload with the same structure (same tag mix, same
// encoding tricks, similar length) hash identically even when the words
// change.
func StructuralHash(text string) string {
	sum := sha256.Sum256([]byte(canonicalFeatures(text)))
	return hex.EncodeToString(sum[:])
}

var (
	base64RunRe = regexp.MustCompile(`[A-Za-z0-9+/]{32,}`)
	htmlTagRe   = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9]*)`)
	urlRe       = regexp.MustCompile(`https?://`)
	pctEncodeRe = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	dataB64Re   = regexp.MustCompile(`(?i)data:[a-z0-9.+/-]*;base64`)
	scriptTagRe = regexp.MustCompile(`(?i)<script`)
	onHandlerRe = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	jsSchemeRe  = regexp.MustCompile(`(?i)javascript\s*:`)
	vbSchemeRe  = regexp.MustCompile(`(?i)vbscript\s*:`)
)

// canonicalFeatures renders the feature shape as a key-sorted
// "key:value|key:value" string. Keys are emitted in lexical order so the
// same features always produce the same string.
func canonicalFeatures(text string) string {
	features := map[string]string{
		"len":      lengthBucket(len(text)),
		"b64":      fmt.Sprintf("%d", len(base64RunRe.FindAllString(text, -1))),
		"html":     tagSet(text),
		"zwc":      fmt.Sprintf("%d", unicode.CountZeroWidth(text)),
		"urls":     fmt.Sprintf("%d", len(urlRe.FindAllString(text, -1))),
		"lines":    fmt.Sprintf("%d", strings.Count(text, "\n")+1),
		"encoding": fmt.Sprintf("%d", len(pctEncodeRe.FindAllString(text, -1))),
		"scripts":  fmt.Sprintf("%d", scriptBits(text)),
	}

	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+features[k])
	}
	return strings.Join(parts, "|")
}

func lengthBucket(n int) string {
	switch {
	case n < 100:
		return "0-100"
	case n < 500:
		return "100-500"
	case n < 2000:
		return "500-2000"
	case n < 10000:
		return "2000-10000"
	default:
		return "10000+"
	}
}

func tagSet(text string) string {
	matches := htmlTagRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "none"
	}
	set := map[string]bool{}
	for _, m := range matches {
		set[strings.ToLower(m[1])] = true
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}

// scriptBits counts which of five script-delivery markers are present.
func scriptBits(text string) int {
	bits := 0
	if jsSchemeRe.MatchString(text) {
		bits++
	}
	if vbSchemeRe.MatchString(text) {
		bits++
	}
	if dataB64Re.MatchString(text) {
		bits++
	}
	if scriptTagRe.MatchString(text) {
		bits++
	}
	if onHandlerRe.MatchString(text) {
		bits++
	}
	return bits
}
