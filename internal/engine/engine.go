package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gzhole/calshield/internal/audit"
	"github.com/gzhole/calshield/internal/event"
	"github.com/gzhole/calshield/internal/fingerprint"
	"github.com/gzhole/calshield/internal/intel"
	"github.com/gzhole/calshield/internal/quarantine"
	"github.com/gzhole/calshield/internal/redact"
	"github.com/gzhole/calshield/internal/scan"
)

// Config assembles an Engine. Tiers defaults to structural plus
// contextual, with the threat-intel tier appended when Intel is set.
// Quarantine, Audit, and Intel are optional; a nil store simply
// disables that side effect.
type Config struct {
	Tiers       []scan.Tier
	Scorer      *scan.Scorer
	Quarantine  *quarantine.Store
	Audit       *audit.Logger
	Intel       *intel.Client
	EventBudget time.Duration
}

// Engine runs the full sanitization pipeline over calendar events. It
// holds no per-scan state and is safe for concurrent use on independent
// events.
type Engine struct {
	tiers      []scan.Tier
	scorer     *scan.Scorer
	quarantine *quarantine.Store
	audit      *audit.Logger
	intel      *intel.Client
	budget     time.Duration

	bg              sync.WaitGroup
	quarantineDrops atomic.Int64
	auditDrops      atomic.Int64
}

// New creates an engine from cfg, filling in defaults.
func New(cfg Config) *Engine {
	tiers := cfg.Tiers
	if tiers == nil {
		tiers = []scan.Tier{scan.NewStructuralTier(), scan.NewContextualTier()}
		if cfg.Intel != nil {
			tiers = append(tiers, scan.NewThreatIntelTier(cfg.Intel))
		}
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = scan.NewScorer(scan.DefaultThresholds())
	}
	budget := cfg.EventBudget
	if budget <= 0 {
		budget = scan.EventBudget
	}
	return &Engine{
		tiers:      tiers,
		scorer:     scorer,
		quarantine: cfg.Quarantine,
		audit:      cfg.Audit,
		intel:      cfg.Intel,
		budget:     budget,
	}
}

// scanField is one extracted text field awaiting scanning.
type scanField struct {
	name  string
	ftype scan.FieldType
	text  string
}

// extractFields pulls every scannable field from an event, in a fixed
// order that field results preserve. Empty fields are skipped.
func extractFields(ev *event.Event) []scanField {
	var fields []scanField
	if ev.Summary != "" {
		fields = append(fields, scanField{"summary", scan.FieldTitle, ev.Summary})
	}
	if ev.Description != "" {
		fields = append(fields, scanField{"description", scan.FieldDescription, ev.Description})
	}
	if ev.Location != "" {
		fields = append(fields, scanField{"location", scan.FieldLocation, ev.Location})
	}
	for i, a := range ev.Attendees {
		if a.DisplayName != "" {
			fields = append(fields, scanField{
				fmt.Sprintf("attendees[%d].displayName", i), scan.FieldAttendeeName, a.DisplayName})
		}
	}
	for i, a := range ev.Attachments {
		if a.Title != "" {
			fields = append(fields, scanField{
				fmt.Sprintf("attachments[%d].title", i), scan.FieldAttachment, a.Title})
		}
	}
	return fields
}

// ScanEvent inspects one event and returns the scan result plus a
// sanitized copy. It never fails on well-formed input: every subsystem
// error shrinks to a reduced result or a counted, silent no-op.
func (e *Engine) ScanEvent(ctx context.Context, ev *event.Event, ownerDomain string) (scan.EventResult, *event.Event) {
	started := time.Now()
	deadline := started.Add(e.budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	organizerEmail := ev.OrganizerEmail()
	organizerDomain := event.Domain(organizerEmail)
	external := ownerDomain != "" && organizerDomain != "" && organizerDomain != ownerDomain

	result := scan.EventResult{
		EventID:             ev.ID,
		CalendarID:          ev.CalendarID,
		OrganizerEmail:      organizerEmail,
		IsExternalOrganizer: external,
		Timestamp:           started.UTC(),
	}

	fields := extractFields(ev)
	timedOut := false
	for _, f := range fields {
		if time.Now().After(deadline) {
			timedOut = true
			break
		}
		sc := scan.ScanContext{
			FieldName:           f.name,
			FieldType:           f.ftype,
			OrganizerEmail:      organizerEmail,
			OrganizerDomain:     organizerDomain,
			IsExternalOrganizer: external,
			OwnerDomain:         ownerDomain,
		}

		var detections []scan.Detection
		for _, tier := range e.tiers {
			detections = append(detections, tier.Analyze(ctx, f.text, sc)...)
		}
		sortByRuleAndOffset(detections)
		if len(detections) > scan.MaxDetectionsPerField {
			detections = detections[:scan.MaxDetectionsPerField]
		}

		score, level, action := e.scorer.ScoreField(detections)
		fr := scan.FieldResult{
			FieldName:      f.name,
			FieldType:      f.ftype,
			OriginalLength: len(f.text),
			RiskScore:      score,
			RiskLevel:      level,
			Action:         action,
			Detections:     detections,
		}
		if action == scan.ActionRedact || action == scan.ActionBlock {
			fr.SanitizedContent = redact.Apply(f.text, action, detections)
		}
		result.FieldResults = append(result.FieldResults, fr)
	}

	result.OverallRiskScore, result.OverallRiskLevel, result.OverallAction =
		e.scorer.ScoreEvent(result.FieldResults)

	if timedOut {
		result.FieldResults = append(result.FieldResults, scan.FieldResult{
			FieldName:  "event",
			RiskLevel:  scan.LevelSuspicious,
			Action:     scan.ActionFlag,
			Detections: []scan.Detection{timeoutDetection(len(result.FieldResults))},
		})
		if result.OverallRiskLevel == scan.LevelSafe {
			result.OverallRiskLevel = scan.LevelSuspicious
			result.OverallAction = scan.ActionFlag
		}
	}

	sanitized := e.buildSanitized(ev, result)

	result.ScanDuration = time.Since(started)

	e.recordSideEffects(ev, result)
	return result, sanitized
}

// ScanEvents scans a batch, preserving input order. Batches above
// MaxEventsPerBatch are refused; chunking is the caller's job.
func (e *Engine) ScanEvents(ctx context.Context, events []*event.Event, ownerDomain string) ([]scan.EventResult, []*event.Event, error) {
	if len(events) > scan.MaxEventsPerBatch {
		return nil, nil, fmt.Errorf("batch of %d events exceeds limit of %d", len(events), scan.MaxEventsPerBatch)
	}
	results := make([]scan.EventResult, 0, len(events))
	sanitized := make([]*event.Event, 0, len(events))
	for _, ev := range events {
		r, s := e.ScanEvent(ctx, ev, ownerDomain)
		results = append(results, r)
		sanitized = append(sanitized, s)
	}
	return results, sanitized, nil
}

// buildSanitized shallow-copies the event and overwrites the top-level
// text fields from any field result carrying sanitized content.
// Attendee and attachment subfields stay as-is; they influence score
// and annotations only.
func (e *Engine) buildSanitized(ev *event.Event, result scan.EventResult) *event.Event {
	sanitized := ev.Clone()
	for _, fr := range result.FieldResults {
		if fr.SanitizedContent == "" {
			continue
		}
		if fr.Action != scan.ActionRedact && fr.Action != scan.ActionBlock {
			continue
		}
		switch fr.FieldName {
		case "summary":
			sanitized.Summary = fr.SanitizedContent
		case "description":
			sanitized.Description = fr.SanitizedContent
		case "location":
			sanitized.Location = fr.SanitizedContent
		}
	}
	return sanitized
}

func timeoutDetection(completedFields int) scan.Detection {
	return scan.Detection{
		Tier:           "engine",
		RuleID:         "ENGINE-TIMEOUT",
		RuleName:       "Scan Budget Exceeded",
		Severity:       1.0,
		Confidence:     1.0,
		MatchedContent: "event scan exceeded its wall-clock budget",
		Metadata:       map[string]string{"completedFields": strconv.Itoa(completedFields)},
	}
}

// recordSideEffects drives quarantine, audit, and threat-intel
// reporting in the background. None of them block the scan. Quarantine
// and audit failures only bump counters; report failures are ignored.
func (e *Engine) recordSideEffects(ev *event.Event, result scan.EventResult) {
	dangerous := result.OverallAction == scan.ActionRedact || result.OverallAction == scan.ActionBlock

	if dangerous && e.quarantine != nil {
		entry := buildQuarantineEntry(ev, result)
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			if err := e.quarantine.Save(entry); err != nil {
				e.quarantineDrops.Add(1)
			}
		}()
	}

	if dangerous && e.intel != nil {
		fp := buildFingerprint(ev, result)
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			e.intel.Report(context.Background(), fp)
		}()
	}

	if e.audit != nil {
		rec := audit.FromResult(result)
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			if err := e.audit.Record(rec); err != nil {
				e.auditDrops.Add(1)
			}
		}()
	}
}

func buildQuarantineEntry(ev *event.Event, result scan.EventResult) quarantine.Entry {
	entry := quarantine.Entry{
		EventID:        ev.ID,
		CalendarID:     ev.CalendarID,
		OrganizerEmail: result.OrganizerEmail,
		RiskScore:      result.OverallRiskScore,
		RiskLevel:      result.OverallRiskLevel,
		Action:         result.OverallAction,
		OriginalFields: map[string]string{},
	}
	original := map[string]string{}
	for _, f := range extractFields(ev) {
		original[f.name] = f.text
	}
	for _, fr := range result.FieldResults {
		if fr.Action == scan.ActionRedact || fr.Action == scan.ActionBlock {
			if text, ok := original[fr.FieldName]; ok {
				entry.OriginalFields[fr.FieldName] = text
			}
		}
		for _, d := range fr.Detections {
			entry.Detections = append(entry.Detections, quarantine.DetectionSummary{
				RuleID:    d.RuleID,
				RuleName:  d.RuleName,
				Tier:      d.Tier,
				Severity:  d.Severity,
				FieldName: fr.FieldName,
			})
		}
	}
	return entry
}

// buildFingerprint fingerprints the highest-risk field and attaches the
// event's unique rule ids and overall score for reporting.
func buildFingerprint(ev *event.Event, result scan.EventResult) fingerprint.Fingerprint {
	original := map[string]string{}
	for _, f := range extractFields(ev) {
		original[f.name] = f.text
	}

	worstText := ""
	worstScore := -1.0
	seen := map[string]bool{}
	var ruleIDs []string
	for _, fr := range result.FieldResults {
		if fr.RiskScore > worstScore {
			if text, ok := original[fr.FieldName]; ok {
				worstText = text
				worstScore = fr.RiskScore
			}
		}
		for _, d := range fr.Detections {
			if !seen[d.RuleID] {
				seen[d.RuleID] = true
				ruleIDs = append(ruleIDs, d.RuleID)
			}
		}
	}
	sort.Strings(ruleIDs)

	fp := fingerprint.New(worstText)
	fp.PatternIDs = ruleIDs
	fp.RiskScore = result.OverallRiskScore
	fp.OrganizerDomain = event.Domain(result.OrganizerEmail)
	return fp
}

// Drain blocks until all background side effects have settled. Tests
// and shutdown paths use it; the scan path never does.
func (e *Engine) Drain() {
	e.bg.Wait()
}

// Stats reports how many background writes were dropped.
func (e *Engine) Stats() (quarantineDrops, auditDrops int64) {
	return e.quarantineDrops.Load(), e.auditDrops.Load()
}

func sortByRuleAndOffset(dets []scan.Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		if dets[i].RuleID != dets[j].RuleID {
			return dets[i].RuleID < dets[j].RuleID
		}
		return dets[i].MatchOffset < dets[j].MatchOffset
	})
}
