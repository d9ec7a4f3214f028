package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gzhole/calshield/internal/scan"
)

// Record is one audit line: the outcome of one event scan. Matched
// content never appears here; only rule metadata does.
type Record struct {
	Timestamp         time.Time         `json:"timestamp"`
	EventID           string            `json:"eventId"`
	CalendarID        string            `json:"calendarId,omitempty"`
	OrganizerEmail    string            `json:"organizerEmail,omitempty"`
	ExternalOrganizer bool              `json:"externalOrganizer"`
	RiskScore         float64           `json:"riskScore"`
	RiskLevel         scan.RiskLevel    `json:"riskLevel"`
	Action            scan.Action       `json:"action"`
	Detections        []RecordDetection `json:"detections,omitempty"`
	ScanDurationMs    int64             `json:"scanDurationMs"`
	ScannedFields     int               `json:"scannedFields"`
}

// RecordDetection is the flattened per-detection view in a record.
type RecordDetection struct {
	RuleID    string  `json:"ruleId"`
	RuleName  string  `json:"ruleName"`
	Tier      string  `json:"tier"`
	Severity  float64 `json:"severity"`
	FieldName string  `json:"fieldName"`
}

// Logger appends JSON-per-line records to a dated file in its
// directory, one line per scanned event. Appenders within the process
// serialize on the logger's mutex; failures never reach the scan path.
type Logger struct {
	dir string
	mu  sync.Mutex

	// Now is the clock; replaced in tests to pin the file date.
	Now func() time.Time
}

// New creates a logger writing under dir.
func New(dir string) *Logger {
	return &Logger{dir: dir, Now: time.Now}
}

// Record appends one line to today's audit file.
func (l *Logger) Record(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.Now().UTC()
	}

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return err
	}
	path := filepath.Join(l.dir, "audit-"+rec.Timestamp.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return json.NewEncoder(f).Encode(rec)
}

// FromResult flattens an event scan result into a record.
func FromResult(r scan.EventResult) Record {
	rec := Record{
		Timestamp:         r.Timestamp,
		EventID:           r.EventID,
		CalendarID:        r.CalendarID,
		OrganizerEmail:    r.OrganizerEmail,
		ExternalOrganizer: r.IsExternalOrganizer,
		RiskScore:         r.OverallRiskScore,
		RiskLevel:         r.OverallRiskLevel,
		Action:            r.OverallAction,
		ScanDurationMs:    r.ScanDuration.Milliseconds(),
		ScannedFields:     len(r.FieldResults),
	}
	for _, f := range r.FieldResults {
		for _, d := range f.Detections {
			rec.Detections = append(rec.Detections, RecordDetection{
				RuleID:    d.RuleID,
				RuleName:  d.RuleName,
				Tier:      d.Tier,
				Severity:  d.Severity,
				FieldName: f.FieldName,
			})
		}
	}
	return rec
}
