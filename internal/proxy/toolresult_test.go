package proxy

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/gzhole/calshield/internal/event"
)

func TestParseEventsObject(t *testing.T) {
	raw := `{"kind":"calendar#events","nextPageToken":"abc","events":[{"id":"e1","summary":"Sync"},{"id":"e2","summary":"Review"}]}`
	parsed := ParseToolResult(raw)
	events := parsed.Events()
	if len(events) != 2 || events[0].ID != "e1" || events[1].ID != "e2" {
		t.Fatalf("parsed %d events: %+v", len(events), events)
	}

	// Render preserves the wrapper's other keys.
	out := parsed.Render(events)
	var wrapper map[string]any
	if err := json.Unmarshal([]byte(out), &wrapper); err != nil {
		t.Fatalf("re-emitted JSON invalid: %v", err)
	}
	if wrapper["kind"] != "calendar#events" || wrapper["nextPageToken"] != "abc" {
		t.Errorf("wrapper keys lost: %v", wrapper)
	}
}

func TestParseEventArray(t *testing.T) {
	raw := `[{"id":"e1"},{"id":"e2"},{"id":"e3"}]`
	parsed := ParseToolResult(raw)
	if len(parsed.Events()) != 3 {
		t.Fatalf("parsed %d events", len(parsed.Events()))
	}

	out := parsed.Render(parsed.Events())
	var back []*event.Event
	if err := json.Unmarshal([]byte(out), &back); err != nil || len(back) != 3 {
		t.Fatalf("array render broken: %v / %d", err, len(back))
	}
}

func TestParseSingleEvent(t *testing.T) {
	raw := `{"id":"solo","summary":"One event"}`
	parsed := ParseToolResult(raw)
	events := parsed.Events()
	if len(events) != 1 || events[0].ID != "solo" {
		t.Fatalf("single event parse failed: %+v", events)
	}
}

func TestParsePlaintext(t *testing.T) {
	raw := strings.Join([]string{
		"id: e1",
		"summary: Standup",
		"organizer: a@b.example",
		"",
		"id: e2",
		"description: Notes",
	}, "\n")

	parsed := ParseToolResult(raw)
	events := parsed.Events()
	if len(events) != 2 {
		t.Fatalf("parsed %d events", len(events))
	}
	if events[0].Summary != "Standup" || events[0].Organizer.Email != "a@b.example" {
		t.Errorf("first event fields: %+v", events[0])
	}
	if events[1].Description != "Notes" {
		t.Errorf("second event fields: %+v", events[1])
	}

	out := parsed.Render(events)
	if !strings.Contains(out, "id: e1") || !strings.Contains(out, "summary: Standup") {
		t.Errorf("plaintext render lost fields:\n%s", out)
	}
}

func TestParseUnrecognized(t *testing.T) {
	for _, raw := range []string{
		"",
		"just some prose output",
		`{"unrelated":"object"}`,
		`[1,2,3]x`,
	} {
		parsed := ParseToolResult(raw)
		if len(parsed.Events()) != 0 {
			t.Errorf("raw %q should parse to zero events", raw)
		}
		if got := parsed.Render(nil); got != raw {
			t.Errorf("unrecognized input must pass through verbatim, got %q", got)
		}
	}
}
