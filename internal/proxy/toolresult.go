package proxy

import (
	"encoding/json"
	"strings"

	"github.com/gzhole/calshield/internal/event"
)

// resultShape records which of the recognized layouts a tool result had,
// so the sanitized response can be re-emitted in the same layout.
type resultShape int

const (
	shapeNone resultShape = iota
	shapeEventsObject
	shapeEventArray
	shapeSingleEvent
	shapePlaintext
)

// ToolResult is a parsed upstream tool response. Upstream servers are
// not consistent: some return a JSON object with an "events" array, some
// a bare array, some one event object, and some line-structured text.
// The parser tries each shape in order and yields zero events when none
// apply.
type ToolResult struct {
	shape   resultShape
	events  []*event.Event
	wrapper map[string]json.RawMessage
	raw     string
}

// Events returns the extracted events, possibly empty.
func (t *ToolResult) Events() []*event.Event {
	return t.events
}

// ParseToolResult interprets an opaque tool response body.
func ParseToolResult(raw string) *ToolResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &ToolResult{shape: shapeNone, raw: raw}
	}

	if strings.HasPrefix(trimmed, "{") {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err == nil {
			if rawEvents, ok := wrapper["events"]; ok {
				var events []*event.Event
				if err := json.Unmarshal(rawEvents, &events); err == nil {
					return &ToolResult{shape: shapeEventsObject, events: events, wrapper: wrapper, raw: raw}
				}
			}
			var single event.Event
			if err := json.Unmarshal([]byte(trimmed), &single); err == nil && single.ID != "" {
				return &ToolResult{shape: shapeSingleEvent, events: []*event.Event{&single}, raw: raw}
			}
		}
		return &ToolResult{shape: shapeNone, raw: raw}
	}

	if strings.HasPrefix(trimmed, "[") {
		var events []*event.Event
		if err := json.Unmarshal([]byte(trimmed), &events); err == nil {
			return &ToolResult{shape: shapeEventArray, events: events, raw: raw}
		}
		return &ToolResult{shape: shapeNone, raw: raw}
	}

	if events := parsePlaintext(trimmed); len(events) > 0 {
		return &ToolResult{shape: shapePlaintext, events: events, raw: raw}
	}
	return &ToolResult{shape: shapeNone, raw: raw}
}

// parsePlaintext reads blank-line-separated blocks of "Key: value"
// lines. Blocks without an id are dropped.
func parsePlaintext(text string) []*event.Event {
	var events []*event.Event
	current := &event.Event{}
	flush := func() {
		if current.ID != "" {
			events = append(events, current)
		}
		current = &event.Event{}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "id":
			current.ID = value
		case "calendar", "calendarid":
			current.CalendarID = value
		case "summary", "title":
			current.Summary = value
		case "description":
			current.Description = value
		case "location":
			current.Location = value
		case "organizer":
			current.Organizer = &event.Organizer{Email: value}
		}
	}
	flush()
	return events
}

// Render re-emits the tool result in its original layout with sanitized
// events substituted. Unrecognized results pass through untouched.
func (t *ToolResult) Render(sanitized []*event.Event) string {
	switch t.shape {
	case shapeEventsObject:
		wrapper := make(map[string]json.RawMessage, len(t.wrapper))
		for k, v := range t.wrapper {
			wrapper[k] = v
		}
		encoded, err := json.Marshal(sanitized)
		if err != nil {
			return t.raw
		}
		wrapper["events"] = encoded
		out, err := json.Marshal(wrapper)
		if err != nil {
			return t.raw
		}
		return string(out)

	case shapeEventArray:
		out, err := json.Marshal(sanitized)
		if err != nil {
			return t.raw
		}
		return string(out)

	case shapeSingleEvent:
		if len(sanitized) == 0 {
			return t.raw
		}
		out, err := json.Marshal(sanitized[0])
		if err != nil {
			return t.raw
		}
		return string(out)

	case shapePlaintext:
		var sb strings.Builder
		for i, ev := range sanitized {
			if i > 0 {
				sb.WriteString("\n")
			}
			writePlaintextEvent(&sb, ev)
		}
		return sb.String()

	default:
		return t.raw
	}
}

func writePlaintextEvent(sb *strings.Builder, ev *event.Event) {
	sb.WriteString("id: " + ev.ID + "\n")
	if ev.CalendarID != "" {
		sb.WriteString("calendar: " + ev.CalendarID + "\n")
	}
	if ev.Summary != "" {
		sb.WriteString("summary: " + ev.Summary + "\n")
	}
	if ev.Description != "" {
		sb.WriteString("description: " + ev.Description + "\n")
	}
	if ev.Location != "" {
		sb.WriteString("location: " + ev.Location + "\n")
	}
	if ev.Organizer != nil && ev.Organizer.Email != "" {
		sb.WriteString("organizer: " + ev.Organizer.Email + "\n")
	}
}
