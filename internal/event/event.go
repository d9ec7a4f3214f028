package event

import "strings"

// Event is a calendar event as surfaced by an upstream read tool.
// Every text field is attacker-controlled except ID and CalendarID.
type Event struct {
	ID          string       `json:"id"`
	CalendarID  string       `json:"calendarId,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Organizer   *Organizer   `json:"organizer,omitempty"`
	Attendees   []Attendee   `json:"attendees,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Organizer identifies who created the event.
type Organizer struct {
	Email string `json:"email,omitempty"`
}

// Attendee is one invited participant.
type Attendee struct {
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Attachment is a file attached to an event. Only the title is scannable.
type Attachment struct {
	Title string `json:"title,omitempty"`
}

// OrganizerEmail returns the organizer's email, or "" if unset.
func (e *Event) OrganizerEmail() string {
	if e.Organizer == nil {
		return ""
	}
	return e.Organizer.Email
}

// Clone returns a copy of the event with its own attendee and attachment
// slices. Sanitization rewrites the copy, never the input.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	if e.Organizer != nil {
		org := *e.Organizer
		out.Organizer = &org
	}
	if len(e.Attendees) > 0 {
		out.Attendees = make([]Attendee, len(e.Attendees))
		copy(out.Attendees, e.Attendees)
	}
	if len(e.Attachments) > 0 {
		out.Attachments = make([]Attachment, len(e.Attachments))
		copy(out.Attachments, e.Attachments)
	}
	return &out
}

// Domain extracts the lowercased domain part of an email address.
// Addresses without exactly one "@" yield "".
func Domain(email string) string {
	if strings.Count(email, "@") != 1 {
		return ""
	}
	at := strings.IndexByte(email, '@')
	domain := email[at+1:]
	if domain == "" {
		return ""
	}
	return strings.ToLower(domain)
}
