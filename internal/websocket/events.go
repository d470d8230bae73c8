package websocket

import (
	"time"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/types"
)

// EventType names the kind of change an Event reports.
type EventType string

const (
	EventPageSaved    EventType = "page_saved"
	EventSnippetSaved EventType = "snippet_saved"
)

// Event is the JSON message sent to editor clients after a save.
type Event struct {
	Type   EventType    `json:"type"`
	SiteID types.SiteID `json:"site_id"`
	// Target is the saved page's fullpath or the saved snippet's slug.
	Target     string              `json:"target"`
	Changed    bool                `json:"changed"`
	Recompiled []types.PageID      `json:"recompiled,omitempty"`
	Skipped    []types.PageID      `json:"skipped,omitempty"`
	Failures   []build.PageFailure `json:"failures,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// EventFromSave builds the event describing a page or snippet save.
func EventFromSave(page *services.SaveResult, snippet *services.SnippetResult) Event {
	var (
		event  Event
		report *build.PropagationReport
	)
	switch {
	case page != nil:
		event = Event{Type: EventPageSaved, SiteID: page.SiteID, Target: page.Fullpath, Changed: page.Changed}
		report = page.Propagation
	case snippet != nil:
		event = Event{Type: EventSnippetSaved, Target: snippet.Slug, Changed: snippet.Changed}
		if snippet.Snippet != nil {
			event.SiteID = snippet.Snippet.SiteID
		}
		report = snippet.Propagation
	}
	if report != nil {
		event.Recompiled = report.Recompiled
		event.Skipped = report.Skipped
		event.Failures = report.Failures
	}
	event.Timestamp = time.Now()
	return event
}

// Publish is a services.SaveCallback broadcasting every save.
func (h *Hub) Publish(page *services.SaveResult, snippet *services.SnippetResult) {
	h.Broadcast(EventFromSave(page, snippet))
}
