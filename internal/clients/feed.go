package clients

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/httpclient"
)

// feedClient fetches a read-only iCalendar feed whole
type feedClient struct {
	http httpclient.Client
	url  string
}

// NewFeedClient creates a feed client for the given feed URL
func NewFeedClient(http httpclient.Client, url string) FeedClient {
	return &feedClient{http: http, url: url}
}

func (f *feedClient) FetchSnapshot(ctx context.Context) (*Batch, error) {
	body, err := f.http.Get(ctx, f.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	evs, err := decodeICS(body)
	if err != nil {
		return nil, err
	}
	return &Batch{Events: evs}, nil
}

// decodeICS parses an iCalendar payload into remote events. A malformed
// payload fails the whole snapshot; individual undecodable VEVENTs are
// logged and skipped so one broken entry cannot poison the feed.
func decodeICS(body []byte) ([]events.RemoteEvent, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("feed returned an empty payload")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse icalendar payload: %w", err)
	}

	out := make([]events.RemoteEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := decodeVEvent(ve)
		if err != nil {
			slog.Warn("Skipping undecodable feed event", "error", err)
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

func decodeVEvent(ve *ical.VEvent) (*events.RemoteEvent, error) {
	uid := propertyValue(ve.GetProperty(ical.ComponentPropertyUniqueId))
	if uid == "" {
		return nil, fmt.Errorf("event has no uid")
	}

	ev := &events.RemoteEvent{
		ID:          uid,
		Title:       propertyValue(ve.GetProperty(ical.ComponentPropertySummary)),
		Description: propertyValue(ve.GetProperty(ical.ComponentPropertyDescription)),
		Location:    propertyValue(ve.GetProperty(ical.ComponentPropertyLocation)),
		Status:      events.StatusConfirmed,
	}

	status := propertyValue(ve.GetProperty(ical.ComponentPropertyStatus))
	if strings.EqualFold(status, "CANCELLED") {
		ev.Status = events.StatusCancelled
		return ev, nil
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return nil, fmt.Errorf("event %s: missing dtstart", uid)
	}
	ev.AllDay = isAllDay(startProp)

	var start, end time.Time
	var err error
	if ev.AllDay {
		start, err = ve.GetAllDayStartAt()
	} else {
		start, err = ve.GetStartAt()
	}
	if err != nil {
		return nil, fmt.Errorf("event %s: bad dtstart: %w", uid, err)
	}
	ev.Start = start

	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		if ev.AllDay {
			end, err = ve.GetAllDayEndAt()
		} else {
			end, err = ve.GetEndAt()
		}
		if err != nil {
			return nil, fmt.Errorf("event %s: bad dtend: %w", uid, err)
		}
		ev.End = end
	}

	ev.RecurrenceRule = strings.TrimSpace(propertyValue(ve.GetProperty(ical.ComponentPropertyRrule)))
	return ev, nil
}

// isAllDay reports whether a DTSTART property carries a date rather than an
// instant: either VALUE=DATE is declared or the value has no time part
func isAllDay(prop *ical.IANAProperty) bool {
	if prop == nil {
		return false
	}
	if vs, ok := prop.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

func propertyValue(prop *ical.IANAProperty) string {
	if prop == nil {
		return ""
	}
	return prop.Value
}
