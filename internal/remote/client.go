package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tempora-hq/calsync-server/internal/config"
	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/httpclient"
)

const (
	// defaultPageSize is requested when the source config sets none
	defaultPageSize = 250

	// maxErrorBody bounds how much of an error response is read for decoding
	maxErrorBody = 64 * 1024

	// defaultMaxTries bounds transient retries per page fetch
	defaultMaxTries = 3
)

// HTTPCalendarAPI implements CalendarAPI against a JSON events API shaped
// like the Google Calendar v3 listing: items plus nextPageToken, with
// nextSyncToken on the final page. Authentication is the caller's concern:
// inject an oauth2-backed *http.Client via WithHTTPClient.
type HTTPCalendarAPI struct {
	endpoint   string
	calendarID string
	pageSize   int
	client     *http.Client
	maxTries   uint
}

// Option configures an HTTPCalendarAPI
type Option func(*HTTPCalendarAPI)

// WithHTTPClient replaces the underlying *http.Client. Used to inject an
// authenticated (e.g. oauth2) transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPCalendarAPI) {
		c.client = hc
	}
}

// WithMaxTries sets the total attempt bound for transient failures
func WithMaxTries(n uint) Option {
	return func(c *HTTPCalendarAPI) {
		c.maxTries = n
	}
}

// NewHTTPCalendarAPI creates a calendar API client for one configured source
func NewHTTPCalendarAPI(cfg *config.APIConfig, opts ...Option) (*HTTPCalendarAPI, error) {
	if cfg == nil {
		return nil, fmt.Errorf("api configuration is required")
	}
	if cfg.Endpoint == "" || cfg.CalendarID == "" {
		return nil, fmt.Errorf("api endpoint and calendar id are required")
	}

	c := &HTTPCalendarAPI{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		calendarID: cfg.CalendarID,
		pageSize:   cfg.PageSize,
		client: &http.Client{
			Timeout: httpclient.DefaultTimeout,
		},
		maxTries: defaultMaxTries,
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListEvents fetches one page of the calendar listing
func (c *HTTPCalendarAPI) ListEvents(ctx context.Context, req ListRequest) (*Page, error) {
	listURL := c.listURL(req)

	operation := func() ([]byte, error) {
		body, err := c.getOnce(ctx, listURL)
		if err != nil {
			// A rejected cursor will stay rejected; retrying only delays
			// the caller's full-resync fallback
			if errors.Is(err, ErrCursorInvalidated) {
				return nil, backoff.Permanent(err)
			}
			if retryableStatus(httpclient.StatusOf(err)) {
				return nil, err
			}
			if httpclient.StatusOf(err) != 0 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode event listing: %w", err)
	}

	page := &Page{
		Events:        make([]events.RemoteEvent, 0, len(resp.Items)),
		NextPageToken: resp.NextPageToken,
		NextCursor:    resp.NextSyncToken,
	}
	for _, item := range resp.Items {
		ev, err := decodeEvent(item)
		if err != nil {
			slog.Warn("Skipping undecodable remote event",
				"calendar", c.calendarID,
				"error", err)
			continue
		}
		page.Events = append(page.Events, *ev)
	}
	return page, nil
}

func (c *HTTPCalendarAPI) listURL(req ListRequest) string {
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(c.pageSize))
	if req.Cursor != "" {
		q.Set("syncToken", req.Cursor)
	}
	if req.PageToken != "" {
		q.Set("pageToken", req.PageToken)
	}
	return fmt.Sprintf("%s/calendars/%s/events?%s",
		c.endpoint, url.PathEscape(c.calendarID), q.Encode())
}

func (c *HTTPCalendarAPI) getOnce(ctx context.Context, listURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, listURL)
	}

	limitedReader := io.LimitReader(resp.Body, httpclient.MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > httpclient.MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", httpclient.MaxResponseSize)
	}
	return body, nil
}

// statusError maps a non-200 response to an error. HTTP 410, and HTTP 400
// carrying the cursorExpired reason, mean the sync cursor is no longer
// accepted and are wrapped as ErrCursorInvalidated; ListEvents marks those
// permanent so the retry loop surfaces them immediately.
func (c *HTTPCalendarAPI) statusError(resp *http.Response, listURL string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode == http.StatusGone {
		return fmt.Errorf("calendar %s: %w", c.calendarID, ErrCursorInvalidated)
	}
	if resp.StatusCode == http.StatusBadRequest {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil {
			for _, detail := range errResp.Error.Errors {
				if detail.Reason == "cursorExpired" {
					return fmt.Errorf("calendar %s: %w", c.calendarID, ErrCursorInvalidated)
				}
			}
		}
	}
	return httpclient.NewHTTPError(resp.StatusCode, listURL, resp.Status)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// listResponse is the wire shape of one listing page
type listResponse struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
	NextSyncToken string            `json:"nextSyncToken"`
}

// errorResponse is the wire shape of a structured API error
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// wireEvent is the wire shape of one listed event
type wireEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Status      string    `json:"status"`
	Start       *wireTime `json:"start"`
	End         *wireTime `json:"end"`
	Recurrence  []string  `json:"recurrence"`
}

// wireTime carries either a timed instant or an all-day date
type wireTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

// decodeEvent normalizes one wire event. Cancelled events only carry an id
// and decode into a tombstone.
func decodeEvent(raw json.RawMessage) (*events.RemoteEvent, error) {
	var we wireEvent
	if err := json.Unmarshal(raw, &we); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if we.ID == "" {
		return nil, fmt.Errorf("event has no id")
	}

	ev := &events.RemoteEvent{
		ID:          we.ID,
		Title:       we.Summary,
		Description: we.Description,
		Location:    we.Location,
		Status:      events.StatusConfirmed,
		RawPayload:  raw,
	}
	if we.Status == "cancelled" {
		ev.Status = events.StatusCancelled
		return ev, nil
	}

	start, allDay, err := parseWireTime(we.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad start: %w", we.ID, err)
	}
	end, _, err := parseWireTime(we.End)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad end: %w", we.ID, err)
	}
	ev.Start = start
	ev.End = end
	ev.AllDay = allDay

	for _, line := range we.Recurrence {
		if rule, ok := strings.CutPrefix(line, "RRULE:"); ok {
			ev.RecurrenceRule = rule
			break
		}
	}
	return ev, nil
}

func parseWireTime(wt *wireTime) (time.Time, bool, error) {
	if wt == nil {
		return time.Time{}, false, nil
	}
	if wt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, wt.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, false, nil
	}
	if wt.Date != "" {
		t, err := time.Parse("2006-01-02", wt.Date)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	return time.Time{}, false, nil
}
