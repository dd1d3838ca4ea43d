// Package remote implements the client side of the cursor-capable remote
// calendar API. It is the single place loosely-typed remote payloads are
// decoded into events.RemoteEvent, and the single place the remote's
// "cursor no longer valid" signal is recognized and typed.
package remote

import (
	"context"
	"errors"

	"github.com/tempora-hq/calsync-server/internal/events"
)

// ErrCursorInvalidated is returned (wrapped) when the remote rejects a sync
// cursor as stale or unknown. Callers detect it with errors.Is and fall back
// to a full sync.
var ErrCursorInvalidated = errors.New("sync cursor invalidated by remote")

// ListRequest selects one page of a calendar listing. The page size is not
// part of the request; it is fixed per client from the source configuration.
//
// Cursor and PageToken are mutually independent: Cursor scopes the whole
// listing pass (incremental since that cursor, or full when empty), while
// PageToken walks pages within the pass.
type ListRequest struct {
	Cursor    string
	PageToken string
}

// Page is one page of a calendar listing. NextCursor is only delivered on
// the final page, when NextPageToken is empty.
type Page struct {
	Events        []events.RemoteEvent
	NextPageToken string
	NextCursor    string
}

// CalendarAPI lists events from one remote calendar.
type CalendarAPI interface {
	// ListEvents fetches one page. A rejected cursor surfaces as an error
	// wrapping ErrCursorInvalidated.
	ListEvents(ctx context.Context, req ListRequest) (*Page, error)
}
