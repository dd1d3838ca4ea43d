package clients

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tempora-hq/calsync-server/internal/remote"
)

// maxPages converts a remote that never stops returning page tokens into a
// hard failure instead of an infinite loop
const maxPages = 10000

// cursorClient paginates a remote calendar listing to exhaustion
type cursorClient struct {
	api remote.CalendarAPI
}

// NewCursorClient creates a cursor client over the given calendar API
func NewCursorClient(api remote.CalendarAPI) CursorClient {
	return &cursorClient{api: api}
}

func (c *cursorClient) FetchFull(ctx context.Context) (*Batch, error) {
	return c.paginate(ctx, "")
}

func (c *cursorClient) FetchIncremental(ctx context.Context, cursor string) (*Batch, error) {
	if cursor == "" {
		return nil, fmt.Errorf("incremental fetch requires a cursor")
	}
	return c.paginate(ctx, cursor)
}

// paginate accumulates every page of the listing pass scoped by cursor
// (empty cursor means a full listing). The final page's sync cursor becomes
// the batch cursor. Errors propagate unwrapped in kind, so a
// remote.ErrCursorInvalidated raised at any page stays detectable with
// errors.Is.
func (c *cursorClient) paginate(ctx context.Context, cursor string) (*Batch, error) {
	batch := &Batch{}
	pageToken := ""

	for pages := 1; ; pages++ {
		if pages > maxPages {
			return nil, fmt.Errorf("pagination did not terminate after %d pages", maxPages)
		}

		page, err := c.api.ListEvents(ctx, remote.ListRequest{
			Cursor:    cursor,
			PageToken: pageToken,
		})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pages, err)
		}

		batch.Events = append(batch.Events, page.Events...)

		if page.NextPageToken == "" {
			batch.NextCursor = page.NextCursor
			slog.Debug("Pagination complete",
				"pages", pages,
				"events", len(batch.Events))
			return batch, nil
		}
		pageToken = page.NextPageToken
	}
}
