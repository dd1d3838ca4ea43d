// Package clients provides the per-kind source clients the orchestrator
// drives: a paginating client for cursor-capable calendar APIs, and a
// snapshot client for read-only feed subscriptions. Both return the same
// batch shape so reconciliation is kind-agnostic.
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tempora-hq/calsync-server/internal/config"
	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/httpclient"
	"github.com/tempora-hq/calsync-server/internal/remote"
)

// Batch is the complete, de-paginated change set one fetch pass produced.
// NextCursor is only populated by cursor sources.
type Batch struct {
	Events     []events.RemoteEvent
	NextCursor string
}

// CursorClient drives one cursor-capable source through pagination to
// exhaustion.
type CursorClient interface {
	// FetchFull lists every event on the source and returns the cursor for
	// subsequent incremental syncs
	FetchFull(ctx context.Context) (*Batch, error)

	// FetchIncremental lists changes since cursor. A rejected cursor
	// surfaces as an error wrapping remote.ErrCursorInvalidated.
	FetchIncremental(ctx context.Context, cursor string) (*Batch, error)
}

// FeedClient fetches one feed source whole. Feeds have no cursor; every
// snapshot is logically a full listing.
type FeedClient interface {
	FetchSnapshot(ctx context.Context) (*Batch, error)
}

// Factory builds source clients from configuration
type Factory interface {
	Cursor(src *config.SourceConfig) (CursorClient, error)
	Feed(src *config.SourceConfig) (FeedClient, error)
}

// defaultFactory builds the HTTP-backed clients. Feed fetches share one
// retrying HTTP client; cursor sources each get a calendar API client so an
// authenticated transport can be injected per source.
type defaultFactory struct {
	feedHTTP   httpclient.Client
	apiHTTP    *http.Client
	apiOptions []remote.Option
}

// FactoryOption configures a client factory
type FactoryOption func(*defaultFactory)

// WithFeedHTTPClient replaces the shared feed fetch client
func WithFeedHTTPClient(c httpclient.Client) FactoryOption {
	return func(f *defaultFactory) {
		f.feedHTTP = c
	}
}

// WithAPIHTTPClient injects the authenticated (e.g. oauth2) transport used
// for every cursor source
func WithAPIHTTPClient(hc *http.Client) FactoryOption {
	return func(f *defaultFactory) {
		f.apiHTTP = hc
	}
}

// NewFactory creates the default client factory
func NewFactory(opts ...FactoryOption) Factory {
	f := &defaultFactory{
		feedHTTP: httpclient.NewDefaultClient(0),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.apiHTTP != nil {
		f.apiOptions = append(f.apiOptions, remote.WithHTTPClient(f.apiHTTP))
	}
	return f
}

func (f *defaultFactory) Cursor(src *config.SourceConfig) (CursorClient, error) {
	if src.GetKind() != config.SourceKindCursor {
		return nil, fmt.Errorf("source %s is not a cursor source", src.SourceID())
	}
	api, err := remote.NewHTTPCalendarAPI(src.API, f.apiOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar api client for %s: %w", src.SourceID(), err)
	}
	return NewCursorClient(api), nil
}

func (f *defaultFactory) Feed(src *config.SourceConfig) (FeedClient, error) {
	if src.GetKind() != config.SourceKindFeed {
		return nil, fmt.Errorf("source %s is not a feed source", src.SourceID())
	}
	return NewFeedClient(f.feedHTTP, src.Feed.URL), nil
}
