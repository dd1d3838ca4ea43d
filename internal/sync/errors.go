package sync

import "errors"

// ErrSourceNotFound is returned when a sync is requested for a source id
// that is not configured
var ErrSourceNotFound = errors.New("source not found")

// ErrSourceDisabled is returned when a sync is requested for a disabled source
var ErrSourceDisabled = errors.New("source is disabled")
