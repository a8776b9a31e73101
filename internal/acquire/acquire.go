// Package acquire turns a user-supplied media reference into audio bytes.
package acquire

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAcquisition is the parent of every failure in this package.
	ErrAcquisition = errors.New("acquisition failed")

	ErrInvalidReference = fmt.Errorf("%w: invalid media reference", ErrAcquisition)
	ErrFetchFailed      = fmt.Errorf("%w: fetch failed", ErrAcquisition)
)

// Messages shown to the requesting user for each failure class.
const (
	InvalidReferenceMessage = "Invalid media URL"
	FetchFailedMessage      = "Failed to fetch media."
)

// DefaultMaxBytes caps a single payload.
const DefaultMaxBytes = 64 << 20

// Track is one acquired audio payload.
type Track struct {
	Title       string
	ContentType string
	Data        []byte
}

// StartFunc is told the track title once a reference has been resolved and
// before its payload is read.
type StartFunc func(title string)

// Fetcher resolves a reference into a Track. Implementations return errors
// wrapping ErrInvalidReference or ErrFetchFailed, and call started (when
// non-nil) at most once, never for a reference that fails validation.
type Fetcher interface {
	Fetch(ctx context.Context, reference string, started StartFunc) (*Track, error)
}

func (f StartFunc) notify(title string) {
	if f != nil {
		f(title)
	}
}

// UserMessage maps an acquisition error to the short status a user sees.
func UserMessage(err error) string {
	if errors.Is(err, ErrInvalidReference) {
		return InvalidReferenceMessage
	}
	return FetchFailedMessage
}
