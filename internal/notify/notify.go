// Package notify delivers releases to a destination outside of the process.
package notify

import (
	"context"
	"errors"
	"fmt"

	"tagwatch/internal/release"
)

// Transport delivers a single release, a nil error means the destination accepted it.
//
// note: fault injection point
type Transport interface {
	Deliver(ctx context.Context, metadata release.Metadata) error
}

// Announcer posts free form operational messages (startup, cycle summaries)
// through the same channel releases are delivered on.
type Announcer interface {
	Announce(ctx context.Context, text string) error
}

// Notifier is what every transport implementation in this package provides.
type Notifier interface {
	Transport
	Announcer
}

// PermanentError is a delivery failure that will not go away by retrying the same
// message, like a message the destination rejects as malformed.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %s", e.Err.Error())
}

func (e PermanentError) Unwrap() error {
	return e.Err
}

func IsPermanent(err error) bool {
	var permanent PermanentError
	return errors.As(err, &permanent)
}
