package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrSinkUnreachable means a destination could not accept the snapshot.
	ErrSinkUnreachable = errors.New("backup destination unreachable")

	// ErrPermissionRevoked means the local backup directory is no longer
	// writable, or was never granted.
	ErrPermissionRevoked = errors.New("directory permission revoked")

	// ErrAllSinksFailed means no destination received the snapshot. The
	// last backup timestamp was not updated.
	ErrAllSinksFailed = errors.New("all backup destinations failed")

	// ErrNoSinks means no destination is configured.
	ErrNoSinks = errors.New("no backup destinations configured")
)

// SinkError reports a failed delivery to one destination.
type SinkError struct {
	Sink string
	Err  error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Sink, ErrSinkUnreachable, e.Err)
}

// Unwrap exposes both ErrSinkUnreachable and the cause.
func (e *SinkError) Unwrap() []error {
	return []error{ErrSinkUnreachable, e.Err}
}

func sinkError(sink string, err error) error {
	var se *SinkError
	if errors.As(err, &se) {
		return err
	}
	return &SinkError{Sink: sink, Err: err}
}
