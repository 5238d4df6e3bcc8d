// Package backup ships snapshots of the local store to configured
// destinations on a schedule or on demand.
//
// Each destination is a Sink. A cycle reads the whole store in one read
// transaction, encodes one snapshot document, and delivers it to every sink
// concurrently. Sinks fail independently; the cycle counts as a backup if at
// least one of them succeeded.
package backup

import (
	"context"
	"time"
)

// Sink is a backup destination.
type Sink interface {
	// Name identifies the sink in logs and results.
	Name() string

	// Deliver stores data under name. Failures are *SinkError values.
	Deliver(ctx context.Context, name string, data []byte) error
}

// Entry describes one stored backup.
type Entry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
}

// Lister lists stored backups, newest first.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// Fetcher retrieves a stored backup by path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}
