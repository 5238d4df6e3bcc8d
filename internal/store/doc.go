// Package store provides the SQLite-backed local record store for posvault.
//
// The store holds named collections of JSON records:
//   - Records: one row per (collection, key), with a seq column preserving
//     insertion order for listings and snapshots
//   - Index entries: non-unique secondary index values derived from
//     top-level record fields on every write
//   - Settings: small key/value pairs kept outside the collections
//
// # Critical Patterns
//
// Key ownership: every record carries its own key field (declared per
// collection), so a record read from a snapshot can be written back without
// any side information.
//
// Atomicity: every write goes through RunTransaction. A failed body or
// commit rolls back every record and index entry written in it.
//
// Honest failure: driver and I/O errors are wrapped with
// ErrStoreUnavailable. An unavailable store never returns empty slices as if
// the collection were empty.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Index entries cascade with their record
//   - One open connection: transactions are exclusive
package store
