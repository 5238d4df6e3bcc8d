// Package model provides the typed records persisted by posvault.
//
// This package contains type definitions and small pure helpers only. All
// other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Money is shopspring/decimal, never float64
//   - All JSON tags use snake_case
//   - Every record carries its own key field (table_id for table drafts, id
//     for everything else), so a record can be snapshotted and restored alone
package model
