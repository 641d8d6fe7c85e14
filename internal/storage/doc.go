// Package storage persists the message ids that let exporters edit their
// previous report in place after a restart.
//
// Drivers:
//   - "file": one JSON snapshot, replaced atomically on every save
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
