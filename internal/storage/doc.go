// Package storage provides the key-value persistence layer behind schedule
// preferences.
//
// Backends:
//   - "memory": process-local map (tests, dry runs)
//   - "file": single JSON snapshot rewritten atomically on every write
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
