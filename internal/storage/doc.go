// Package storage provides the message row store used by task bodies.
//
// A row store offers four operations over a single messages table:
// CreateTable, AddRow, RemoveRow and GetRow. Rows are matched by template:
// every non-zero field of the template must equal the row's field.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "file":   dependency-free JSON Lines journal + snapshot
//   - "redis":  one JSON value per message plus a set index
//
// Backend errors are returned as-is.
package storage
