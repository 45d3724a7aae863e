// Package storage persists tenant state (rotation table, schedule,
// template) across restarts.
//
// Drivers:
//   - memory:   in-process map, no persistence
//   - file:     single JSON snapshot, atomic rename on save
//   - sqlite:   modernc.org/sqlite, one row per tenant
//   - postgres: lib/pq, same schema with $n placeholders
package storage
