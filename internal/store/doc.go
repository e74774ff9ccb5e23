// Package store provides persistence for gateway entities: users,
// workspaces and their memberships, conversations, and messages.
//
// The [Store] interface is the contract; [SQLiteStore] is the only
// implementation, backed by modernc.org/sqlite with WAL journaling and
// foreign keys enabled. Schema creation is automatic and idempotent.
//
// Lookups return [ErrNotFound] for missing rows and inserts return
// [ErrDuplicate] on uniqueness violations, so callers can branch on
// sentinel errors instead of database error strings.
//
// Message metadata is persisted as a JSON text column and round-trips
// arbitrary client-supplied keys. Message listings return the most recent
// N rows in chronological order, with insert order breaking timestamp
// ties.
package store
