// Package store persists the two kinds of durable state the experiment
// needs: the per-participant rule record (write-once YAML, one file per
// participant) and the append-only results log (SQLite).
//
// The results log uses WAL mode with a single writer connection; all
// inserts are idempotent via ON CONFLICT DO NOTHING so a crashed run
// can be re-driven without duplicating rows.
package store
