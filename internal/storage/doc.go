package storage

// Package storage persists the retention buffer so a process restart does not
// silently lose in-window history.
//
// It currently supports:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "file":   dependency-free append-only JSONL with periodic compaction
