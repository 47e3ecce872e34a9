// Package attemptlog records every attempt of every request in a SQLite
// database, grouped into runs.
//
// A run covers one process lifetime with one strategy. Its id is the start
// time plus the strategy key, e.g. "2026-01-02_15-04-05_v4". Runs that belong
// to the same experiment share a session id.
//
// Attempts reach the database through a Writer, which buffers outcomes and
// inserts them in batched transactions off the request path.
package attemptlog
