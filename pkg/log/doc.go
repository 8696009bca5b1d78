// Package log provides structured protocol event logging.
//
// Backends emit an Event for every frame sent or received, every CV
// operation issued or completed, and every connection state change.
// Applications pass a Logger implementation into a backend to capture
// them:
//
//   - NoopLogger discards everything (the default)
//   - SlogAdapter mirrors events onto a log/slog logger for the console
//   - FileLogger appends CBOR-encoded events to a capture file
//   - MultiLogger fans out to several of the above
//
// Capture files are replayed with Reader, which streams events back
// with optional filtering; the cvlink-log command is built on it.
package log
