// Package persistence stores scan sessions on disk.
//
// A session is the outcome of one CV range scan: which station and
// decoder it targeted, and the values that resolved. Sessions are
// serialized as JSON, one file per scan, so a decoder's configuration
// can be compared across programming sessions.
package persistence
