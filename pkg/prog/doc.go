// Package prog provides the programming layer: a uniform backend
// surface for reading and writing decoder Configuration Variables
// through either supported command-station protocol.
//
// Two backends implement the Backend interface:
//
//   - Z21Backend speaks the Z21 binary protocol over UDP. POM requests
//     are fire-and-forget; results arrive asynchronously as events. The
//     correlated ReadCVSync/WriteCVSync calls additionally wait for the
//     matching result, keyed by CV number — the protocol itself carries
//     no request token.
//
//   - DCCEXBackend speaks the DCC-EX text protocol over TCP or serial.
//     The service-mode programming track is a single-slot resource: at
//     most one read or write may be outstanding, tracked with a random
//     (id, sub) correlation token and a timeout that force-fails it.
//
// Backends emit Events on a buffered channel in strict arrival order.
// The Scanner drives a full CV sweep over either backend.
package prog
