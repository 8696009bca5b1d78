// Package connection manages the lifecycle of a command-station
// session.
//
// Command stations drop idle or network-partitioned clients without
// ceremony: the Z21 forgets a client after a minute of silence, and a
// DCC-EX station simply closes the socket when it restarts. The
// Manager in this package wraps a connect function with state
// tracking and automatic reconnection so a programming session
// survives a station power cycle.
//
// # Reconnection Strategy
//
// When the session is lost the manager retries with exponential
// backoff: 1s, 2s, 4s, ... capped at 30s, continuing at the cap until
// the station answers again. The backoff resets to 1s on success.
//
// A small random jitter (up to 25% of the base delay) is added to
// each retry so several clients of one station do not hammer it in
// lockstep after it reboots.
package connection
