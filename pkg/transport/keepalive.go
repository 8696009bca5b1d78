package transport

import (
	"context"
	"sync"
	"time"
)

// Keep-alive constants.
//
// A Z21 station silently drops clients after about 60 seconds without
// traffic, so the defaults keep well inside that window.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 20 * time.Second

	// DefaultPongTimeout is the default timeout waiting for any reply.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMaxMissedPongs is the number of unanswered pings before
	// the connection is considered dead.
	DefaultMaxMissedPongs = 2
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is the timeout waiting for a reply to a ping.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of unanswered pings before the
	// connection is considered dead.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay calculates the maximum detection delay for this configuration.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAlive keeps a session alive and monitors its liveness. Unlike a
// ping/pong protocol with sequence numbers, the Z21 ping is a serial
// number request and ANY inbound datagram counts as proof of life, so
// liveness is marked rather than matched.
type KeepAlive struct {
	config KeepAliveConfig

	// Callbacks
	sendPing  func() error
	onTimeout func()

	// State
	missedPongs  int
	lastPingTime time.Time
	lastSeenTime time.Time
	hasPending   bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	aliveCh chan struct{}
}

// NewKeepAlive creates a new keep-alive manager.
func NewKeepAlive(config KeepAliveConfig, sendPing func() error, onTimeout func()) *KeepAlive {
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs == 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}

	return &KeepAlive{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		aliveCh:   make(chan struct{}, 1),
	}
}

// Start begins the keep-alive loop.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.mu.Unlock()

	go ka.loop(ctx)
}

// Stop stops the keep-alive loop.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}

	ka.running = false
	close(ka.stopCh)
}

// MarkAlive should be called for every inbound datagram. Any traffic
// from the station proves the session is still accepted.
func (ka *KeepAlive) MarkAlive() {
	select {
	case ka.aliveCh <- struct{}{}:
	default:
	}
}

// IsRunning returns true if the keep-alive loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastPingTime: ka.lastPingTime,
		LastSeenTime: ka.lastSeenTime,
		MissedPongs:  ka.missedPongs,
	}
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastSeenTime time.Time
	MissedPongs  int
}

// loop is the main keep-alive loop.
func (ka *KeepAlive) loop(ctx context.Context) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	// Announce ourselves to the station immediately.
	ka.sendPingMessage()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ka.stopCh:
			return
		case <-ticker.C:
			ka.handleTick()
		case <-ka.aliveCh:
			ka.handleAlive()
		}
	}
}

// sendPingMessage sends a ping and records the time.
func (ka *KeepAlive) sendPingMessage() {
	ka.mu.Lock()
	ka.lastPingTime = time.Now()
	ka.hasPending = true
	ka.mu.Unlock()

	if err := ka.sendPing(); err != nil {
		ka.mu.Lock()
		ka.hasPending = false
		ka.mu.Unlock()
		// Send failed; the next tick counts it as a miss.
	}
}

// handleTick checks the previous ping and sends the next one.
func (ka *KeepAlive) handleTick() {
	ka.mu.Lock()

	if ka.hasPending && time.Since(ka.lastPingTime) >= ka.config.PongTimeout {
		ka.missedPongs++
		ka.hasPending = false

		if ka.missedPongs >= ka.config.MaxMissedPongs {
			ka.mu.Unlock()
			if ka.onTimeout != nil {
				ka.onTimeout()
			}
			return
		}
	}

	ka.mu.Unlock()

	ka.sendPingMessage()
}

// handleAlive handles proof of life from the station.
func (ka *KeepAlive) handleAlive() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	ka.lastSeenTime = time.Now()
	ka.hasPending = false
	ka.missedPongs = 0
}
