package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadline/leadline/internal/bridge"
)

// livenessInterval is how often the manager cross-checks the transport's
// actual session state against its own.
const livenessInterval = 30 * time.Second

// ConnConfig tunes the connection manager's reconnect policy.
type ConnConfig struct {
	// MaxAttempts is the number of scheduled reconnects before entering
	// StateFailed. Zero means the default of 10.
	MaxAttempts int
	// BackoffBase is delay(0). Zero means 2s.
	BackoffBase time.Duration
	// BackoffGrowth is the per-attempt multiplier. Values below 1 mean 1.5.
	BackoffGrowth float64
	// BackoffCap is the delay ceiling. Zero means 30s.
	BackoffCap time.Duration
}

// ConnStatus is a snapshot of the connection manager's state, handed to
// status observers and the API.
type ConnStatus struct {
	State       ConnectionState
	Attempts    int
	LastError   string
	ConnectedAt *time.Time
	NextRetryIn time.Duration
	MaxAttempts int
}

// Conn owns the logical connection to the bridge: it runs connect and
// disconnect, schedules bounded-backoff reconnects on transport loss, and
// notifies observers on every state change. At most one reconnect timer is
// armed at any time.
type Conn struct {
	transport bridge.Transport
	logger    *slog.Logger

	mu          sync.Mutex
	state       ConnectionState
	lastErr     string
	connectedAt *time.Time
	loggedIn    bool
	backoff     *backoff
	maxAttempts int
	timer       *time.Timer
	nextRetry   time.Duration
	observers   map[int]func(ConnStatus)
	nextObsID   int
	removeDown  func()
	pollCancel  context.CancelFunc
}

// NewConn creates a connection manager over the given transport. It
// subscribes to transport status changes immediately but makes no
// connection until Connect.
func NewConn(transport bridge.Transport, cfg ConnConfig, logger *slog.Logger) *Conn {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	c := &Conn{
		transport:   transport,
		logger:      logger.With("subsystem", "bridge-conn"),
		state:       StateDisconnected,
		backoff:     newBackoff(cfg.BackoffBase, cfg.BackoffGrowth, cfg.BackoffCap),
		maxAttempts: maxAttempts,
		observers:   make(map[int]func(ConnStatus)),
	}
	c.removeDown = transport.OnStatusChange(c.onTransportStatus)
	return c
}

// Connect establishes the bridge session. It is rejected while another
// connect attempt is in flight and is a no-op when already connected.
// A successful connect marks the agent session as logged in, which enables
// automatic reconnect on later transport loss.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		return fmt.Errorf("connect already in progress")
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateFailed:
		c.mu.Unlock()
		return fmt.Errorf("connection failed after %d attempts; reset required", c.maxAttempts)
	}
	c.loggedIn = true
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	return c.attempt(ctx)
}

// attempt runs one transport connect and applies the outcome.
func (c *Conn) attempt(ctx context.Context) error {
	err := c.transport.Connect(ctx)

	c.mu.Lock()
	if !c.loggedIn {
		// Disconnected while the attempt was in flight.
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		if err == nil {
			c.transport.Disconnect() //nolint:errcheck
		}
		return fmt.Errorf("connection cancelled")
	}
	if err != nil {
		c.lastErr = err.Error()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return err
	}

	now := time.Now()
	c.connectedAt = &now
	c.lastErr = ""
	c.backoff.reset()
	c.nextRetry = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("bridge connected")
	return nil
}

// Disconnect tears down the session, cancels any armed reconnect timer, and
// marks the agent session as logged out so no further reconnects are
// scheduled.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.loggedIn = false
	c.cancelTimerLocked()
	c.backoff.reset()
	c.nextRetry = 0
	c.lastErr = ""
	c.connectedAt = nil
	wasConnected := c.state == StateConnected
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if wasConnected {
		if err := c.transport.Disconnect(); err != nil {
			return fmt.Errorf("disconnecting bridge: %w", err)
		}
	}
	c.logger.Info("bridge disconnected")
	return nil
}

// ResetReconnectAttempts clears the attempt counter and the last error, and
// leaves the terminal StateFailed. It does not itself reconnect.
func (c *Conn) ResetReconnectAttempts() {
	c.mu.Lock()
	c.backoff.reset()
	c.nextRetry = 0
	c.lastErr = ""
	if c.state == StateFailed {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
	c.logger.Info("reconnect attempts reset")
}

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the connection manager.
func (c *Conn) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Subscribe registers a status observer and returns an unsubscribe handle.
func (c *Conn) Subscribe(fn func(ConnStatus)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// StartLivenessPoll runs a periodic check that the transport's session state
// matches the manager's. A transport that silently died is treated as a
// loss. The poll stops when the context is cancelled.
func (c *Conn) StartLivenessPoll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = livenessInterval
	}
	pollCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.pollCancel != nil {
		c.pollCancel()
	}
	c.pollCancel = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				if c.State() == StateConnected && !c.transport.Connected() {
					c.logger.Warn("liveness poll found dead transport")
					c.onTransportStatus(false, "liveness poll: session gone")
				}
			}
		}
	}()
}

// Close cancels timers and transport subscriptions. The connection itself
// is left to Disconnect.
func (c *Conn) Close() {
	c.mu.Lock()
	c.cancelTimerLocked()
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	c.mu.Unlock()
	if c.removeDown != nil {
		c.removeDown()
	}
}

// onTransportStatus handles up/down notifications from the transport.
func (c *Conn) onTransportStatus(up bool, reason string) {
	if up {
		return
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.connectedAt = nil
	if !c.loggedIn {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}
	c.lastErr = reason
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the single reconnect timer, or enters
// StateFailed once the attempt budget is exhausted. Caller holds c.mu.
func (c *Conn) scheduleReconnectLocked() {
	c.cancelTimerLocked()

	if c.backoff.attempt >= c.maxAttempts {
		c.logger.Error("reconnect attempts exhausted", "attempts", c.backoff.attempt)
		c.setStateLocked(StateFailed)
		return
	}

	delay := c.backoff.next()
	c.nextRetry = delay
	c.setStateLocked(StateReconnecting)
	c.logger.Warn("scheduling reconnect",
		"attempt", c.backoff.attempt,
		"delay", delay.String(),
		"last_error", c.lastErr,
	)
	c.timer = time.AfterFunc(delay, c.reconnect)
}

// reconnect is the timer callback for a scheduled attempt.
func (c *Conn) reconnect() {
	c.mu.Lock()
	if c.state != StateReconnecting || !c.loggedIn {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if err := c.attempt(context.Background()); err != nil {
		c.logger.Warn("reconnect attempt failed", "error", err)
	}
}

func (c *Conn) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// setStateLocked transitions to next and notifies observers. Caller holds
// c.mu; observers run under the lock and must not call back into Conn.
func (c *Conn) setStateLocked(next ConnectionState) {
	if c.state == next {
		return
	}
	if !c.state.CanTransitionTo(next) {
		c.logger.Error("illegal connection transition",
			"from", c.state.String(), "to", next.String())
		return
	}
	c.state = next
	status := c.statusLocked()
	for _, fn := range c.observers {
		fn(status)
	}
}

func (c *Conn) statusLocked() ConnStatus {
	return ConnStatus{
		State:       c.state,
		Attempts:    c.backoff.attempt,
		LastError:   c.lastErr,
		ConnectedAt: c.connectedAt,
		NextRetryIn: c.nextRetry,
		MaxAttempts: c.maxAttempts,
	}
}
