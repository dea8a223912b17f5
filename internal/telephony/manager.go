package telephony

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadline/leadline/internal/bridge"
)

// durationTickInterval is how often the active call's elapsed display is
// recomputed.
const durationTickInterval = time.Second

// ManagerConfig collects the tunables for the telephony core.
type ManagerConfig struct {
	Conn            ConnConfig
	EventBufferSize int
	OriginationTTL  time.Duration
	LivenessPoll    time.Duration
}

// Manager composes the telephony core: connection manager, event
// distributor, session machine, correlator, and dialer. It owns the wiring
// between them and the two interval timers.
type Manager struct {
	Conn        *Conn
	Distributor *Distributor
	Session     *Session
	Correlator  *Correlator
	Dialer      *Dialer

	transport   bridge.Transport
	cfg         ManagerConfig
	logger      *slog.Logger
	removeEvent func()
	cancelTick  context.CancelFunc
}

// NewManager wires the telephony core over the given collaborators.
func NewManager(transport bridge.Transport, sink RecordSink, agent AgentConfig, leads LeadStore, cfg ManagerConfig, logger *slog.Logger) *Manager {
	conn := NewConn(transport, cfg.Conn, logger)
	dist := NewDistributor(cfg.EventBufferSize)
	session := NewSession(nil, logger)
	correlator := NewCorrelator(sink, agent, cfg.OriginationTTL, logger)
	dialer := NewDialer(conn, session, correlator, transport, agent, leads, logger)

	// Session termination feeds the correlator before the terminal event
	// reaches the correlator's own subscription, so the consumed-set
	// suppresses the duplicate.
	session.OnEnded(correlator.OnSessionEnded)

	// Subscription order matters: the session machine sees each event
	// first, the correlator second.
	dist.Subscribe(func(ev Event) { session.HandleEvent(ev) })
	dist.Subscribe(correlator.HandleEvent)

	m := &Manager{
		Conn:        conn,
		Distributor: dist,
		Session:     session,
		Correlator:  correlator,
		Dialer:      dialer,
		transport:   transport,
		cfg:         cfg,
		logger:      logger.With("subsystem", "telephony"),
	}
	m.removeEvent = transport.OnEvent(dist.Publish)
	return m
}

// Start launches the duration tick and the liveness poll. Both stop when
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	tickCtx, cancel := context.WithCancel(ctx)
	m.cancelTick = cancel
	go func() {
		ticker := time.NewTicker(durationTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				m.Session.Tick()
			}
		}
	}()
	m.Conn.StartLivenessPoll(ctx, m.cfg.LivenessPoll)
}

// Connect logs the agent in to the bridge.
func (m *Manager) Connect(ctx context.Context) error {
	return m.Conn.Connect(ctx)
}

// Disconnect logs out and clears all derived state: the event buffer, any
// active session, and pending correlations.
func (m *Manager) Disconnect() error {
	err := m.Conn.Disconnect()
	m.Session.Clear()
	m.Distributor.Clear()
	m.Correlator.Clear()
	return err
}

// ConnectionState returns the bridge connection state name.
func (m *Manager) ConnectionState() string {
	return m.Conn.Status().State.String()
}

// ReconnectAttempts returns the current reconnect attempt counter.
func (m *Manager) ReconnectAttempts() int {
	return m.Conn.Status().Attempts
}

// HasActiveCall reports whether a call session is in flight.
func (m *Manager) HasActiveCall() bool {
	return m.Session.Active() != nil
}

// Close tears the core down: timers, subscriptions, and the connection.
func (m *Manager) Close() {
	if m.cancelTick != nil {
		m.cancelTick()
	}
	if m.removeEvent != nil {
		m.removeEvent()
	}
	m.Conn.Close()
	m.Disconnect() //nolint:errcheck
}
