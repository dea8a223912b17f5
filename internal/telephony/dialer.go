package telephony

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leadline/leadline/internal/bridge"
	"github.com/leadline/leadline/internal/database/models"
)

// AgentConfig supplies the agent's runtime dialing identity. Backed by the
// settings store so the extension and dial context can change without a
// restart.
type AgentConfig interface {
	// Extension is the agent's logical dialing identity on the bridge.
	Extension() string
	// Channel is the agent's channel identity, e.g. "PJSIP/1000".
	Channel() string
	// DialContext is the dial plan context for originated calls.
	DialContext() string
	// CallerIDName is presented to the far end on originated calls.
	CallerIDName() string
	// AgentName labels call records.
	AgentName() string
}

// LeadStore is the lead collaborator the dialer notifies for ad hoc dials.
type LeadStore interface {
	// EnsureLead returns an existing lead for the phone number or creates
	// a minimal stub so the dial remains attributable in history.
	EnsureLead(ctx context.Context, name, phone string) (*models.Lead, error)
}

// Dialer services call requests from any UI entry point: manual dial,
// "call this lead", "call back now". It validates the guards, issues the
// origination command, and drives the session machine into Ringing.
type Dialer struct {
	conn       *Conn
	session    *Session
	correlator *Correlator
	transport  bridge.Transport
	agent      AgentConfig
	leads      LeadStore
	logger     *slog.Logger
}

// NewDialer wires the dialer controller.
func NewDialer(conn *Conn, session *Session, correlator *Correlator, transport bridge.Transport, agent AgentConfig, leads LeadStore, logger *slog.Logger) *Dialer {
	return &Dialer{
		conn:       conn,
		session:    session,
		correlator: correlator,
		transport:  transport,
		agent:      agent,
		leads:      leads,
		logger:     logger.With("subsystem", "dialer"),
	}
}

// InitiateCall originates a call to number. Guard failures are returned as
// ErrNotConnected, ErrNoExtension, or ErrAlreadyOnCall with no state
// change. A bridge rejection is surfaced immediately and creates no
// session.
func (d *Dialer) InitiateCall(ctx context.Context, number, displayName string, leadID *int64) error {
	if number == "" {
		return fmt.Errorf("no number to dial")
	}
	if d.conn.State() != StateConnected {
		return ErrNotConnected
	}
	ext := d.agent.Extension()
	if ext == "" {
		return ErrNoExtension
	}
	if d.session.Active() != nil {
		return ErrAlreadyOnCall
	}

	// Ad hoc dials get a minimal lead stub so history stays attributable.
	// A store failure downgrades the call to unattributed; it never blocks
	// the dial.
	if leadID == nil && d.leads != nil {
		lead, err := d.leads.EnsureLead(ctx, displayName, number)
		if err != nil {
			d.logger.Warn("could not create lead stub for ad hoc dial",
				"number", number, "error", err)
		} else {
			leadID = &lead.ID
			if displayName == "" {
				displayName = lead.Name
			}
		}
	}

	d.correlator.RegisterOrigination(number, displayName, leadID)

	err := d.transport.Originate(ctx, bridge.Origination{
		Channel:   d.agent.Channel(),
		Extension: number,
		Context:   d.agent.DialContext(),
		CallerID:  d.agent.CallerIDName(),
	})
	if err != nil {
		d.correlator.DropOrigination(number)
		return fmt.Errorf("origination rejected: %w", err)
	}

	if _, err := d.session.Begin(number, displayName, ext, leadID); err != nil {
		return err
	}
	d.logger.Info("call initiated", "number", number, "extension", ext)
	return nil
}
