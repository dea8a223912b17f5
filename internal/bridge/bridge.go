// Package bridge defines the narrow contract LeadLine has with the external
// call-control bridge and provides the production AMI implementation.
package bridge

import "context"

// RawEvent is an unparsed bridge notification. Keys follow the bridge's
// lowercase wire convention (event, channel, calleridnum, uniqueid, ...).
type RawEvent map[string]string

// Origination describes an outbound call leg request.
type Origination struct {
	// Channel is the agent's channel identity, e.g. "PJSIP/1000".
	Channel string
	// Extension is the number to dial.
	Extension string
	// Context is the dial plan context the call is placed in.
	Context string
	// CallerID is the caller id presented to the far end. Optional.
	CallerID string
}

// Transport is the connection to the call-control bridge. Implementations
// must be safe for concurrent use. Reconnect policy is not the transport's
// job; it reports loss via status listeners and the connection manager
// decides what to do.
type Transport interface {
	// Connect establishes the bridge session. Calling Connect on an
	// already-connected transport is an error.
	Connect(ctx context.Context) error

	// Disconnect tears down the bridge session. Safe to call when
	// already disconnected.
	Disconnect() error

	// Connected reports whether the transport currently has a live session.
	Connected() bool

	// Originate asks the bridge to place an outbound call leg.
	Originate(ctx context.Context, o Origination) error

	// OnEvent registers a listener for raw bridge events. The returned
	// function removes the listener.
	OnEvent(fn func(RawEvent)) (remove func())

	// OnStatusChange registers a listener for transport up/down changes.
	// reason is a human-readable cause for down transitions. The returned
	// function removes the listener.
	OnStatusChange(fn func(up bool, reason string)) (remove func())
}
