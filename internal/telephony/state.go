// Package telephony is the call session core: it keeps the bridge
// connection alive, fans out bridge events, tracks the single active call's
// lifecycle, and finalizes terminated calls into durable call records.
package telephony

import "fmt"

// ConnectionState is the lifecycle state of the logical bridge connection.
type ConnectionState int

const (
	// StateDisconnected means no connection exists and none is pending.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a connect attempt is in flight.
	StateConnecting
	// StateConnected means the bridge session is live.
	StateConnected
	// StateReconnecting means the session was lost and a retry is scheduled.
	StateReconnecting
	// StateFailed means retries were exhausted. Terminal until an explicit
	// ResetReconnectAttempts.
	StateFailed
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// validConnTransitions defines which connection state transitions are allowed.
var validConnTransitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateFailed, StateDisconnected},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnecting, StateConnected, StateFailed, StateDisconnected},
	StateFailed:       {StateDisconnected},
}

// CanTransitionTo checks whether moving from s to next is a legal transition.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, allowed := range validConnTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CallState is the lifecycle state of the active call session.
type CallState int

const (
	// CallNone means no session exists.
	CallNone CallState = iota
	// CallRinging means an origination was accepted and the leg is ringing.
	CallRinging
	// CallConnected means the call was answered.
	CallConnected
	// CallOnHold means the agent put the connected call on hold.
	CallOnHold
	// CallEnded is terminal; the session collapses back to CallNone once
	// the call record has been synthesized.
	CallEnded
)

// String returns the string representation of the call state.
func (s CallState) String() string {
	switch s {
	case CallNone:
		return "None"
	case CallRinging:
		return "Ringing"
	case CallConnected:
		return "Connected"
	case CallOnHold:
		return "OnHold"
	case CallEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}
