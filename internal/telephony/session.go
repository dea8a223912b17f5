package telephony

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dialer guard failures. Surfaced to the caller without any state change.
var (
	ErrNotConnected  = errors.New("bridge is not connected")
	ErrNoExtension   = errors.New("no agent extension configured")
	ErrAlreadyOnCall = errors.New("a call is already in progress")
)

// EndReason records what terminated a session.
type EndReason string

const (
	// EndedByEvent means a terminal bridge event ended the call.
	EndedByEvent EndReason = "event"
	// EndedByUser means the agent hung up from the UI.
	EndedByUser EndReason = "user"
	// EndedByDisconnect means the session was cleared on logout/teardown.
	EndedByDisconnect EndReason = "disconnect"
)

// ActiveCall is the single in-flight call session. At most one exists
// process-wide; the session machine owns its creation and destruction.
type ActiveCall struct {
	ID          string
	Number      string
	DisplayName string
	State       CallState
	StartTime   time.Time
	AnsweredAt  *time.Time
	LeadID      *int64
	Extension   string
	UniqueID    string
	Channel     string
	Muted       bool
	EndEvent    *Event
	EndReason   EndReason
}

// Matcher decides whether a bridge event belongs to the active call.
// The default matches on the originating extension; a stricter scheme
// (e.g. a unique id assigned at origination) can be swapped in without
// touching the state machine.
type Matcher interface {
	Matches(call *ActiveCall, ev Event) bool
}

// ExtensionMatcher attributes an event to the call when its channel,
// destination channel, or caller id references the originating extension.
// Substring matching on channel names is approximate; two extensions
// sharing a suffix can collide.
type ExtensionMatcher struct{}

// Matches implements Matcher.
func (ExtensionMatcher) Matches(call *ActiveCall, ev Event) bool {
	ext := call.Extension
	if ext == "" {
		return false
	}
	if call.UniqueID != "" && ev.UniqueID == call.UniqueID {
		return true
	}
	if channelHasExtension(ev.Channel, ext) || channelHasExtension(ev.DestChannel, ext) {
		return true
	}
	return ev.CallerIDNum == ext
}

// channelHasExtension reports whether a channel name like "PJSIP/1000-0001"
// references the given extension.
func channelHasExtension(channel, ext string) bool {
	if channel == "" {
		return false
	}
	slash := strings.IndexByte(channel, '/')
	if slash < 0 {
		return strings.Contains(channel, ext)
	}
	rest := channel[slash+1:]
	return rest == ext || strings.HasPrefix(rest, ext+"-")
}

// Session is the active call's state machine. All transitions happen under
// one mutex, so bridge events, timer ticks, and user actions interleave
// atomically.
type Session struct {
	logger  *slog.Logger
	matcher Matcher
	clock   func() time.Time

	mu      sync.Mutex
	active  *ActiveCall
	elapsed string
	onEnded func(call ActiveCall)
}

// NewSession creates the session machine. matcher may be nil, in which case
// ExtensionMatcher is used.
func NewSession(matcher Matcher, logger *slog.Logger) *Session {
	if matcher == nil {
		matcher = ExtensionMatcher{}
	}
	return &Session{
		logger:  logger.With("subsystem", "call-session"),
		matcher: matcher,
		clock:   time.Now,
	}
}

// OnEnded registers the callback invoked exactly once when a session enters
// Ended, before the session collapses back to None.
func (s *Session) OnEnded(fn func(call ActiveCall)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// Begin creates the session in Ringing. It fails with ErrAlreadyOnCall when
// a session exists; connection and extension guards belong to the dialer.
func (s *Session) Begin(number, displayName, extension string, leadID *int64) (*ActiveCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrAlreadyOnCall
	}
	now := s.clock()
	s.active = &ActiveCall{
		ID:          uuid.NewString(),
		Number:      number,
		DisplayName: displayName,
		State:       CallRinging,
		StartTime:   now,
		LeadID:      leadID,
		Extension:   extension,
	}
	s.elapsed = "00:00"
	s.logger.Info("call session started",
		"call_id", s.active.ID,
		"number", number,
		"extension", extension,
	)
	snapshot := *s.active
	return &snapshot, nil
}

// HandleEvent applies a distributed event to the active session. Events
// that reference other channels are ignored. Returns true when the event
// was attributed to the session.
func (s *Session) HandleEvent(ev Event) bool {
	s.mu.Lock()
	call := s.active
	if call == nil || !s.matcher.Matches(call, ev) {
		s.mu.Unlock()
		return false
	}

	// Remember correlation identifiers from the first matching events.
	if call.UniqueID == "" && ev.UniqueID != "" {
		call.UniqueID = ev.UniqueID
	}
	if call.Channel == "" && ev.Channel != "" {
		call.Channel = ev.Channel
	}

	switch {
	case ev.Kind == KindDialEnd && strings.EqualFold(ev.DialStatus, "ANSWER"):
		// Repeated ANSWER events are a no-op.
		if call.State == CallRinging {
			now := s.clock()
			call.AnsweredAt = &now
			call.State = CallConnected
			s.logger.Info("call answered", "call_id", call.ID)
		}
		s.mu.Unlock()
		return true

	case ev.IsTerminal():
		// First terminal event for this session wins.
		s.endLocked(&ev, EndedByEvent)
		return true

	default:
		s.mu.Unlock()
		return true
	}
}

// ToggleHold flips Connected <-> OnHold. A user action; no bridge event is
// required.
func (s *Session) ToggleHold() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.active
	if call == nil {
		return fmt.Errorf("no active call")
	}
	switch call.State {
	case CallConnected:
		call.State = CallOnHold
	case CallOnHold:
		call.State = CallConnected
	default:
		return fmt.Errorf("cannot hold a call in state %s", call.State)
	}
	return nil
}

// ToggleMute flips the mute flag. Mute is orthogonal to call state.
func (s *Session) ToggleMute() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false, fmt.Errorf("no active call")
	}
	s.active.Muted = !s.active.Muted
	return s.active.Muted, nil
}

// EndCall terminates the session from the UI.
func (s *Session) EndCall() error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return fmt.Errorf("no active call")
	}
	s.endLocked(nil, EndedByUser)
	return nil
}

// Clear drops any session without producing a record. Used on logout and
// teardown.
func (s *Session) Clear() {
	s.mu.Lock()
	s.active = nil
	s.elapsed = ""
	s.mu.Unlock()
}

// endLocked moves the session to Ended, fires the ended callback, and
// collapses back to None. Caller holds s.mu; the lock is released before
// the callback runs.
func (s *Session) endLocked(ev *Event, reason EndReason) {
	call := s.active
	call.State = CallEnded
	call.EndEvent = ev
	call.EndReason = reason
	ended := *call
	s.active = nil
	s.elapsed = ""
	fn := s.onEnded
	s.mu.Unlock()

	s.logger.Info("call session ended",
		"call_id", ended.ID,
		"reason", string(reason),
	)
	if fn != nil {
		fn(ended)
	}
}

// Active returns a snapshot of the active call, or nil.
func (s *Session) Active() *ActiveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	snapshot := *s.active
	return &snapshot
}

// Tick recomputes the elapsed-time display from the wall clock. Because the
// value is a subtraction from the true start timestamp rather than an
// accumulated count, missed ticks never cause drift.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.active
	if call == nil {
		return
	}
	if call.State == CallConnected || call.State == CallOnHold {
		s.elapsed = FormatDuration(s.clock().Sub(call.StartTime))
	}
}

// Elapsed returns the current mm:ss display for the active call. Computed
// live so callers between ticks still see a correct value.
func (s *Session) Elapsed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.active
	if call == nil {
		return ""
	}
	if call.State == CallConnected || call.State == CallOnHold {
		return FormatDuration(s.clock().Sub(call.StartTime))
	}
	return "00:00"
}

// FormatDuration renders a duration as zero-padded mm:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
