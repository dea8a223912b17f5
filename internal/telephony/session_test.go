package telephony

import (
	"testing"
	"time"
)

func newTestSession(t *testing.T) (*Session, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := NewSession(nil, testLogger())
	s.clock = func() time.Time { return now }
	return s, &now
}

func TestSessionBeginSingleCall(t *testing.T) {
	s, _ := newTestSession(t)

	call, err := s.Begin("5551234", "Ada Lovelace", "1000", nil)
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if call.State != CallRinging {
		t.Errorf("State = %s, want Ringing", call.State)
	}
	if call.ID == "" {
		t.Error("Begin() did not assign a call id")
	}

	if _, err := s.Begin("5555678", "", "1000", nil); err != ErrAlreadyOnCall {
		t.Errorf("second Begin() error = %v, want ErrAlreadyOnCall", err)
	}
}

func TestSessionAnswerTransition(t *testing.T) {
	s, now := newTestSession(t)
	s.Begin("5551234", "Ada", "1000", nil)

	answer := Event{Kind: KindDialEnd, DialStatus: "ANSWER", UniqueID: "1.1", CallerIDNum: "1000"}
	if !s.HandleEvent(answer) {
		t.Fatal("HandleEvent(answer) = false, want attributed")
	}

	call := s.Active()
	if call.State != CallConnected {
		t.Fatalf("State = %s, want Connected", call.State)
	}
	if call.AnsweredAt == nil || !call.AnsweredAt.Equal(*now) {
		t.Errorf("AnsweredAt = %v, want %v", call.AnsweredAt, now)
	}
	if call.UniqueID != "1.1" {
		t.Errorf("UniqueID = %q, want captured 1.1", call.UniqueID)
	}

	// A repeated answer does not move AnsweredAt.
	first := *call.AnsweredAt
	*now = now.Add(5 * time.Second)
	s.HandleEvent(answer)
	if got := s.Active().AnsweredAt; !got.Equal(first) {
		t.Errorf("AnsweredAt moved on duplicate answer: %v -> %v", first, got)
	}
}

func TestSessionIgnoresForeignEvents(t *testing.T) {
	s, _ := newTestSession(t)
	s.Begin("5551234", "Ada", "1000", nil)

	foreign := Event{Kind: KindHangup, Channel: "PJSIP/2000-00000001", UniqueID: "9.9", CallerIDNum: "2000"}
	if s.HandleEvent(foreign) {
		t.Error("HandleEvent() attributed an event for another extension")
	}
	if s.Active() == nil {
		t.Error("foreign event ended the session")
	}
}

func TestSessionTerminalEventEndsCall(t *testing.T) {
	s, _ := newTestSession(t)

	var ended []ActiveCall
	s.OnEnded(func(call ActiveCall) { ended = append(ended, call) })

	s.Begin("5551234", "Ada", "1000", nil)
	hangup := Event{Kind: KindHangup, Channel: "PJSIP/1000-00000001", UniqueID: "1.1", CauseText: "Normal Clearing"}
	if !s.HandleEvent(hangup) {
		t.Fatal("HandleEvent(hangup) = false, want attributed")
	}

	if s.Active() != nil {
		t.Error("session still active after terminal event")
	}
	if len(ended) != 1 {
		t.Fatalf("OnEnded fired %d times, want 1", len(ended))
	}
	if ended[0].EndReason != EndedByEvent {
		t.Errorf("EndReason = %q, want %q", ended[0].EndReason, EndedByEvent)
	}
	if ended[0].EndEvent == nil || ended[0].EndEvent.Kind != KindHangup {
		t.Errorf("EndEvent = %+v, want the hangup", ended[0].EndEvent)
	}
}

func TestSessionEndCall(t *testing.T) {
	s, _ := newTestSession(t)

	var ended []ActiveCall
	s.OnEnded(func(call ActiveCall) { ended = append(ended, call) })

	if err := s.EndCall(); err == nil {
		t.Error("EndCall() with no session succeeded, want error")
	}

	s.Begin("5551234", "Ada", "1000", nil)
	if err := s.EndCall(); err != nil {
		t.Fatalf("EndCall() error: %v", err)
	}
	if len(ended) != 1 || ended[0].EndReason != EndedByUser {
		t.Fatalf("ended = %+v, want one user-ended call", ended)
	}
	if ended[0].EndEvent != nil {
		t.Error("user-ended call carries an EndEvent")
	}
}

func TestSessionHoldAndMute(t *testing.T) {
	s, _ := newTestSession(t)

	if err := s.ToggleHold(); err == nil {
		t.Error("ToggleHold() with no session succeeded, want error")
	}

	s.Begin("5551234", "Ada", "1000", nil)

	// Hold requires an answered call.
	if err := s.ToggleHold(); err == nil {
		t.Error("ToggleHold() while ringing succeeded, want error")
	}

	// Mute is orthogonal to call state.
	muted, err := s.ToggleMute()
	if err != nil || !muted {
		t.Errorf("ToggleMute() = %v, %v, want true, nil", muted, err)
	}

	s.HandleEvent(Event{Kind: KindDialEnd, DialStatus: "ANSWER", CallerIDNum: "1000", UniqueID: "1.1"})

	if err := s.ToggleHold(); err != nil {
		t.Fatalf("ToggleHold() error: %v", err)
	}
	if got := s.Active().State; got != CallOnHold {
		t.Errorf("State = %s, want OnHold", got)
	}
	if err := s.ToggleHold(); err != nil {
		t.Fatalf("ToggleHold() back error: %v", err)
	}
	if got := s.Active().State; got != CallConnected {
		t.Errorf("State = %s, want Connected", got)
	}
	if got := s.Active().Muted; !got {
		t.Error("mute flag lost across hold transitions")
	}
}

func TestSessionClearProducesNoCallback(t *testing.T) {
	s, _ := newTestSession(t)

	var ended int
	s.OnEnded(func(ActiveCall) { ended++ })

	s.Begin("5551234", "Ada", "1000", nil)
	s.Clear()
	if s.Active() != nil {
		t.Error("session survived Clear()")
	}
	if ended != 0 {
		t.Errorf("OnEnded fired %d times on Clear, want 0", ended)
	}
}

func TestSessionElapsed(t *testing.T) {
	s, now := newTestSession(t)
	s.Begin("5551234", "Ada", "1000", nil)

	// Ringing shows a zero clock.
	if got := s.Elapsed(); got != "00:00" {
		t.Errorf("Elapsed() while ringing = %q, want 00:00", got)
	}

	s.HandleEvent(Event{Kind: KindDialEnd, DialStatus: "ANSWER", CallerIDNum: "1000", UniqueID: "1.1"})

	// The display is derived from the wall clock, so a missed tick cannot
	// accumulate drift.
	*now = now.Add(83 * time.Second)
	s.Tick()
	if got := s.Elapsed(); got != "01:23" {
		t.Errorf("Elapsed() = %q, want 01:23", got)
	}

	*now = now.Add(10 * time.Minute)
	if got := s.Elapsed(); got != "11:23" {
		t.Errorf("Elapsed() = %q, want 11:23", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{-5 * time.Second, "00:00"},
		{9 * time.Second, "00:09"},
		{60 * time.Second, "01:00"},
		{83 * time.Second, "01:23"},
		{59*time.Minute + 59*time.Second, "59:59"},
		{61 * time.Minute, "61:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestExtensionMatcher(t *testing.T) {
	m := ExtensionMatcher{}
	call := &ActiveCall{Extension: "1000"}

	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"channel with extension", Event{Channel: "PJSIP/1000-00000001"}, true},
		{"dest channel with extension", Event{DestChannel: "PJSIP/1000-00000002"}, true},
		{"caller id is extension", Event{CallerIDNum: "1000"}, true},
		{"shared suffix does not match", Event{Channel: "PJSIP/21000-00000001"}, false},
		{"other extension", Event{Channel: "PJSIP/2000-00000001", CallerIDNum: "2000"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Matches(call, tt.ev); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	// Once the unique id has been captured it matches regardless of channel.
	call.UniqueID = "1.1"
	if !m.Matches(call, Event{UniqueID: "1.1"}) {
		t.Error("Matches() = false for captured unique id")
	}

	// No extension means nothing matches.
	if m.Matches(&ActiveCall{}, Event{Channel: "PJSIP/1000-1"}) {
		t.Error("Matches() = true with empty extension")
	}
}
