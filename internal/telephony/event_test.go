package telephony

import (
	"fmt"
	"testing"
	"time"

	"github.com/leadline/leadline/internal/bridge"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name string
		raw  bridge.RawEvent
		want Event
		ok   bool
	}{
		{
			name: "hangup",
			raw: bridge.RawEvent{
				"event":       "Hangup",
				"channel":     "PJSIP/1000-00000042",
				"calleridnum": "5551234",
				"uniqueid":    "1757700000.42",
				"cause":       "16",
				"causetxt":    "Normal Clearing",
			},
			want: Event{
				Kind:        KindHangup,
				Channel:     "PJSIP/1000-00000042",
				CallerIDNum: "5551234",
				UniqueID:    "1757700000.42",
				Cause:       "16",
				CauseText:   "Normal Clearing",
				Timestamp:   now,
			},
			ok: true,
		},
		{
			name: "dial end with status",
			raw: bridge.RawEvent{
				"event":      "DialEnd",
				"uniqueid":   "1757700000.43",
				"dialstatus": "BUSY",
			},
			want: Event{
				Kind:       KindDialEnd,
				UniqueID:   "1757700000.43",
				DialStatus: "BUSY",
				Timestamp:  now,
			},
			ok: true,
		},
		{
			name: "missing event kind",
			raw:  bridge.RawEvent{"channel": "PJSIP/1000-1"},
			ok:   false,
		},
		{
			name: "no channel and no unique id",
			raw:  bridge.RawEvent{"event": "Hangup", "calleridnum": "5551234"},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw, now)
			if ok != tt.ok {
				t.Fatalf("Normalize() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEventIsTerminal(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"hangup", Event{Kind: KindHangup}, true},
		{"dial end busy", Event{Kind: KindDialEnd, DialStatus: "BUSY"}, true},
		{"dial end noanswer", Event{Kind: KindDialEnd, DialStatus: "NOANSWER"}, true},
		{"dial end answer", Event{Kind: KindDialEnd, DialStatus: "ANSWER"}, false},
		{"dial end answer lowercase", Event{Kind: KindDialEnd, DialStatus: "answer"}, false},
		{"dial begin", Event{Kind: KindDialBegin}, false},
		{"new channel", Event{Kind: KindNewChannel}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventOutcomeText(t *testing.T) {
	ev := Event{DialStatus: "BUSY", CauseText: "Normal Clearing"}
	if got := ev.OutcomeText(); got != "BUSY" {
		t.Errorf("OutcomeText() = %q, want BUSY (dial status wins)", got)
	}
	ev = Event{CauseText: "Normal Clearing"}
	if got := ev.OutcomeText(); got != "Normal Clearing" {
		t.Errorf("OutcomeText() = %q, want cause text fallback", got)
	}
}

func TestDistributorFanOutOrder(t *testing.T) {
	d := NewDistributor(0)

	var order []string
	d.Subscribe(func(ev Event) { order = append(order, "first") })
	d.Subscribe(func(ev Event) { order = append(order, "second") })

	d.Publish(bridge.RawEvent{"event": "Hangup", "uniqueid": "1.1"})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v, want [first second]", order)
	}
}

func TestDistributorUnsubscribe(t *testing.T) {
	d := NewDistributor(0)

	var calls int
	unsub := d.Subscribe(func(ev Event) { calls++ })

	d.Publish(bridge.RawEvent{"event": "Hangup", "uniqueid": "1.1"})
	unsub()
	d.Publish(bridge.RawEvent{"event": "Hangup", "uniqueid": "1.2"})

	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
}

func TestDistributorDropsUnusableEvents(t *testing.T) {
	d := NewDistributor(0)

	var calls int
	d.Subscribe(func(ev Event) { calls++ })

	d.Publish(bridge.RawEvent{"channel": "PJSIP/1000-1"})           // no kind
	d.Publish(bridge.RawEvent{"event": "Hangup"})                   // uncorrelatable
	d.Publish(bridge.RawEvent{"event": "Hangup", "uniqueid": "42"}) // fine

	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
}

func TestDistributorRollingBuffer(t *testing.T) {
	d := NewDistributor(10)

	for i := 0; i < 15; i++ {
		d.Publish(bridge.RawEvent{
			"event":    "Hangup",
			"uniqueid": fmt.Sprintf("1.%d", i),
		})
	}

	recent := d.Recent()
	if len(recent) != 10 {
		t.Fatalf("buffer holds %d events, want 10", len(recent))
	}
	if recent[0].UniqueID != "1.5" || recent[9].UniqueID != "1.14" {
		t.Errorf("buffer window = [%s..%s], want [1.5..1.14]",
			recent[0].UniqueID, recent[9].UniqueID)
	}
}

func TestDistributorBufferAllowList(t *testing.T) {
	d := NewDistributor(10)

	// Distributed to subscribers but not retained.
	var calls int
	d.Subscribe(func(ev Event) { calls++ })
	d.Publish(bridge.RawEvent{"event": "PeerStatus", "uniqueid": "1.1"})
	d.Publish(bridge.RawEvent{"event": "Newchannel", "uniqueid": "1.2"})

	if calls != 2 {
		t.Errorf("subscriber called %d times, want 2", calls)
	}
	recent := d.Recent()
	if len(recent) != 1 || recent[0].Kind != KindNewChannel {
		t.Errorf("buffer = %+v, want only the Newchannel event", recent)
	}
}

func TestDistributorClear(t *testing.T) {
	d := NewDistributor(10)
	d.Publish(bridge.RawEvent{"event": "Hangup", "uniqueid": "1.1"})
	d.Clear()
	if got := d.Recent(); len(got) != 0 {
		t.Errorf("Recent() after Clear = %v, want empty", got)
	}
}
