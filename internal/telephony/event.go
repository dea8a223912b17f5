package telephony

import (
	"strings"
	"sync"
	"time"

	"github.com/leadline/leadline/internal/bridge"
)

// EventKind identifies a normalized bridge event.
type EventKind string

const (
	KindNewChannel  EventKind = "Newchannel"
	KindHangup      EventKind = "Hangup"
	KindDialBegin   EventKind = "DialBegin"
	KindDialEnd     EventKind = "DialEnd"
	KindBridgeEnter EventKind = "BridgeEnter"
)

// bufferedKinds is the allow-list of kinds kept in the rolling event buffer.
// All kinds are still distributed to subscribers; the buffer only retains
// the ones relevant to call lifecycle.
var bufferedKinds = map[EventKind]bool{
	KindNewChannel:  true,
	KindHangup:      true,
	KindDialBegin:   true,
	KindDialEnd:     true,
	KindBridgeEnter: true,
}

// defaultBufferSize is the rolling event buffer capacity.
const defaultBufferSize = 10

// Event is a normalized, immutable bridge notification.
type Event struct {
	Kind         EventKind
	Channel      string
	DestChannel  string
	CallerIDNum  string
	CallerIDName string
	UniqueID     string
	DialStatus   string
	Cause        string
	CauseText    string
	Exten        string
	Context      string
	Timestamp    time.Time
}

// Normalize converts a raw bridge payload into an Event. It returns false
// when the payload has no event kind or carries neither a channel nor a
// unique id, which makes it uncorrelatable.
func Normalize(raw bridge.RawEvent, now time.Time) (Event, bool) {
	kind := raw["event"]
	if kind == "" {
		return Event{}, false
	}
	ev := Event{
		Kind:         EventKind(kind),
		Channel:      raw["channel"],
		DestChannel:  raw["destchannel"],
		CallerIDNum:  raw["calleridnum"],
		CallerIDName: raw["calleridname"],
		UniqueID:     raw["uniqueid"],
		DialStatus:   raw["dialstatus"],
		Cause:        raw["cause"],
		CauseText:    raw["causetxt"],
		Exten:        raw["exten"],
		Context:      raw["context"],
		Timestamp:    now,
	}
	if ev.Channel == "" && ev.UniqueID == "" {
		return Event{}, false
	}
	return ev, true
}

// IsTerminal reports whether the event signals the end of a call leg:
// a Hangup, or a DialEnd whose status is anything but ANSWER.
func (e Event) IsTerminal() bool {
	if e.Kind == KindHangup {
		return true
	}
	return e.Kind == KindDialEnd && !strings.EqualFold(e.DialStatus, "ANSWER")
}

// OutcomeText is the status text used for outcome classification: the dial
// status when present, otherwise the hangup cause text.
func (e Event) OutcomeText() string {
	if e.DialStatus != "" {
		return e.DialStatus
	}
	return e.CauseText
}

// Distributor normalizes raw bridge payloads and fans them out to
// subscribers synchronously, in arrival order. Filtering is each
// subscriber's responsibility. It also keeps a bounded rolling buffer of
// the most recent lifecycle events.
type Distributor struct {
	mu     sync.Mutex
	subs   map[int]func(Event)
	order  []int
	nextID int
	buf    []Event
	size   int
	clock  func() time.Time
}

// NewDistributor creates a distributor with the given buffer capacity.
// Non-positive values mean the default of 10.
func NewDistributor(bufferSize int) *Distributor {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Distributor{
		subs:  make(map[int]func(Event)),
		size:  bufferSize,
		clock: time.Now,
	}
}

// Publish normalizes raw and dispatches it to every subscriber. Payloads
// that cannot be normalized are dropped.
func (d *Distributor) Publish(raw bridge.RawEvent) {
	d.mu.Lock()
	ev, ok := Normalize(raw, d.clock())
	if !ok {
		d.mu.Unlock()
		return
	}
	if bufferedKinds[ev.Kind] {
		d.buf = append(d.buf, ev)
		if len(d.buf) > d.size {
			d.buf = d.buf[len(d.buf)-d.size:]
		}
	}
	fns := make([]func(Event), 0, len(d.order))
	for _, id := range d.order {
		if fn, ok := d.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribe registers a listener. Listeners are invoked in subscription
// order. The returned handle removes the listener.
func (d *Distributor) Subscribe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.order = append(d.order, id)
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// Recent returns a copy of the rolling event buffer, oldest first.
func (d *Distributor) Recent() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.buf))
	copy(out, d.buf)
	return out
}

// Clear empties the rolling buffer. Called on disconnect so stale events
// from a previous session cannot leak into the next one.
func (d *Distributor) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
}
