package telephony

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leadline/leadline/internal/database/models"
)

const (
	// defaultOriginationTTL bounds how long a pending origination stays
	// matchable before it is considered stale.
	defaultOriginationTTL = 30 * time.Second
	// consumedTTL bounds how long a terminated call's unique id is kept
	// for duplicate suppression.
	consumedTTL = 5 * time.Minute
	// sinkTimeout bounds the record store write.
	sinkTimeout = 5 * time.Second
)

// Direction values for call records.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// RecordSink is where finalized call records go.
type RecordSink interface {
	Create(ctx context.Context, rec *models.CallRecord) error
}

// PendingOrigination is a short-lived correlation hint recorded when a call
// is originated, consumed once a matching event or session termination
// arrives, or expired after the TTL.
type PendingOrigination struct {
	Number      string
	DisplayName string
	LeadID      *int64
	RequestedAt time.Time
}

// finalizedLeg remembers the last finalized session so late bridge events
// for its legs are suppressed even when the session never learned a unique
// id (a call ended by the user before any bridge event arrived).
type finalizedLeg struct {
	number  string
	channel string
	until   time.Time
}

// Correlator converts each terminated session, and each orphaned terminal
// bridge event, into exactly one durable call record. Duplicate terminal
// signals (a failing DialEnd followed by a Hangup for the same leg) are
// suppressed by a consumed-set keyed on the bridge unique id.
type Correlator struct {
	sink   RecordSink
	agent  AgentConfig
	ttl    time.Duration
	clock  func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	consumed  map[string]time.Time
	pending   []PendingOrigination
	finalized finalizedLeg
}

// NewCorrelator creates a correlator writing to sink. ttl bounds pending
// origination matching; non-positive means the 30s default.
func NewCorrelator(sink RecordSink, agent AgentConfig, ttl time.Duration, logger *slog.Logger) *Correlator {
	if ttl <= 0 {
		ttl = defaultOriginationTTL
	}
	return &Correlator{
		sink:     sink,
		agent:    agent,
		ttl:      ttl,
		clock:    time.Now,
		logger:   logger.With("subsystem", "correlator"),
		consumed: make(map[string]time.Time),
	}
}

// RegisterOrigination records a correlation hint for a just-originated call.
func (c *Correlator) RegisterOrigination(number, displayName string, leadID *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	c.pending = append(c.pending, PendingOrigination{
		Number:      number,
		DisplayName: displayName,
		LeadID:      leadID,
		RequestedAt: c.clock(),
	})
}

// DropOrigination removes the pending hint for a number, used when the
// bridge rejects the origination command.
func (c *Correlator) DropOrigination(number string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.Number != number {
			kept = append(kept, p)
		}
	}
	c.pending = kept
}

// OnSessionEnded finalizes a terminated session into one call record. It is
// wired as the session machine's ended callback and therefore runs before
// any subsequent terminal event for the same leg reaches HandleEvent.
func (c *Correlator) OnSessionEnded(call ActiveCall) {
	now := c.clock()

	c.mu.Lock()
	c.sweepLocked()
	if call.UniqueID != "" {
		if _, dup := c.consumed[call.UniqueID]; dup {
			c.mu.Unlock()
			return
		}
		c.consumed[call.UniqueID] = now
	}
	c.takePendingLocked(call.Number)
	c.finalized = finalizedLeg{
		number:  call.Number,
		channel: call.Channel,
		until:   now.Add(c.ttl),
	}
	c.mu.Unlock()

	outcome := "Cancelled"
	if call.AnsweredAt != nil {
		outcome = "Answered"
	}
	if call.EndEvent != nil {
		// A normal-clearing hangup after answer classifies as Unknown; the
		// answered fact is the better label then.
		if o := ClassifyOutcome(call.EndEvent.OutcomeText()); o != "Unknown" {
			outcome = o
		}
	}

	rec := &models.CallRecord{
		LeadName:  call.DisplayName,
		Phone:     call.Number,
		Duration:  int(now.Sub(call.StartTime).Seconds()),
		Outcome:   outcome,
		StartedAt: call.StartTime,
		Agent:     c.agent.AgentName(),
		Direction: DirectionOutgoing,
		LeadID:    call.LeadID,
	}
	c.store(rec)
}

// HandleEvent inspects distributed events for orphaned terminal legs: calls
// the bridge knows about but the session machine never tracked. Events for
// already-finalized legs are suppressed; events referencing neither a
// pending origination nor the agent's extension are ignored.
func (c *Correlator) HandleEvent(ev Event) {
	if !ev.IsTerminal() {
		return
	}

	now := c.clock()
	c.mu.Lock()
	c.sweepLocked()
	if ev.UniqueID == "" {
		// Without a unique id the leg cannot be deduplicated, and the
		// wire contract guarantees one of channel/uniqueid only.
		c.mu.Unlock()
		return
	}
	if _, dup := c.consumed[ev.UniqueID]; dup {
		c.mu.Unlock()
		return
	}
	if c.finalizedMatchLocked(ev, now) {
		c.consumed[ev.UniqueID] = now
		c.mu.Unlock()
		return
	}

	match := c.matchPendingLocked(ev)
	if match == nil && !c.referencesAgent(ev) {
		// CorrelationMiss: some other leg on the bridge. Never user-visible.
		c.mu.Unlock()
		return
	}
	c.consumed[ev.UniqueID] = now
	c.mu.Unlock()

	rec := &models.CallRecord{
		Phone:     ev.CallerIDNum,
		Duration:  0,
		Outcome:   ClassifyOutcome(ev.OutcomeText()),
		StartedAt: now,
		Agent:     c.agent.AgentName(),
		Direction: c.direction(ev),
	}
	if match != nil {
		rec.LeadName = match.DisplayName
		rec.Phone = match.Number
		rec.LeadID = match.LeadID
		rec.StartedAt = match.RequestedAt
		rec.Duration = int(now.Sub(match.RequestedAt).Seconds())
	} else {
		rec.LeadName = "Unknown contact"
	}
	c.store(rec)
}

// Clear drops pending originations and the consumed-set. Called on
// disconnect/logout.
func (c *Correlator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.consumed = make(map[string]time.Time)
	c.finalized = finalizedLeg{}
}

// finalizedMatchLocked reports whether ev is a late leg of the most recently
// finalized session. A session ended before its unique id was learned leaves
// nothing in the consumed-set, so its legs are matched here instead: by
// channel, by caller number suffix, or, for a bare agent-leg event carrying
// no caller number at all, by the agent extension. Caller holds c.mu.
func (c *Correlator) finalizedMatchLocked(ev Event, now time.Time) bool {
	if c.finalized.until.IsZero() || now.After(c.finalized.until) {
		return false
	}
	if c.finalized.channel != "" &&
		(ev.Channel == c.finalized.channel || ev.DestChannel == c.finalized.channel) {
		return true
	}
	num := ev.CallerIDNum
	if num == "" {
		num = ev.Exten
	}
	if num != "" && c.finalized.number != "" &&
		(strings.HasSuffix(num, c.finalized.number) || strings.HasSuffix(c.finalized.number, num)) {
		return true
	}
	return num == "" && c.referencesAgent(ev)
}

// matchPendingLocked finds and consumes a pending origination whose target
// number is a suffix of (or equal to) the event's caller id. Caller holds
// c.mu.
func (c *Correlator) matchPendingLocked(ev Event) *PendingOrigination {
	num := ev.CallerIDNum
	if num == "" {
		num = ev.Exten
	}
	if num == "" {
		return nil
	}
	for i, p := range c.pending {
		if strings.HasSuffix(num, p.Number) || strings.HasSuffix(p.Number, num) {
			match := p
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return &match
		}
	}
	return nil
}

// takePendingLocked consumes the pending hint for a number, if any.
func (c *Correlator) takePendingLocked(number string) {
	for i, p := range c.pending {
		if p.Number == number {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// sweepLocked expires stale pending originations and old consumed entries.
func (c *Correlator) sweepLocked() {
	now := c.clock()
	kept := c.pending[:0]
	for _, p := range c.pending {
		if now.Sub(p.RequestedAt) <= c.ttl {
			kept = append(kept, p)
		}
	}
	c.pending = kept
	for id, at := range c.consumed {
		if now.Sub(at) > consumedTTL {
			delete(c.consumed, id)
		}
	}
}

// referencesAgent reports whether the event involves the agent's extension.
func (c *Correlator) referencesAgent(ev Event) bool {
	ext := c.agent.Extension()
	if ext == "" {
		return false
	}
	return channelHasExtension(ev.Channel, ext) ||
		channelHasExtension(ev.DestChannel, ext) ||
		ev.CallerIDNum == ext || ev.Exten == ext
}

// direction classifies an orphaned leg: legs dialed out of the internal
// dial plan context are outgoing, everything else is incoming.
func (c *Correlator) direction(ev Event) string {
	dialCtx := c.agent.DialContext()
	if dialCtx != "" && strings.EqualFold(ev.Context, dialCtx) {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

// store writes the record, logging rather than failing the event path.
func (c *Correlator) store(rec *models.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := c.sink.Create(ctx, rec); err != nil {
		c.logger.Error("failed to store call record",
			"phone", rec.Phone,
			"outcome", rec.Outcome,
			"error", err,
		)
		return
	}
	c.logger.Info("call record stored",
		"phone", rec.Phone,
		"outcome", rec.Outcome,
		"duration_sec", rec.Duration,
	)
}

// outcomeLabels maps dial-status/hangup-cause fragments to outcome labels.
// Matching is case-insensitive substring; order matters because NOANSWER
// contains ANSWER.
var outcomeLabels = []struct {
	fragment string
	label    string
}{
	{"NOANSWER", "No Answer"},
	{"NO ANSWER", "No Answer"},
	{"ANSWER", "Answered"},
	{"BUSY", "Busy"},
	{"CONGESTION", "Network Busy"},
	{"CANCEL", "Cancelled"},
	{"CHANUNAVAIL", "Unavailable"},
}

// ClassifyOutcome maps bridge status text to a user-facing outcome label.
func ClassifyOutcome(text string) string {
	upper := strings.ToUpper(text)
	for _, m := range outcomeLabels {
		if strings.Contains(upper, m.fragment) {
			return m.label
		}
	}
	return "Unknown"
}
