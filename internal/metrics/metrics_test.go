package metrics

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeConn struct {
	state    string
	attempts int
}

func (f *fakeConn) ConnectionState() string { return f.state }
func (f *fakeConn) ReconnectAttempts() int  { return f.attempts }

type fakeSession struct{ active bool }

func (f *fakeSession) HasActiveCall() bool { return f.active }

type fakeCounter struct {
	directions map[string]int64
	outcomes   map[string]int64
}

func (f *fakeCounter) CountByDirection(ctx context.Context) (map[string]int64, error) {
	return f.directions, nil
}

func (f *fakeCounter) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	return f.outcomes, nil
}

func gather(t *testing.T, c *Collector) map[string]string {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register collector: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]string)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			key := fam.GetName()
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetGauge() != nil:
				out[key] = formatValue(m.GetGauge().GetValue())
			case m.GetCounter() != nil:
				out[key] = formatValue(m.GetCounter().GetValue())
			}
		}
	}
	return out
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestCollectorConnectionState(t *testing.T) {
	conn := &fakeConn{state: "Connected", attempts: 3}
	c := NewCollector(conn, nil, nil, time.Now())

	metrics := gather(t, c)

	if got := metrics["leadline_bridge_connection_state{state=Connected}"]; got != "1" {
		t.Errorf("connected state gauge = %q, want 1", got)
	}
	if got := metrics["leadline_bridge_connection_state{state=Failed}"]; got != "0" {
		t.Errorf("failed state gauge = %q, want 0", got)
	}
	if got := metrics["leadline_bridge_reconnect_attempts"]; got != "3" {
		t.Errorf("reconnect attempts = %q, want 3", got)
	}
}

func TestCollectorActiveCall(t *testing.T) {
	c := NewCollector(nil, &fakeSession{active: true}, nil, time.Now())
	metrics := gather(t, c)
	if got := metrics["leadline_active_call"]; got != "1" {
		t.Errorf("active call gauge = %q, want 1", got)
	}

	c = NewCollector(nil, &fakeSession{active: false}, nil, time.Now())
	metrics = gather(t, c)
	if got := metrics["leadline_active_call"]; got != "0" {
		t.Errorf("idle call gauge = %q, want 0", got)
	}
}

func TestCollectorRecordCounts(t *testing.T) {
	counter := &fakeCounter{
		directions: map[string]int64{"incoming": 5, "outgoing": 12},
		outcomes:   map[string]int64{"Answered": 9, "Busy": 2},
	}
	c := NewCollector(nil, nil, counter, time.Now())

	metrics := gather(t, c)

	if got := metrics["leadline_calls_total{direction=outgoing}"]; got != "12" {
		t.Errorf("outgoing total = %q, want 12", got)
	}
	if got := metrics["leadline_calls_total{direction=incoming}"]; got != "5" {
		t.Errorf("incoming total = %q, want 5", got)
	}
	if got := metrics["leadline_call_outcomes_total{outcome=Answered}"]; got != "9" {
		t.Errorf("answered total = %q, want 9", got)
	}
	if got := metrics["leadline_call_outcomes_total{outcome=Busy}"]; got != "2" {
		t.Errorf("busy total = %q, want 2", got)
	}
}

func TestCollectorNilProviders(t *testing.T) {
	c := NewCollector(nil, nil, nil, time.Now().Add(-time.Minute))
	metrics := gather(t, c)

	if _, ok := metrics["leadline_uptime_seconds"]; !ok {
		t.Error("expected uptime metric even with nil providers")
	}
	if _, ok := metrics["leadline_active_call"]; ok {
		t.Error("active call metric should be absent with nil session provider")
	}
}
