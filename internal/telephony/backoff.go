package telephony

import "time"

// defaults for the reconnect backoff schedule.
const (
	defaultBackoffBase   = 2 * time.Second
	defaultBackoffGrowth = 1.5
	defaultBackoffCap    = 30 * time.Second
	defaultMaxAttempts   = 10
)

// backoff computes reconnect delays: delay(n) = min(base * growth^n, cap).
// The schedule is deterministic and non-decreasing in n.
type backoff struct {
	attempt int
	base    time.Duration
	growth  float64
	cap     time.Duration
}

func newBackoff(base time.Duration, growth float64, ceiling time.Duration) *backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if growth < 1 {
		growth = defaultBackoffGrowth
	}
	if ceiling <= 0 {
		ceiling = defaultBackoffCap
	}
	return &backoff{base: base, growth: growth, cap: ceiling}
}

// next returns the delay for the current attempt and advances the counter.
func (b *backoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

// current returns the delay for the current attempt without advancing.
func (b *backoff) current() time.Duration {
	d := float64(b.base)
	for i := 0; i < b.attempt; i++ {
		d *= b.growth
		if d >= float64(b.cap) {
			return b.cap
		}
	}
	if d > float64(b.cap) {
		return b.cap
	}
	return time.Duration(d)
}

func (b *backoff) reset() {
	b.attempt = 0
}
