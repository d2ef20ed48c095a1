package transport

import "time"

// deadline is a single-shot expiry helper against the monotonic clock.
type deadline struct {
	d   time.Duration
	end time.Time
}

func newDeadline(d time.Duration) *deadline {
	t := &deadline{d: d}
	t.Reset()
	return t
}

// Reset restarts the full duration from now.
func (t *deadline) Reset() { t.end = time.Now().Add(t.d) }

// Expired reports whether the deadline has passed.
func (t *deadline) Expired() bool { return time.Now().After(t.end) }
