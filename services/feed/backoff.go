package feed

import "time"

// Backoff yields reconnect delays: Floor first, doubling on every call to Next up to
// Ceiling. Only Reset brings it back to Floor. It is not safe for concurrent use;
// the subscriber loop is its only writer.
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration
	current time.Duration
}

func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{Floor: floor, Ceiling: ceiling, current: floor}
}

// Current is the delay the next failure will wait.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := b.current * 2
	if next > b.Ceiling || next <= 0 {
		next = b.Ceiling
	}
	b.current = next
	return d
}

func (b *Backoff) Reset() {
	b.current = b.Floor
}
