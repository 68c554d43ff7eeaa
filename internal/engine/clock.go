package engine

import "time"

// Clock supplies wall-clock time for reaction event timestamps and decay.
//
// Ordering never depends on it: the ledger sequence is the logical clock
// and replay never consults the wall clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}
