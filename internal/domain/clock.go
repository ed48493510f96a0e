package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze "now" via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used for default windows. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current instant in UTC from the package clock.
func Now() time.Time {
	return clock.Now().UTC()
}
