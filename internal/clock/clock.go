// Package clock abstracts time so that waits with timeouts can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the waits depend on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// After returns time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Deadline returns the channel a wait of length timeout should select on.
// A negative timeout never fires (nil channel); zero fires immediately.
func Deadline(c Clock, timeout time.Duration) <-chan time.Time {
	if timeout < 0 {
		return nil
	}
	if timeout == 0 {
		ch := make(chan time.Time, 1)
		ch <- c.Now()
		return ch
	}
	return c.After(timeout)
}
