package auth

import "time"

// Clock abstracts time so that tests can drive the polling loop in virtual time.
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// After waits for d to elapse and then sends the current time on the returned channel
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock using the real system time
type RealClock struct{}

// Now returns the current time
func (RealClock) Now() time.Time {
	return time.Now()
}

// After delegates to time.After
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

var _ Clock = RealClock{}
