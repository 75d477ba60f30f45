package auth

// PollState is the state of the device grant polling loop.
type PollState int

const (
	StateIdle PollState = iota
	StatePending
	StateSlowDown
	StateSuccess
	StateExpired
	StateDenied
	// StateFailed covers protocol errors; StateCancelled covers user cancel
	// and supersession by a newer grant.
	StateFailed
	StateCancelled
)

var stateNames = map[PollState]string{
	StateIdle:      "idle",
	StatePending:   "pending",
	StateSlowDown:  "slow_down",
	StateSuccess:   "success",
	StateExpired:   "expired",
	StateDenied:    "denied",
	StateFailed:    "failed",
	StateCancelled: "cancelled",
}

func (s PollState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further poll can happen from this state.
func (s PollState) Terminal() bool {
	switch s {
	case StateSuccess, StateExpired, StateDenied, StateFailed, StateCancelled:
		return true
	}
	return false
}
