package nats

// ConnectionState is the lifecycle state of a Client. StateError is part of
// the state model shared with other bus clients; this client moves straight
// from a transport failure to StateReconnecting and never reports it.
type ConnectionState int

const (
	StateClosed ConnectionState = iota
	StateOpen
	StateError
	StateReconnecting
	StateClosing
)

func (state ConnectionState) String() string {
	switch state {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// DispatchMode selects how message handlers are scheduled.
type DispatchMode int

const (
	// DispatchOrdered runs each subscription's handler on its own worker in
	// arrival order.
	DispatchOrdered DispatchMode = iota
	// DispatchConcurrent runs every delivery on a new goroutine.
	DispatchConcurrent
)

func (mode DispatchMode) String() string {
	if mode == DispatchConcurrent {
		return "concurrent"
	}
	return "ordered"
}
