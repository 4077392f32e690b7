package session

// State of a capture session.
//
//	Idle --Prepare--> Announced --Start--> Streaming --Stop--> Draining --> Idle
//
// Teardown runs the reverse steps from whatever point was reached.
type State int32

const (
	Idle State = iota
	Announced
	Streaming
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Announced:
		return "announced"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}
