package session

// State is the lifecycle state of a room.
type State int

const (
	StateWaiting State = iota
	StateReady
	StateNegotiating
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateReady:
		return "READY"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateActive:
		return "ACTIVE"
	case StateEnded:
		return "ENDED"
	}
	return "UNKNOWN"
}
