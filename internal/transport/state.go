package transport

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ValidTransition lists the only edges the lifecycle may take.
func ValidTransition(from, to ConnectionState) bool {
	switch from {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == Connected || to == Failed || to == Disconnected
	case Connected:
		return to == Disconnected || to == Failed
	case Failed:
		return to == Disconnected
	}
	return false
}
