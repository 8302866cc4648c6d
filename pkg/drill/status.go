package drill

// Status is the phase the rig is in.
type Status int

const (
	StatusRunning Status = iota
	StatusStopped
	StatusRetracting
	StatusExtended
	StatusCompleted
	// StatusError is never held by the controller. Start reports it in the
	// State published for a tick or command that failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusStopped:
		return "Stopped"
	case StatusRetracting:
		return "Retracting"
	case StatusExtended:
		return "Extended"
	case StatusCompleted:
		return "Completed"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
