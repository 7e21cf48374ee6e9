package runner

// State is the phase the runner is in.
type State int32

const (
	StateIdle State = iota
	StateCollecting
	StateDeduplicating
	StateProcessing
	StatePersisting
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateDeduplicating:
		return "deduplicating"
	case StateProcessing:
		return "processing"
	case StatePersisting:
		return "persisting"
	case StateReporting:
		return "reporting"
	default:
		return "unknown"
	}
}
