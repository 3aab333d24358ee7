package service

// State is a step of the per-request attempt state machine.
type State int

const (
	Attempting State = iota
	Delaying
	Succeeded
	Failed
	Aborted
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Delaying:
		return "delaying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Aborted
}
