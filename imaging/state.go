package imaging

import "fmt"

// State is the job lifecycle position.
type State string

const (
	StatePending  State = "PENDING"
	StateOpen     State = "OPEN"
	StateActive   State = "ACTIVE"
	StateComplete State = "COMPLETE"
	StateError    State = "ERROR"
	StateAborted  State = "ABORTED"
)

func (s State) String() string { return string(s) }

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError || s == StateAborted
}

// ValidateTransition checks that moving from current to target is allowed.
func ValidateTransition(current, target State) error {
	if !isValidTransition(current, target) {
		return fmt.Errorf("%w: job state %s cannot move to %s", ErrInvalidParameter, current, target)
	}
	return nil
}

func isValidTransition(current, target State) bool {
	switch current {
	case StatePending:
		return target == StateOpen || target == StateError
	case StateOpen:
		// an empty range completes without ever reading
		return target == StateActive || target == StateComplete ||
			target == StateError || target == StateAborted
	case StateActive:
		return target == StateComplete || target == StateError || target == StateAborted
	}
	return false
}
