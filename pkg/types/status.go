package types

// Status is the backend-agnostic lifecycle state of a provisioned unit.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusUnknown   Status = "UNKNOWN"
)

// Terminal reports whether the unit has left the backend for good.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Active reports whether the backend may still be running the unit.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCancelled, StatusCompleted,
		StatusFailed, StatusTimeout, StatusUnknown:
		return true
	}
	return false
}
