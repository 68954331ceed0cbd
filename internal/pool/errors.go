package pool

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupported is returned when the configured backend cannot perform
	// an operation, e.g. Submit on a VM pool.
	ErrUnsupported = errors.New("pool: operation not supported by backend")
	// ErrNoNetwork is returned by ScaleOut while the recorded network is
	// incomplete. Run Teardown to finish cleaning it up.
	ErrNoNetwork = errors.New("pool: network topology is incomplete")
	// ErrInvalidLabel is returned by Submit for a label that is not safe to
	// use in a job name.
	ErrInvalidLabel = errors.New("pool: invalid job label")
)

// ProvisioningError reports a failed backend call while starting or stopping units.
type ProvisioningError struct {
	Op      string
	UnitIDs []string
	Err     error
}

func (e *ProvisioningError) Error() string {
	if len(e.UnitIDs) > 0 {
		return fmt.Sprintf("pool: %s failed (%s): %v", e.Op, strings.Join(e.UnitIDs, ","), e.Err)
	}
	return fmt.Sprintf("pool: %s failed: %v", e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// RecoveryError reports why saved state could not be used on startup. It is
// logged, never returned: the manager falls back to a fresh bootstrap.
type RecoveryError struct {
	Location string
	Err      error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("pool: cannot recover from %s: %v", e.Location, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// TeardownError reports where Teardown stopped. The saved state reflects
// everything removed before the failure, so Teardown can be retried.
type TeardownError struct {
	Step       string
	ResourceID string
	Err        error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("pool: teardown stopped at %s (%s): %v", e.Step, e.ResourceID, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
