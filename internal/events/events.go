// Package events publishes pool lifecycle events for dispatchers and
// operators that want to follow the pool without polling it.
package events

import (
	"time"

	"github.com/opensandbox/poolmgr/pkg/types"
)

// Event types.
const (
	TypeUnitsStarted      = "units.started"
	TypeUnitsStopped      = "units.stopped"
	TypeJobSubmitted      = "job.submitted"
	TypeUnitsCancelled    = "units.cancelled"
	TypeStatusChanged     = "unit.status"
	TypeCapacityRejected  = "capacity.rejected"
	TypeTeardownCompleted = "pool.teardown"
)

// Event is the JSON payload published for every pool change.
type Event struct {
	Type      string       `json:"type"`
	Pool      string       `json:"pool"`
	Backend   string       `json:"backend"`
	UnitIDs   []string     `json:"unit_ids,omitempty"`
	Status    types.Status `json:"status,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Publisher delivers events. Publish must not block the caller on a slow
// or unreachable broker; delivery failures are logged, not returned.
type Publisher interface {
	Publish(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
