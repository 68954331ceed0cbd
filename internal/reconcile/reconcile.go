// Package reconcile turns a backend's native status report into canonical
// statuses.
//
// Batch schedulers stop listing jobs once they leave the queue, so a missing
// id carries information: a unit last seen PENDING or RUNNING that is no
// longer reported is taken to have COMPLETED. Absence cannot tell success
// from failure; that loss is accepted and logged. Terminal statuses are
// final and are never changed by a later report.
package reconcile

import (
	"github.com/opensandbox/poolmgr/pkg/types"
)

// Result is the outcome of one reconciliation.
type Result struct {
	// Statuses holds a canonical status for every requested id.
	Statuses map[string]types.Status
	// GapFilled lists ids that were absent from the report and were
	// reclassified as COMPLETED.
	GapFilled []string
}

// Translate maps a native status code through table. Codes missing from the
// table are UNKNOWN.
func Translate(code string, table map[string]types.Status) types.Status {
	if s, ok := table[code]; ok {
		return s
	}
	return types.StatusUnknown
}

// Reconcile computes the new status of every id in ids given the previously
// recorded statuses and the backend's native report.
func Reconcile(ids []string, previous map[string]types.Status, reported map[string]string, table map[string]types.Status) Result {
	res := Result{Statuses: make(map[string]types.Status, len(ids))}

	for _, id := range ids {
		prev, known := previous[id]
		if known && prev.Terminal() {
			res.Statuses[id] = prev
			continue
		}

		if code, ok := reported[id]; ok {
			res.Statuses[id] = Translate(code, table)
			continue
		}

		switch {
		case known && prev.Active():
			res.Statuses[id] = types.StatusCompleted
			res.GapFilled = append(res.GapFilled, id)
		case known && prev.Valid():
			res.Statuses[id] = prev
		default:
			res.Statuses[id] = types.StatusUnknown
		}
	}
	return res
}
