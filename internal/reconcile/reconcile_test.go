package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensandbox/poolmgr/pkg/types"
)

var slurmTable = map[string]types.Status{
	"PD": types.StatusPending,
	"R":  types.StatusRunning,
	"CG": types.StatusRunning,
	"CD": types.StatusCompleted,
	"CA": types.StatusCancelled,
	"F":  types.StatusFailed,
	"TO": types.StatusTimeout,
}

func TestTranslate(t *testing.T) {
	assert.Equal(t, types.StatusRunning, Translate("CG", slurmTable))
	assert.Equal(t, types.StatusTimeout, Translate("TO", slurmTable))
	assert.Equal(t, types.StatusUnknown, Translate("ZZ", slurmTable))
	assert.Equal(t, types.StatusUnknown, Translate("", slurmTable))
}

func TestReconcile_CompletingAndGapFill(t *testing.T) {
	previous := map[string]types.Status{
		"U1": types.StatusPending,
		"U2": types.StatusPending,
	}
	reported := map[string]string{"U1": "CG"}

	res := Reconcile([]string{"U1", "U2"}, previous, reported, slurmTable)

	assert.Equal(t, types.StatusRunning, res.Statuses["U1"])
	assert.Equal(t, types.StatusCompleted, res.Statuses["U2"])
	assert.Equal(t, []string{"U2"}, res.GapFilled)
}

func TestReconcile_IsTotal(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	previous := map[string]types.Status{
		"a": types.StatusRunning,
		"b": types.StatusFailed,
		"c": types.Status("garbage"),
	}
	reported := map[string]string{"a": "nonsense", "e": "R", "zz": "R"}

	res := Reconcile(ids, previous, reported, slurmTable)

	assert.Len(t, res.Statuses, len(ids))
	for _, id := range ids {
		s, ok := res.Statuses[id]
		assert.True(t, ok, "missing status for %s", id)
		assert.True(t, s.Valid(), "invalid status %q for %s", s, id)
	}
	assert.Equal(t, types.StatusUnknown, res.Statuses["a"])
	assert.Equal(t, types.StatusUnknown, res.Statuses["c"])
	assert.Equal(t, types.StatusUnknown, res.Statuses["d"])
	assert.Equal(t, types.StatusRunning, res.Statuses["e"])
}

func TestReconcile_TerminalIsFinal(t *testing.T) {
	terminal := []types.Status{
		types.StatusCancelled,
		types.StatusCompleted,
		types.StatusFailed,
		types.StatusTimeout,
	}
	for _, prev := range terminal {
		t.Run(string(prev), func(t *testing.T) {
			previous := map[string]types.Status{"x": prev}

			omitted := Reconcile([]string{"x"}, previous, nil, slurmTable)
			assert.Equal(t, prev, omitted.Statuses["x"])
			assert.Empty(t, omitted.GapFilled)

			requeried := Reconcile([]string{"x"}, previous, map[string]string{"x": "R"}, slurmTable)
			assert.Equal(t, prev, requeried.Statuses["x"])
		})
	}
}

func TestReconcile_UnknownPriorStaysUnknown(t *testing.T) {
	previous := map[string]types.Status{"x": types.StatusUnknown}
	res := Reconcile([]string{"x"}, previous, map[string]string{}, slurmTable)
	assert.Equal(t, types.StatusUnknown, res.Statuses["x"])
	assert.Empty(t, res.GapFilled)
}
