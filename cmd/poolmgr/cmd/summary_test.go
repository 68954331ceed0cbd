package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensandbox/poolmgr/internal/config"
	"github.com/opensandbox/poolmgr/pkg/types"
)

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	err := printSummary(&buf, types.PoolSummary{
		Backend:   "ec2",
		Blocksize: 1,
		MaxNodes:  4,
		Topology: types.Topology{
			VPCID:           "vpc-1",
			GatewayID:       "igw-1",
			RouteTableID:    "rtb-1",
			SubnetIDs:       []string{"subnet-a", "subnet-b"},
			SecurityGroupID: "sg-1",
		},
		Units: []types.Unit{
			{ID: "i-1", Status: types.StatusRunning, Blocksize: 1},
			{ID: "i-2", Status: types.StatusPending, Blocksize: 1, Label: "w"},
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Units:      2/4")
	assert.Contains(t, out, "subnet-a, subnet-b")
	assert.Contains(t, out, "i-2")
	assert.Equal(t, 1, strings.Count(out, "RUNNING"))
}

func TestPrintSummaryEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, types.PoolSummary{Backend: "slurm"}))
	assert.Contains(t, buf.String(), "No active units")
	assert.NotContains(t, buf.String(), "Network:")
}

func TestNewManagerLocalBackend(t *testing.T) {
	cfg := &config.Config{
		Backend:        config.BackendLocal,
		StateBackend:   config.StateFile,
		StatePath:      filepath.Join(t.TempDir(), "state.json"),
		Granularity:    1,
		MaxNodes:       2,
		TasksPerNode:   1,
		MaxParallelism: 1,
	}

	m, closeFn, err := newManager(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, "local", m.Backend())

	p := localPool{m: m}
	resp, err := p.ScaleOut(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.ScaleResponse{Units: 1, Blocksize: 1}, resp)
}
