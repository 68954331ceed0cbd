package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/opensandbox/poolmgr/internal/metrics"
	"github.com/opensandbox/poolmgr/pkg/types"
)

// summaryPool answers Summary only; the other methods are unused here.
type summaryPool struct {
	Pool
	calls atomic.Int32
	err   error
}

func (p *summaryPool) Summary(context.Context) (types.PoolSummary, error) {
	p.calls.Add(1)
	if p.err != nil {
		return types.PoolSummary{}, p.err
	}
	return types.PoolSummary{
		Backend: "refresh-test",
		Units: []types.Unit{
			{ID: "a", Status: types.StatusRunning},
			{ID: "b", Status: types.StatusRunning},
			{ID: "c", Status: types.StatusPending},
		},
	}, nil
}

func TestRefresherUpdatesStatusGauge(t *testing.T) {
	p := &summaryPool{}
	r := NewServer(p, testKey).NewRefresher(5 * time.Millisecond)
	r.Start()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.UnitsByStatus.WithLabelValues("refresh-test", "RUNNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UnitsByStatus.WithLabelValues("refresh-test", "PENDING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.UnitsByStatus.WithLabelValues("refresh-test", "FAILED")))

	// no refreshes after Stop returns
	n := p.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, p.calls.Load())
}

func TestRefresherSurvivesErrors(t *testing.T) {
	p := &summaryPool{err: errors.New("squeue: connection refused")}
	r := NewServer(p, testKey).NewRefresher(5 * time.Millisecond)
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestNewRefresherDefaultsInterval(t *testing.T) {
	r := NewServer(&summaryPool{}, testKey).NewRefresher(0)
	assert.Equal(t, 30*time.Second, r.interval)
}
