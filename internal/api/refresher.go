package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opensandbox/poolmgr/internal/metrics"
	"github.com/opensandbox/poolmgr/pkg/types"
)

var refreshedStatuses = []types.Status{
	types.StatusPending,
	types.StatusRunning,
	types.StatusCancelled,
	types.StatusCompleted,
	types.StatusFailed,
	types.StatusTimeout,
	types.StatusUnknown,
}

// Refresher periodically reconciles unit statuses so that gap-filled
// completions and status events surface without a dispatcher polling.
type Refresher struct {
	server   *Server
	interval time.Duration
	timeout  time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewRefresher creates a refresher for s. A non-positive interval defaults to 30s.
func (s *Server) NewRefresher(interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{
		server:   s,
		interval: interval,
		timeout:  interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.refresh()
			case <-r.stop:
				return
			}
		}
	}()
	logrus.Infof("refresher: status refresh started (interval=%s)", r.interval)
}

// Stop stops the refresh loop and waits for a refresh in flight.
func (r *Refresher) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.server.mu.Lock()
	sum, err := r.server.pool.Summary(ctx)
	r.server.mu.Unlock()
	if err != nil {
		logrus.Warnf("refresher: status refresh failed: %v", err)
		return
	}

	counts := make(map[types.Status]int, len(refreshedStatuses))
	for _, u := range sum.Units {
		counts[u.Status]++
	}
	for _, st := range refreshedStatuses {
		metrics.UnitsByStatus.WithLabelValues(sum.Backend, string(st)).Set(float64(counts[st]))
	}
	logrus.WithFields(logrus.Fields{
		"units":     len(sum.Units),
		"running":   counts[types.StatusRunning],
		"pending":   counts[types.StatusPending],
		"blocksize": sum.Blocksize,
	}).Debug("refresher: pool refreshed")
}
