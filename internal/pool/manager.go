// Package pool manages an elastic pool of compute units on behalf of a
// workload dispatcher.
//
// A Manager owns the in-memory pool record and is its only writer. Every
// operation that changes the record saves it before returning, so a crash
// between operations leaves the saved state matching the last completed one.
// A Manager is not safe for concurrent use, and only one Manager may use a
// given state record at a time.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opensandbox/poolmgr/internal/compute"
	"github.com/opensandbox/poolmgr/internal/events"
	"github.com/opensandbox/poolmgr/internal/metrics"
	"github.com/opensandbox/poolmgr/internal/network"
	"github.com/opensandbox/poolmgr/internal/reconcile"
	"github.com/opensandbox/poolmgr/internal/state"
	"github.com/opensandbox/poolmgr/pkg/types"
)

// Config holds the pool limits and launch parameters.
type Config struct {
	// Granularity is the number of units started or stopped together.
	Granularity int
	// MaxNodes caps the number of active units.
	MaxNodes int

	// VM launch parameters.
	InstanceType string
	Image        string
	KeyName      string
	UserData     string

	// Batch job parameters.
	TasksPerNode    float64
	MaxParallelism  float64
	SubmitScriptDir string
	JobTemplate     string // text/template source, empty for the built-in template
	Walltime        string
	Overrides       string // extra scheduler directives, verbatim

	// CallTimeout bounds each unit start/stop/describe/submit call. Zero
	// leaves calls bounded only by the caller's context.
	CallTimeout time.Duration

	// StatusRetention is how long a finished unit that left the pool stays
	// in the record and answers Status. Zero means 24h, negative never prunes.
	StatusRetention time.Duration
}

func (c *Config) setDefaults() {
	if c.Granularity <= 0 {
		c.Granularity = 1
	}
	if c.TasksPerNode <= 0 {
		c.TasksPerNode = 1
	}
	if c.SubmitScriptDir == "" {
		c.SubmitScriptDir = "submit_scripts"
	}
	if c.StatusRetention == 0 {
		c.StatusRetention = 24 * time.Hour
	}
}

// Deps are the collaborators of a Manager. Exactly one of Instances and
// Batch must be set. Events is optional.
type Deps struct {
	Store     state.Store
	Instances compute.InstanceDriver
	Batch     compute.BatchDriver
	Events    events.Publisher
}

// Manager is the elastic pool manager.
type Manager struct {
	cfg         Config
	store       state.Store
	driver      compute.Driver
	instances   compute.InstanceDriver
	batch       compute.BatchDriver
	provisioner *network.Provisioner
	events      events.Publisher
	jobTmpl     *template.Template
	log         *logrus.Entry
	now         func() time.Time

	topo     types.Topology
	active   []string
	statuses map[string]types.Status
	meta     map[string]state.UnitMeta
}

// New builds a Manager. It restores the saved pool record when one can be
// loaded; otherwise it bootstraps fresh infrastructure (a new network for a
// VM backend) and saves it immediately.
func New(ctx context.Context, cfg Config, deps Deps) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("pool: a state store is required")
	}
	if (deps.Instances == nil) == (deps.Batch == nil) {
		return nil, errors.New("pool: exactly one of an instance or a batch driver is required")
	}
	cfg.setDefaults()

	tmpl, err := parseJobTemplate(cfg.JobTemplate)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		store:     deps.Store,
		instances: deps.Instances,
		batch:     deps.Batch,
		events:    deps.Events,
		jobTmpl:   tmpl,
		now:       time.Now,
		statuses:  make(map[string]types.Status),
		meta:      make(map[string]state.UnitMeta),
	}
	if deps.Instances != nil {
		m.driver = deps.Instances
		m.provisioner = network.NewProvisioner(deps.Instances)
	} else {
		m.driver = deps.Batch
	}
	if m.events == nil {
		m.events = events.Nop{}
	}
	m.log = logrus.WithField("backend", m.driver.Name())

	doc, err := m.store.Load(ctx)
	if err != nil {
		rerr := &RecoveryError{Location: m.store.Location(), Err: err}
		if errors.Is(err, state.ErrNotFound) {
			m.log.Info("pool: no saved state, creating new infrastructure")
		} else {
			m.log.Warnf("%v; creating new infrastructure", rerr)
		}
		if err := m.bootstrap(ctx); err != nil {
			return nil, err
		}
		m.observe()
		return m, nil
	}

	m.restore(doc)
	m.log.WithFields(logrus.Fields{
		"location": m.store.Location(),
		"units":    len(m.active),
		"vpc":      m.topo.VPCID,
	}).Info("pool: recovered saved state")

	if m.provisioner != nil {
		switch {
		case m.topo.Empty():
			if err := m.bootstrap(ctx); err != nil {
				return nil, err
			}
		case !m.topo.Complete():
			m.log.Warn("pool: recovered a partial network topology; run teardown to finish cleanup")
		}
	}
	m.observe()
	return m, nil
}

// bootstrap creates a network (VM backends) and saves the fresh record. If
// network creation fails the partial network is destroyed; if that fails
// too, the partial topology is saved so it is not lost.
func (m *Manager) bootstrap(ctx context.Context) error {
	if m.provisioner == nil {
		return m.save(ctx)
	}

	topo, err := m.provisioner.Create(ctx)
	if err != nil {
		var perr *network.ProvisioningError
		if errors.As(err, &perr) {
			metrics.ProvisioningErrorsTotal.WithLabelValues(m.driver.Name(), perr.Step).Inc()
		}
		if topo == nil {
			return fmt.Errorf("pool: bootstrap network: %w", err)
		}
		if derr := m.provisioner.Destroy(ctx, topo); derr != nil {
			m.topo = *topo
			if serr := m.save(ctx); serr != nil {
				m.log.Errorf("pool: could not save partial topology: %v", serr)
			}
			return fmt.Errorf("pool: bootstrap network: %w (rollback stopped: %v)", err, derr)
		}
		return fmt.Errorf("pool: bootstrap network: %w", err)
	}

	m.topo = *topo
	return m.save(ctx)
}

func (m *Manager) restore(doc *state.Document) {
	m.topo = doc.Topology()
	m.active = append([]string(nil), doc.Instances...)
	for id, s := range doc.InstanceState {
		if !s.Valid() {
			s = types.StatusUnknown
		}
		m.statuses[id] = s
	}
	for _, id := range m.active {
		if _, ok := m.statuses[id]; !ok {
			m.statuses[id] = types.StatusUnknown
		}
	}
	for id, meta := range doc.Units {
		m.meta[id] = meta
	}
}

func (m *Manager) document() *state.Document {
	doc := &state.Document{
		Instances:     append([]string(nil), m.active...),
		InstanceState: make(map[string]types.Status, len(m.statuses)),
		Units:         make(map[string]state.UnitMeta, len(m.meta)),
	}
	doc.SetTopology(m.topo)
	for id, s := range m.statuses {
		doc.InstanceState[id] = s
	}
	for id, meta := range m.meta {
		doc.Units[id] = meta
	}
	return doc
}

func (m *Manager) save(ctx context.Context) error {
	m.prune()
	if err := m.store.Save(ctx, m.document()); err != nil {
		return fmt.Errorf("pool: persist state: %w", err)
	}
	return nil
}

// prune forgets finished units that left the pool more than
// StatusRetention ago. Records written before FinishedAt existed are
// stamped now and age out from there.
func (m *Manager) prune() {
	if m.cfg.StatusRetention < 0 {
		return
	}
	inPool := make(map[string]bool, len(m.active))
	for _, id := range m.active {
		inPool[id] = true
	}
	now := m.now().UTC()
	cutoff := now.Add(-m.cfg.StatusRetention)
	pruned := 0
	for id, st := range m.statuses {
		if inPool[id] || !st.Terminal() {
			continue
		}
		meta := m.meta[id]
		if meta.FinishedAt.IsZero() {
			meta.FinishedAt = now
			m.meta[id] = meta
			continue
		}
		if meta.FinishedAt.Before(cutoff) {
			delete(m.statuses, id)
			delete(m.meta, id)
			pruned++
		}
	}
	for id := range m.meta {
		if _, ok := m.statuses[id]; !ok && !inPool[id] {
			delete(m.meta, id)
		}
	}
	if pruned > 0 {
		m.log.Debugf("pool: pruned %d finished units", pruned)
	}
}

func (m *Manager) observe() {
	metrics.UnitsActive.WithLabelValues(m.driver.Name()).Set(float64(len(m.active)))
	metrics.Blocksize.WithLabelValues(m.driver.Name()).Set(float64(m.CurrentBlocksize()))
}

func (m *Manager) emit(typ string, ids []string, status types.Status, detail string) {
	m.events.Publish(events.Event{
		Type:      typ,
		Backend:   m.driver.Name(),
		UnitIDs:   ids,
		Status:    status,
		Detail:    detail,
		Timestamp: m.now().UTC(),
	})
}

func (m *Manager) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) addUnit(id string, blocksize float64, label string) {
	m.active = append(m.active, id)
	m.statuses[id] = types.StatusPending
	m.meta[id] = state.UnitMeta{Blocksize: blocksize, CreatedAt: m.now().UTC(), Label: label}
}

// setStatus records st for id and stamps the time it first became terminal.
func (m *Manager) setStatus(id string, st types.Status) {
	m.statuses[id] = st
	if !st.Terminal() {
		return
	}
	meta := m.meta[id]
	if meta.FinishedAt.IsZero() {
		meta.FinishedAt = m.now().UTC()
		m.meta[id] = meta
	}
}

func (m *Manager) removeActive(id string) bool {
	for i, v := range m.active {
		if v == id {
			m.active = append(m.active[:i], m.active[i+1:]...)
			return true
		}
	}
	return false
}

// CurrentBlocksize is the number of active units divided by the granularity.
func (m *Manager) CurrentBlocksize() int {
	return len(m.active) / m.cfg.Granularity
}

// CommittedParallelism is the summed blocksize of active units that the
// backend may still be running.
func (m *Manager) CommittedParallelism() float64 {
	var total float64
	for _, id := range m.active {
		if m.statuses[id].Terminal() {
			continue
		}
		total += m.meta[id].Blocksize
	}
	return total
}

// ActiveUnits returns the active unit ids, oldest first.
func (m *Manager) ActiveUnits() []string {
	return append([]string(nil), m.active...)
}

// Topology returns the recorded network topology.
func (m *Manager) Topology() types.Topology {
	t := m.topo
	t.SubnetIDs = append([]string(nil), m.topo.SubnetIDs...)
	return t
}

// Backend returns the name of the compute backend.
func (m *Manager) Backend() string { return m.driver.Name() }

// ScaleOut starts n blocks of Granularity units each and returns the number
// of units started. A request that would take the pool past MaxNodes is
// rejected whole: nothing is started and 0 is returned without an error.
func (m *Manager) ScaleOut(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	if m.instances == nil {
		return 0, ErrUnsupported
	}
	if !m.topo.Complete() {
		return 0, ErrNoNetwork
	}

	g := m.cfg.Granularity
	requested := n * g
	if total := len(m.active) + requested; total > m.cfg.MaxNodes {
		m.log.WithFields(logrus.Fields{
			"requested": requested,
			"active":    len(m.active),
			"max_nodes": m.cfg.MaxNodes,
		}).Warnf("pool: requested %d units would exceed max nodes (%d > %d), not scaling out",
			requested, total, m.cfg.MaxNodes)
		metrics.CapacityRejectionsTotal.WithLabelValues(m.driver.Name(), "scale-out").Inc()
		m.emit(events.TypeCapacityRejected, nil, "", fmt.Sprintf("scale-out of %d units", requested))
		return 0, nil
	}

	started := 0
	for b := 0; b < n; b++ {
		subnet := m.topo.SubnetIDs[(len(m.active)/g)%len(m.topo.SubnetIDs)]
		spec := compute.LaunchSpec{
			InstanceType:    m.cfg.InstanceType,
			Image:           m.cfg.Image,
			Count:           g,
			SubnetID:        subnet,
			SecurityGroupID: m.topo.SecurityGroupID,
			KeyName:         m.cfg.KeyName,
			UserData:        m.cfg.UserData,
		}

		cctx, cancel := m.callCtx(ctx)
		start := time.Now()
		ids, err := m.instances.StartUnits(cctx, spec)
		metrics.ObserveBackendCall(m.driver.Name(), "start-units", start)
		cancel()
		if err != nil {
			metrics.ProvisioningErrorsTotal.WithLabelValues(m.driver.Name(), "start-units").Inc()
			m.log.Errorf("pool: failed to start units after %d of %d: %v", started, requested, err)
			m.observe()
			return started, &ProvisioningError{Op: "start-units", Err: err}
		}
		if len(ids) != g {
			m.log.Warnf("pool: backend started %d units for a block of %d", len(ids), g)
		}

		for _, id := range ids {
			m.addUnit(id, 1, "")
		}
		started += len(ids)
		m.emit(events.TypeUnitsStarted, ids, types.StatusPending, subnet)
		if err := m.save(ctx); err != nil {
			m.observe()
			return started, err
		}
	}

	metrics.ScaleEventsTotal.WithLabelValues(m.driver.Name(), "out").Add(float64(started))
	m.observe()
	m.log.WithFields(logrus.Fields{
		"started":       started,
		"instance_type": m.cfg.InstanceType,
		"blocksize":     m.CurrentBlocksize(),
	}).Info("pool: scaled out")
	return started, nil
}

// ScaleIn stops up to n blocks of units, most recently started first, and
// returns the number of units stopped. It never stops more units than are
// active; on an empty pool it returns 0.
func (m *Manager) ScaleIn(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	if len(m.active) == 0 {
		m.log.Info("pool: no units to shut down")
		return 0, nil
	}

	count := n * m.cfg.Granularity
	if count > len(m.active) {
		count = len(m.active)
	}

	stopped := 0
	for i := 0; i < count; i++ {
		id := m.active[len(m.active)-1]

		// A unit that already finished has nothing left to terminate.
		if st := m.statuses[id]; st.Terminal() {
			m.active = m.active[:len(m.active)-1]
			stopped++
			m.log.Infof("pool: dropped unit %s, already %s", id, st)
			m.emit(events.TypeUnitsStopped, []string{id}, st, "")
			if err := m.save(ctx); err != nil {
				m.observe()
				return stopped, err
			}
			continue
		}

		cctx, cancel := m.callCtx(ctx)
		start := time.Now()
		err := m.driver.TerminateUnits(cctx, []string{id})
		metrics.ObserveBackendCall(m.driver.Name(), "terminate-units", start)
		cancel()
		if err != nil {
			metrics.ProvisioningErrorsTotal.WithLabelValues(m.driver.Name(), "terminate-units").Inc()
			m.log.Errorf("pool: failed to shut down unit %s: %v", id, err)
			m.observe()
			return stopped, &ProvisioningError{Op: "terminate-units", UnitIDs: []string{id}, Err: err}
		}

		m.active = m.active[:len(m.active)-1]
		m.setStatus(id, types.StatusCancelled)
		stopped++
		m.log.Infof("pool: shut down unit %s", id)
		m.emit(events.TypeUnitsStopped, []string{id}, types.StatusCancelled, "")
		if err := m.save(ctx); err != nil {
			m.observe()
			return stopped, err
		}
	}

	metrics.ScaleEventsTotal.WithLabelValues(m.driver.Name(), "in").Add(float64(stopped))
	m.observe()
	return stopped, nil
}

// Submit renders a job script for command, submits it to the batch
// scheduler and returns the scheduler's job id. It returns "" with no error
// when the pool is at MaxParallelism, when the scheduler exits non-zero, or
// when its acknowledgement carries no job id; in all those cases nothing is
// recorded. An error means the scheduler could not be invoked.
func (m *Manager) Submit(ctx context.Context, command string, blocksize float64, label string) (string, error) {
	if m.batch == nil {
		return "", ErrUnsupported
	}
	if label != "" && !validLabel.MatchString(label) {
		return "", fmt.Errorf("%w %q: use letters, digits, '.', '_' or '-', at most 64", ErrInvalidLabel, label)
	}

	if committed := m.CommittedParallelism(); committed >= m.cfg.MaxParallelism {
		m.log.WithFields(logrus.Fields{
			"committed":       committed,
			"max_parallelism": m.cfg.MaxParallelism,
		}).Warn("pool: at capacity, cannot add more blocks now")
		metrics.CapacityRejectionsTotal.WithLabelValues(m.driver.Name(), "submit").Inc()
		m.emit(events.TypeCapacityRejected, nil, "", fmt.Sprintf("submit of blocksize %v", blocksize))
		return "", nil
	}

	if label == "" {
		label = "auto"
	}
	nodes := int(math.Ceil(blocksize / m.cfg.TasksPerNode))
	if nodes < 1 {
		nodes = 1
	}
	jobName := fmt.Sprintf("poolmgr.%s.%s", label, strings.SplitN(uuid.NewString(), "-", 2)[0])
	m.log.Debugf("pool: requesting blocksize:%v tasks_per_node:%v nodes:%d", blocksize, m.cfg.TasksPerNode, nodes)

	scriptPath, err := writeJobScript(m.jobTmpl, jobScript{
		JobName:   jobName,
		Nodes:     nodes,
		Command:   command,
		ScriptDir: m.cfg.SubmitScriptDir,
		Walltime:  m.cfg.Walltime,
		Overrides: m.cfg.Overrides,
	})
	if err != nil {
		return "", err
	}

	cctx, cancel := m.callCtx(ctx)
	start := time.Now()
	res, err := m.batch.SubmitJob(cctx, scriptPath)
	metrics.ObserveBackendCall(m.driver.Name(), "submit", start)
	cancel()
	if err != nil {
		metrics.ProvisioningErrorsTotal.WithLabelValues(m.driver.Name(), "submit").Inc()
		return "", &ProvisioningError{Op: "submit", Err: err}
	}
	m.log.Debugf("pool: submit exit:%d stdout:%s stderr:%s",
		res.ExitCode, strings.TrimSpace(res.Stdout), strings.TrimSpace(res.Stderr))

	if res.ExitCode != 0 {
		m.log.Warnf("pool: submission of %s failed with exit code %d: %s",
			jobName, res.ExitCode, strings.TrimSpace(res.Stderr))
		return "", nil
	}
	id, ok := compute.ParseSubmitted(res.Stdout)
	if !ok {
		m.log.Warnf("pool: could not find a job id in the scheduler response for %s", jobName)
		return "", nil
	}

	m.addUnit(id, blocksize, label)
	m.emit(events.TypeJobSubmitted, []string{id}, types.StatusPending, label)
	if err := m.save(ctx); err != nil {
		return id, err
	}
	m.observe()
	m.log.WithFields(logrus.Fields{"job": id, "nodes": nodes, "label": label}).Info("pool: submitted job")
	return id, nil
}

// Cancel cancels ids with a single backend call. The returned flags follow
// the order of ids: all true when the backend accepted the call, all false
// otherwise. Cancelled units leave the active set and are recorded as
// CANCELLED.
func (m *Manager) Cancel(ctx context.Context, ids []string) ([]bool, error) {
	flags := make([]bool, len(ids))
	if len(ids) == 0 {
		return flags, nil
	}

	cctx, cancel := m.callCtx(ctx)
	start := time.Now()
	err := m.driver.TerminateUnits(cctx, ids)
	metrics.ObserveBackendCall(m.driver.Name(), "cancel", start)
	cancel()
	if err != nil {
		m.log.Warnf("pool: cancel of %s failed: %v", strings.Join(ids, ","), err)
		return flags, nil
	}

	for i, id := range ids {
		flags[i] = true
		if _, known := m.statuses[id]; known {
			m.setStatus(id, types.StatusCancelled)
		}
		m.removeActive(id)
	}
	m.emit(events.TypeUnitsCancelled, ids, types.StatusCancelled, "")
	if err := m.save(ctx); err != nil {
		return flags, err
	}
	m.observe()
	return flags, nil
}

// Status refreshes and returns the canonical status of each id, in order.
// Only ids the pool knows and that are not yet terminal are queried; ids the
// pool never created are UNKNOWN.
func (m *Manager) Status(ctx context.Context, ids []string) ([]types.Status, error) {
	var query []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		s, known := m.statuses[id]
		if !known || s.Terminal() || seen[id] {
			continue
		}
		seen[id] = true
		query = append(query, id)
	}

	reported := map[string]string{}
	if len(query) > 0 {
		cctx, cancel := m.callCtx(ctx)
		start := time.Now()
		var err error
		reported, err = m.driver.DescribeUnits(cctx, query)
		metrics.ObserveBackendCall(m.driver.Name(), "describe-units", start)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("pool: describe units: %w", err)
		}
	}

	res := reconcile.Reconcile(ids, m.statuses, reported, m.driver.StatusTable())
	for _, id := range res.GapFilled {
		m.log.Warnf("pool: unit %s no longer reported by backend, marking %s", id, types.StatusCompleted)
	}
	metrics.GapFillsTotal.WithLabelValues(m.driver.Name()).Add(float64(len(res.GapFilled)))

	changed := false
	out := make([]types.Status, len(ids))
	for i, id := range ids {
		out[i] = res.Statuses[id]
		if prev, known := m.statuses[id]; known && prev != out[i] {
			m.setStatus(id, out[i])
			changed = true
			m.emit(events.TypeStatusChanged, []string{id}, out[i], string(prev))
		}
	}
	if changed {
		if err := m.save(ctx); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Teardown terminates every active unit, destroys the network and deletes
// the saved record. If a step fails the record is saved with whatever was
// already removed and a *TeardownError is returned; calling Teardown again
// resumes from there. Teardown on a pool with nothing left makes no backend
// calls.
func (m *Manager) Teardown(ctx context.Context) error {
	if len(m.active) == 0 && m.topo.Empty() {
		return m.store.Delete(ctx)
	}

	if len(m.active) > 0 {
		// Units that already finished are dropped without a backend call.
		var ids []string
		for _, id := range m.active {
			if !m.statuses[id].Terminal() {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			cctx, cancel := m.callCtx(ctx)
			start := time.Now()
			err := m.driver.TerminateUnits(cctx, ids)
			metrics.ObserveBackendCall(m.driver.Name(), "terminate-units", start)
			cancel()
			if err != nil {
				metrics.ProvisioningErrorsTotal.WithLabelValues(m.driver.Name(), "terminate-units").Inc()
				m.log.Errorf("pool: teardown could not terminate units: %v", err)
				return &TeardownError{Step: "terminate-units", ResourceID: strings.Join(ids, ","), Err: err}
			}
		}
		for _, id := range ids {
			m.setStatus(id, types.StatusCancelled)
		}
		m.log.Infof("pool: shut down %d units, dropped %d already finished", len(ids), len(m.active)-len(ids))
		m.active = nil
		if err := m.save(ctx); err != nil {
			return err
		}
		m.observe()
	}

	if m.provisioner != nil && !m.topo.Empty() {
		if err := m.provisioner.Destroy(ctx, &m.topo); err != nil {
			terr := &TeardownError{Step: "destroy-network", Err: err}
			var nerr *network.TeardownError
			if errors.As(err, &nerr) {
				terr.Step, terr.ResourceID = nerr.Step, nerr.ResourceID
			}
			metrics.ProvisioningErrorsTotal.WithLabelValues(m.driver.Name(), terr.Step).Inc()
			if serr := m.save(ctx); serr != nil {
				m.log.Errorf("pool: could not save partial teardown: %v", serr)
			}
			m.log.Errorf("%v", terr)
			return terr
		}
	}

	if err := m.store.Delete(ctx); err != nil {
		return err
	}
	m.topo = types.Topology{}
	m.statuses = make(map[string]types.Status)
	m.meta = make(map[string]state.UnitMeta)
	m.observe()
	m.emit(events.TypeTeardownCompleted, nil, "", "")
	m.log.Info("pool: teardown complete")
	return nil
}

// Summary refreshes the status of every active unit and reports the pool.
func (m *Manager) Summary(ctx context.Context) (types.PoolSummary, error) {
	ids := m.ActiveUnits()
	if _, err := m.Status(ctx, ids); err != nil {
		return types.PoolSummary{}, err
	}

	units := make([]types.Unit, 0, len(ids))
	for _, id := range ids {
		meta := m.meta[id]
		units = append(units, types.Unit{
			ID:        id,
			Status:    m.statuses[id],
			Blocksize: meta.Blocksize,
			CreatedAt: meta.CreatedAt,
			Label:     meta.Label,
		})
	}
	return types.PoolSummary{
		Backend:   m.driver.Name(),
		Topology:  m.Topology(),
		Units:     units,
		Blocksize: m.CurrentBlocksize(),
		MaxNodes:  m.cfg.MaxNodes,
	}, nil
}
