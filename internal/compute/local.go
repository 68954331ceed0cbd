package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensandbox/poolmgr/pkg/types"
)

// LocalDriver is an in-memory backend for development and tests. It
// implements both InstanceDriver and BatchDriver.
type LocalDriver struct {
	mu     sync.Mutex
	zones  []Zone
	seq    int
	units  map[string]string // unit id -> native code
	nets   map[string]string // network resource id -> kind
	calls  []string
	failOn map[string]error
}

// NewLocalDriver creates a local driver reporting the given zones. With no
// zones it reports a single available zone.
func NewLocalDriver(zones ...Zone) *LocalDriver {
	if len(zones) == 0 {
		zones = []Zone{{Name: "local-1a", Available: true}}
	}
	return &LocalDriver{
		zones:  zones,
		units:  make(map[string]string),
		nets:   make(map[string]string),
		failOn: make(map[string]error),
	}
}

func (d *LocalDriver) Name() string { return "local" }

// StatusTable accepts both EC2-style and Slurm-style codes.
func (d *LocalDriver) StatusTable() map[string]types.Status {
	table := make(map[string]types.Status, len(ec2StatusTable)+len(slurmStatusTable))
	for k, v := range ec2StatusTable {
		table[k] = v
	}
	for k, v := range slurmStatusTable {
		table[k] = v
	}
	return table
}

// FailOn makes every later call to op return err. A nil err clears it.
func (d *LocalDriver) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failOn, op)
		return
	}
	d.failOn[op] = err
}

// Calls returns the operations invoked so far, in order.
func (d *LocalDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// ResetCalls clears the call log.
func (d *LocalDriver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// SetState overrides the native code reported for a unit.
func (d *LocalDriver) SetState(id, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.units[id] = code
}

// Forget drops a unit so that DescribeUnits omits it.
func (d *LocalDriver) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.units, id)
}

// Units returns the ids the backend currently knows about.
func (d *LocalDriver) Units() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.units))
	for id := range d.units {
		ids = append(ids, id)
	}
	return ids
}

// NetworkResources returns the number of live network resources.
func (d *LocalDriver) NetworkResources() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nets)
}

func (d *LocalDriver) begin(op string) error {
	d.calls = append(d.calls, op)
	return d.failOn[op]
}

func (d *LocalDriver) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s-%04d", prefix, d.seq)
}

func (d *LocalDriver) create(op, prefix string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(op); err != nil {
		return "", err
	}
	id := d.nextID(prefix)
	d.nets[id] = prefix
	return id, nil
}

func (d *LocalDriver) remove(op, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(op); err != nil {
		return err
	}
	delete(d.nets, id)
	return nil
}

func (d *LocalDriver) touch(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begin(op)
}

func (d *LocalDriver) DescribeZones(_ context.Context) ([]Zone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("DescribeZones"); err != nil {
		return nil, err
	}
	return append([]Zone(nil), d.zones...), nil
}

func (d *LocalDriver) CreateNetwork(_ context.Context, _ string) (string, error) {
	return d.create("CreateNetwork", "vpc")
}

func (d *LocalDriver) DeleteNetwork(_ context.Context, id string) error {
	return d.remove("DeleteNetwork", id)
}

func (d *LocalDriver) CreateGateway(_ context.Context) (string, error) {
	return d.create("CreateGateway", "igw")
}

func (d *LocalDriver) AttachGateway(_ context.Context, _, _ string) error {
	return d.touch("AttachGateway")
}

func (d *LocalDriver) DeleteGateway(_ context.Context, id, _ string) error {
	return d.remove("DeleteGateway", id)
}

func (d *LocalDriver) CreateRouteTable(_ context.Context, _ string) (string, error) {
	return d.create("CreateRouteTable", "rtb")
}

func (d *LocalDriver) AddRoute(_ context.Context, _, _, _ string) error {
	return d.touch("AddRoute")
}

func (d *LocalDriver) DeleteRouteTable(_ context.Context, id string) error {
	return d.remove("DeleteRouteTable", id)
}

func (d *LocalDriver) CreateSubnet(_ context.Context, _, _, _ string) (string, error) {
	return d.create("CreateSubnet", "subnet")
}

func (d *LocalDriver) AssociateSubnet(_ context.Context, _, _ string) error {
	return d.touch("AssociateSubnet")
}

func (d *LocalDriver) DeleteSubnet(_ context.Context, id string) error {
	return d.remove("DeleteSubnet", id)
}

func (d *LocalDriver) CreateSecurityGroup(_ context.Context, _ string, _ SecurityRules) (string, error) {
	return d.create("CreateSecurityGroup", "sg")
}

func (d *LocalDriver) DeleteSecurityGroup(_ context.Context, id string) error {
	return d.remove("DeleteSecurityGroup", id)
}

func (d *LocalDriver) StartUnits(_ context.Context, spec LaunchSpec) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("StartUnits"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, spec.Count)
	for i := 0; i < spec.Count; i++ {
		id := d.nextID("i")
		d.units[id] = "pending"
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *LocalDriver) TerminateUnits(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("TerminateUnits"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(d.units, id)
	}
	return nil
}

func (d *LocalDriver) DescribeUnits(_ context.Context, ids []string) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("DescribeUnits"); err != nil {
		return nil, err
	}
	states := make(map[string]string, len(ids))
	for _, id := range ids {
		if code, ok := d.units[id]; ok {
			states[id] = code
		}
	}
	return states, nil
}

// SubmitJob accepts any script and acknowledges it the way sbatch does.
func (d *LocalDriver) SubmitJob(_ context.Context, _ string) (SubmitResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("SubmitJob"); err != nil {
		return SubmitResult{}, err
	}
	d.seq++
	id := fmt.Sprintf("%d", 1000+d.seq)
	d.units[id] = "PD"
	return SubmitResult{Stdout: "Submitted batch job " + id + "\n"}, nil
}
