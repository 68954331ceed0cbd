// Package network builds and removes the isolated network that VM-backed
// pool units attach to: a VPC, an internet gateway, a route table with a
// default route, one subnet per available zone and a security group.
package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opensandbox/poolmgr/internal/compute"
	"github.com/opensandbox/poolmgr/pkg/types"
)

const (
	// NetworkCIDR is the fixed address block of every pool network.
	NetworkCIDR = "172.32.0.0/16"
	anywhere    = "0.0.0.0/0"

	// a /16 holds sixteen /20 subnets
	maxSubnets = 16
)

// Step names used in errors, logs and metrics.
const (
	StepCreateNetwork       = "create-network"
	StepCreateGateway       = "create-gateway"
	StepAttachGateway       = "attach-gateway"
	StepCreateRouteTable    = "create-route-table"
	StepAddRoute            = "add-route"
	StepDescribeZones       = "describe-zones"
	StepCreateSubnet        = "create-subnet"
	StepAssociateSubnet     = "associate-subnet"
	StepCreateSecurityGroup = "create-security-group"
	StepDeleteGateway       = "delete-gateway"
	StepDeleteRouteTable    = "delete-route-table"
	StepDeleteSubnet        = "delete-subnet"
	StepDeleteSecurityGroup = "delete-security-group"
	StepDeleteNetwork       = "delete-network"
)

// ErrNoZones is returned, wrapped in a *ProvisioningError, when no zone
// could take a subnet. Units would have nowhere to launch.
var ErrNoZones = errors.New("no available zone for a subnet")

// ProvisioningError reports the step at which Create stopped. Topology holds
// everything created before the failure so the caller can destroy it.
type ProvisioningError struct {
	Step       string
	ResourceID string
	Topology   types.Topology
	Err        error
}

func (e *ProvisioningError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("network: %s failed (%s): %v", e.Step, e.ResourceID, e.Err)
	}
	return fmt.Sprintf("network: %s failed: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// TeardownError reports the step at which Destroy stopped.
type TeardownError struct {
	Step       string
	ResourceID string
	Err        error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("network: %s failed (%s): %v", e.Step, e.ResourceID, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// Provisioner creates and destroys pool network topologies.
type Provisioner struct {
	driver compute.NetworkDriver
}

// NewProvisioner returns a provisioner backed by driver.
func NewProvisioner(driver compute.NetworkDriver) *Provisioner {
	return &Provisioner{driver: driver}
}

// SecurityRules returns the rules applied to the pool security group: all
// TCP and UDP inside the network, ICMP from anywhere, and outbound TCP.
func SecurityRules() compute.SecurityRules {
	return compute.SecurityRules{
		Name:        "private-subnet",
		Description: "security group for remote executors",
		Ingress: []compute.Permission{
			{Protocol: "tcp", FromPort: 0, ToPort: 65535, CIDR: NetworkCIDR},
			{Protocol: "udp", FromPort: 0, ToPort: 65535, CIDR: NetworkCIDR},
			{Protocol: "icmp", FromPort: -1, ToPort: -1, CIDR: anywhere},
		},
		Egress: []compute.Permission{
			{Protocol: "tcp", FromPort: 0, ToPort: 65535, CIDR: anywhere},
			{Protocol: "tcp", FromPort: 0, ToPort: 65535, CIDR: NetworkCIDR},
			{Protocol: "udp", FromPort: 0, ToPort: 65535, CIDR: NetworkCIDR},
		},
	}
}

// SubnetCIDR returns the /20 block for the zone at index i of the zone list.
func SubnetCIDR(i int) string {
	return fmt.Sprintf("172.32.%d.0/20", 16*i)
}

// Create builds a new topology. On failure it returns the partial topology
// together with a *ProvisioningError.
func (p *Provisioner) Create(ctx context.Context) (*types.Topology, error) {
	topo := &types.Topology{}
	fail := func(step, id string, err error) (*types.Topology, error) {
		logrus.WithFields(logrus.Fields{"step": step, "resource": id}).
			Errorf("network: provisioning failed: %v", err)
		partial := *topo
		partial.SubnetIDs = append([]string(nil), topo.SubnetIDs...)
		return topo, &ProvisioningError{Step: step, ResourceID: id, Topology: partial, Err: err}
	}

	vpcID, err := p.driver.CreateNetwork(ctx, NetworkCIDR)
	if err != nil {
		return fail(StepCreateNetwork, "", err)
	}
	topo.VPCID = vpcID

	gwID, err := p.driver.CreateGateway(ctx)
	if err != nil {
		return fail(StepCreateGateway, "", err)
	}
	topo.GatewayID = gwID
	if err := p.driver.AttachGateway(ctx, gwID, vpcID); err != nil {
		return fail(StepAttachGateway, gwID, err)
	}

	rtID, err := p.driver.CreateRouteTable(ctx, vpcID)
	if err != nil {
		return fail(StepCreateRouteTable, vpcID, err)
	}
	topo.RouteTableID = rtID
	if err := p.driver.AddRoute(ctx, rtID, anywhere, gwID); err != nil {
		return fail(StepAddRoute, rtID, err)
	}

	zones, err := p.driver.DescribeZones(ctx)
	if err != nil {
		return fail(StepDescribeZones, "", err)
	}
	for i, zone := range zones {
		if !zone.Available {
			logrus.Warnf("network: zone %s unavailable, skipping subnet", zone.Name)
			continue
		}
		if i >= maxSubnets {
			logrus.Warnf("network: no address space left for zone %s, skipping subnet", zone.Name)
			continue
		}
		snID, err := p.driver.CreateSubnet(ctx, vpcID, SubnetCIDR(i), zone.Name)
		if err != nil {
			return fail(StepCreateSubnet, zone.Name, err)
		}
		topo.SubnetIDs = append(topo.SubnetIDs, snID)
		if err := p.driver.AssociateSubnet(ctx, rtID, snID); err != nil {
			return fail(StepAssociateSubnet, snID, err)
		}
	}
	if len(topo.SubnetIDs) == 0 {
		return fail(StepCreateSubnet, vpcID, fmt.Errorf("%w (%d zones reported)", ErrNoZones, len(zones)))
	}

	sgID, err := p.driver.CreateSecurityGroup(ctx, vpcID, SecurityRules())
	if sgID != "" {
		topo.SecurityGroupID = sgID
	}
	if err != nil {
		return fail(StepCreateSecurityGroup, sgID, err)
	}

	logrus.WithFields(logrus.Fields{
		"vpc":     topo.VPCID,
		"subnets": len(topo.SubnetIDs),
		"sg":      topo.SecurityGroupID,
	}).Info("network: topology created")
	return topo, nil
}

// Destroy deletes the gateway, route table, subnets, security group and
// network, in that order. Each id is cleared on topo as soon as it is
// deleted and ids that are already empty are skipped, so a Destroy that
// stopped part-way can be retried with the same topology. The first failure
// stops the teardown and is returned as a *TeardownError.
func (p *Provisioner) Destroy(ctx context.Context, topo *types.Topology) error {
	if topo == nil || topo.Empty() {
		return nil
	}
	fail := func(step, id string, err error) error {
		logrus.WithFields(logrus.Fields{"step": step, "resource": id}).
			Errorf("network: teardown stopped: %v", err)
		return &TeardownError{Step: step, ResourceID: id, Err: err}
	}

	if topo.GatewayID != "" {
		if err := p.driver.DeleteGateway(ctx, topo.GatewayID, topo.VPCID); err != nil {
			return fail(StepDeleteGateway, topo.GatewayID, err)
		}
		topo.GatewayID = ""
	}

	if topo.RouteTableID != "" {
		if err := p.driver.DeleteRouteTable(ctx, topo.RouteTableID); err != nil {
			return fail(StepDeleteRouteTable, topo.RouteTableID, err)
		}
		topo.RouteTableID = ""
	}

	for _, snID := range append([]string(nil), topo.SubnetIDs...) {
		if err := p.driver.DeleteSubnet(ctx, snID); err != nil {
			return fail(StepDeleteSubnet, snID, err)
		}
		topo.SubnetIDs = removeID(topo.SubnetIDs, snID)
	}
	topo.SubnetIDs = nil

	if topo.SecurityGroupID != "" {
		if err := p.driver.DeleteSecurityGroup(ctx, topo.SecurityGroupID); err != nil {
			return fail(StepDeleteSecurityGroup, topo.SecurityGroupID, err)
		}
		topo.SecurityGroupID = ""
	}

	if topo.VPCID != "" {
		if err := p.driver.DeleteNetwork(ctx, topo.VPCID); err != nil {
			return fail(StepDeleteNetwork, topo.VPCID, err)
		}
		topo.VPCID = ""
	}

	logrus.Info("network: topology destroyed")
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
