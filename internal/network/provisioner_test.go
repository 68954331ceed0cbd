package network

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensandbox/poolmgr/internal/compute"
)

func TestCreate_SkipsUnavailableZone(t *testing.T) {
	driver := compute.NewLocalDriver(
		compute.Zone{Name: "us-x-1a", Available: true},
		compute.Zone{Name: "us-x-1b", Available: true},
		compute.Zone{Name: "us-x-1c", Available: false},
	)
	p := NewProvisioner(driver)

	topo, err := p.Create(context.Background())
	require.NoError(t, err)
	assert.True(t, topo.Complete())
	assert.Len(t, topo.SubnetIDs, 2)
}

func TestCreate_CallOrder(t *testing.T) {
	driver := compute.NewLocalDriver()
	_, err := NewProvisioner(driver).Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CreateNetwork",
		"CreateGateway",
		"AttachGateway",
		"CreateRouteTable",
		"AddRoute",
		"DescribeZones",
		"CreateSubnet",
		"AssociateSubnet",
		"CreateSecurityGroup",
	}, driver.Calls())
}

func TestCreate_FailureReportsPartialTopology(t *testing.T) {
	driver := compute.NewLocalDriver()
	driver.FailOn("CreateSecurityGroup", errors.New("quota exceeded"))

	topo, err := NewProvisioner(driver).Create(context.Background())
	require.Error(t, err)

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StepCreateSecurityGroup, perr.Step)
	assert.NotEmpty(t, perr.Topology.VPCID)
	assert.Len(t, perr.Topology.SubnetIDs, 1)
	assert.Empty(t, perr.Topology.SecurityGroupID)
	assert.False(t, topo.Complete())
	assert.False(t, topo.Empty())
}

func TestDestroy_ReverseOrder(t *testing.T) {
	driver := compute.NewLocalDriver(
		compute.Zone{Name: "a", Available: true},
		compute.Zone{Name: "b", Available: true},
	)
	p := NewProvisioner(driver)
	topo, err := p.Create(context.Background())
	require.NoError(t, err)
	driver.ResetCalls()

	require.NoError(t, p.Destroy(context.Background(), topo))
	assert.True(t, topo.Empty())
	assert.Zero(t, driver.NetworkResources())
	assert.Equal(t, []string{
		"DeleteGateway",
		"DeleteRouteTable",
		"DeleteSubnet",
		"DeleteSubnet",
		"DeleteSecurityGroup",
		"DeleteNetwork",
	}, driver.Calls())
}

func TestDestroy_StopsAtFailureAndResumes(t *testing.T) {
	driver := compute.NewLocalDriver(
		compute.Zone{Name: "a", Available: true},
		compute.Zone{Name: "b", Available: true},
	)
	p := NewProvisioner(driver)
	topo, err := p.Create(context.Background())
	require.NoError(t, err)
	sgID := topo.SecurityGroupID

	driver.FailOn("DeleteSecurityGroup", errors.New("dependency violation"))
	err = p.Destroy(context.Background(), topo)

	var terr *TeardownError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, StepDeleteSecurityGroup, terr.Step)
	assert.Equal(t, sgID, terr.ResourceID)
	assert.Empty(t, topo.GatewayID)
	assert.Empty(t, topo.RouteTableID)
	assert.Empty(t, topo.SubnetIDs)
	assert.Equal(t, sgID, topo.SecurityGroupID)
	assert.NotEmpty(t, topo.VPCID)

	driver.FailOn("DeleteSecurityGroup", nil)
	driver.ResetCalls()
	require.NoError(t, p.Destroy(context.Background(), topo))
	assert.Equal(t, []string{"DeleteSecurityGroup", "DeleteNetwork"}, driver.Calls())
	assert.True(t, topo.Empty())
}

func TestDestroy_EmptyTopologyIsNoop(t *testing.T) {
	driver := compute.NewLocalDriver()
	require.NoError(t, NewProvisioner(driver).Destroy(context.Background(), nil))
	assert.Empty(t, driver.Calls())
}

func TestSubnetCIDR(t *testing.T) {
	assert.Equal(t, "172.32.0.0/20", SubnetCIDR(0))
	assert.Equal(t, "172.32.32.0/20", SubnetCIDR(2))
}

func TestCreate_NoAvailableZoneFails(t *testing.T) {
	driver := compute.NewLocalDriver(
		compute.Zone{Name: "us-x-1a", Available: false},
		compute.Zone{Name: "us-x-1b", Available: false},
	)

	topo, err := NewProvisioner(driver).Create(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoZones)

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StepCreateSubnet, perr.Step)
	assert.NotEmpty(t, perr.Topology.VPCID)
	assert.Empty(t, perr.Topology.SubnetIDs)
	assert.Zero(t, countOf(driver.Calls(), "CreateSubnet"))
	assert.Zero(t, countOf(driver.Calls(), "CreateSecurityGroup"))

	// the partial network is still destroyable
	require.NoError(t, NewProvisioner(driver).Destroy(context.Background(), topo))
	assert.Zero(t, driver.NetworkResources())
}

func countOf(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}
