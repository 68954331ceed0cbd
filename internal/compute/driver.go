package compute

import (
	"context"

	"github.com/opensandbox/poolmgr/pkg/types"
)

// Zone is a placement zone reported by the backend.
type Zone struct {
	Name      string
	Available bool
}

// Permission is one firewall rule. FromPort and ToPort are -1 for ICMP.
type Permission struct {
	Protocol string // "tcp", "udp", "icmp"
	FromPort int32
	ToPort   int32
	CIDR     string
}

// SecurityRules are the ingress and egress rules of a security group.
type SecurityRules struct {
	Name        string
	Description string
	Ingress     []Permission
	Egress      []Permission
}

// LaunchSpec describes a batch of identical units to start.
type LaunchSpec struct {
	InstanceType    string
	Image           string
	Count           int
	SubnetID        string
	SecurityGroupID string
	KeyName         string
	UserData        string
}

// SubmitResult is the raw outcome of a scheduler submission.
type SubmitResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Driver is implemented by every compute backend.
type Driver interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// DescribeUnits returns the native status code of every id the backend
	// still knows about. Ids it has forgotten are omitted, not errors.
	DescribeUnits(ctx context.Context, ids []string) (map[string]string, error)
	// TerminateUnits terminates or cancels the given units in one call.
	TerminateUnits(ctx context.Context, ids []string) error
	// StatusTable maps native status codes to canonical statuses.
	StatusTable() map[string]types.Status
}

// NetworkDriver creates and deletes the network scaffolding units attach to.
type NetworkDriver interface {
	DescribeZones(ctx context.Context) ([]Zone, error)

	CreateNetwork(ctx context.Context, cidr string) (string, error)
	DeleteNetwork(ctx context.Context, networkID string) error

	CreateGateway(ctx context.Context) (string, error)
	AttachGateway(ctx context.Context, gatewayID, networkID string) error
	DeleteGateway(ctx context.Context, gatewayID, networkID string) error

	CreateRouteTable(ctx context.Context, networkID string) (string, error)
	AddRoute(ctx context.Context, routeTableID, destCIDR, gatewayID string) error
	DeleteRouteTable(ctx context.Context, routeTableID string) error

	CreateSubnet(ctx context.Context, networkID, cidr, zone string) (string, error)
	AssociateSubnet(ctx context.Context, routeTableID, subnetID string) error
	DeleteSubnet(ctx context.Context, subnetID string) error

	CreateSecurityGroup(ctx context.Context, networkID string, rules SecurityRules) (string, error)
	DeleteSecurityGroup(ctx context.Context, groupID string) error
}

// InstanceDriver is a cloud VM backend.
type InstanceDriver interface {
	Driver
	NetworkDriver
	// StartUnits starts exactly spec.Count units or none.
	StartUnits(ctx context.Context, spec LaunchSpec) ([]string, error)
}

// BatchDriver is a batch scheduler backend.
type BatchDriver interface {
	Driver
	// SubmitJob hands a rendered job script to the scheduler. A non-nil
	// error means the scheduler could not be invoked at all.
	SubmitJob(ctx context.Context, scriptPath string) (SubmitResult, error)
}
