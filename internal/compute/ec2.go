package compute

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/opensandbox/poolmgr/pkg/types"
)

const (
	tagPool = "poolmgr:pool"
	tagRole = "poolmgr:role"

	// ssmImagePrefix marks an image that names an SSM parameter holding the
	// AMI id, e.g. "ssm:/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64".
	ssmImagePrefix = "ssm:"
)

// ec2StatusTable maps EC2 instance state names to canonical statuses.
var ec2StatusTable = map[string]types.Status{
	string(ec2types.InstanceStateNamePending):      types.StatusPending,
	string(ec2types.InstanceStateNameRunning):      types.StatusRunning,
	string(ec2types.InstanceStateNameShuttingDown): types.StatusCancelled,
	string(ec2types.InstanceStateNameTerminated):   types.StatusCancelled,
	string(ec2types.InstanceStateNameStopping):     types.StatusCancelled,
	string(ec2types.InstanceStateNameStopped):      types.StatusCancelled,
}

// ec2API is the subset of *ec2.Client used by EC2Driver.
type ec2API interface {
	DescribeAvailabilityZones(ctx context.Context, in *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
	CreateVpc(ctx context.Context, in *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	DeleteVpc(ctx context.Context, in *ec2.DeleteVpcInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error)
	CreateInternetGateway(ctx context.Context, in *ec2.CreateInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error)
	AttachInternetGateway(ctx context.Context, in *ec2.AttachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error)
	DetachInternetGateway(ctx context.Context, in *ec2.DetachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error)
	DeleteInternetGateway(ctx context.Context, in *ec2.DeleteInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error)
	CreateRouteTable(ctx context.Context, in *ec2.CreateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error)
	CreateRoute(ctx context.Context, in *ec2.CreateRouteInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error)
	DescribeRouteTables(ctx context.Context, in *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
	DisassociateRouteTable(ctx context.Context, in *ec2.DisassociateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.DisassociateRouteTableOutput, error)
	DeleteRouteTable(ctx context.Context, in *ec2.DeleteRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.DeleteRouteTableOutput, error)
	CreateSubnet(ctx context.Context, in *ec2.CreateSubnetInput, optFns ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error)
	AssociateRouteTable(ctx context.Context, in *ec2.AssociateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.AssociateRouteTableOutput, error)
	DeleteSubnet(ctx context.Context, in *ec2.DeleteSubnetInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error)
	CreateSecurityGroup(ctx context.Context, in *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	AuthorizeSecurityGroupEgress(ctx context.Context, in *ec2.AuthorizeSecurityGroupEgressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupEgressOutput, error)
	DeleteSecurityGroup(ctx context.Context, in *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// ssmAPI is the subset of *ssm.Client used to resolve image parameters.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// EC2Config configures the EC2 driver.
type EC2Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PoolName        string // tag value identifying resources owned by this pool
}

// EC2Driver implements InstanceDriver on AWS EC2.
type EC2Driver struct {
	client ec2API
	params ssmAPI
	cfg    EC2Config
}

// NewEC2Driver creates an EC2 driver.
// If AccessKeyID is empty, uses the default AWS credential chain (IAM instance profile, env vars, etc.).
func NewEC2Driver(ctx context.Context, cfg EC2Config) (*EC2Driver, error) {
	var awsCfg aws.Config

	if cfg.AccessKeyID != "" {
		awsCfg = aws.Config{
			Region: cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		}
	} else {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("ec2: failed to load AWS config: %w", err)
		}
	}

	d := newEC2Driver(ec2.NewFromConfig(awsCfg), cfg)
	d.params = ssm.NewFromConfig(awsCfg)
	return d, nil
}

func newEC2Driver(client ec2API, cfg EC2Config) *EC2Driver {
	if cfg.PoolName == "" {
		cfg.PoolName = "poolmgr"
	}
	return &EC2Driver{client: client, cfg: cfg}
}

func (d *EC2Driver) Name() string { return "ec2" }

func (d *EC2Driver) StatusTable() map[string]types.Status { return ec2StatusTable }

func (d *EC2Driver) tags(resource ec2types.ResourceType, role string) []ec2types.TagSpecification {
	return []ec2types.TagSpecification{
		{
			ResourceType: resource,
			Tags: []ec2types.Tag{
				{Key: aws.String("Name"), Value: aws.String(d.cfg.PoolName + "-" + role)},
				{Key: aws.String(tagPool), Value: aws.String(d.cfg.PoolName)},
				{Key: aws.String(tagRole), Value: aws.String(role)},
			},
		},
	}
}

func (d *EC2Driver) DescribeZones(ctx context.Context) ([]Zone, error) {
	out, err := d.client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, fmt.Errorf("ec2: DescribeAvailabilityZones failed: %w", err)
	}
	zones := make([]Zone, 0, len(out.AvailabilityZones))
	for _, z := range out.AvailabilityZones {
		zones = append(zones, Zone{
			Name:      aws.ToString(z.ZoneName),
			Available: z.State == ec2types.AvailabilityZoneStateAvailable,
		})
	}
	return zones, nil
}

func (d *EC2Driver) CreateNetwork(ctx context.Context, cidr string) (string, error) {
	out, err := d.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(cidr),
		TagSpecifications: d.tags(ec2types.ResourceTypeVpc, "vpc"),
	})
	if err != nil {
		return "", fmt.Errorf("ec2: CreateVpc failed: %w", err)
	}
	return aws.ToString(out.Vpc.VpcId), nil
}

func (d *EC2Driver) DeleteNetwork(ctx context.Context, networkID string) error {
	_, err := d.client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(networkID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("ec2: DeleteVpc failed for %s: %w", networkID, err)
	}
	return nil
}

func (d *EC2Driver) CreateGateway(ctx context.Context) (string, error) {
	out, err := d.client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: d.tags(ec2types.ResourceTypeInternetGateway, "igw"),
	})
	if err != nil {
		return "", fmt.Errorf("ec2: CreateInternetGateway failed: %w", err)
	}
	return aws.ToString(out.InternetGateway.InternetGatewayId), nil
}

func (d *EC2Driver) AttachGateway(ctx context.Context, gatewayID, networkID string) error {
	_, err := d.client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(gatewayID),
		VpcId:             aws.String(networkID),
	})
	if err != nil {
		return fmt.Errorf("ec2: AttachInternetGateway failed for %s: %w", gatewayID, err)
	}
	return nil
}

// DeleteGateway detaches the gateway from networkID (when set) and deletes it.
func (d *EC2Driver) DeleteGateway(ctx context.Context, gatewayID, networkID string) error {
	if networkID != "" {
		_, err := d.client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(gatewayID),
			VpcId:             aws.String(networkID),
		})
		if err != nil && !IsNotFound(err) && !isEC2ErrorCode(err, "Gateway.NotAttached") {
			return fmt.Errorf("ec2: DetachInternetGateway failed for %s: %w", gatewayID, err)
		}
	}
	_, err := d.client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
		InternetGatewayId: aws.String(gatewayID),
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("ec2: DeleteInternetGateway failed for %s: %w", gatewayID, err)
	}
	return nil
}

func (d *EC2Driver) CreateRouteTable(ctx context.Context, networkID string) (string, error) {
	out, err := d.client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId:             aws.String(networkID),
		TagSpecifications: d.tags(ec2types.ResourceTypeRouteTable, "rtb"),
	})
	if err != nil {
		return "", fmt.Errorf("ec2: CreateRouteTable failed: %w", err)
	}
	return aws.ToString(out.RouteTable.RouteTableId), nil
}

func (d *EC2Driver) AddRoute(ctx context.Context, routeTableID, destCIDR, gatewayID string) error {
	_, err := d.client.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         aws.String(routeTableID),
		DestinationCidrBlock: aws.String(destCIDR),
		GatewayId:            aws.String(gatewayID),
	})
	if err != nil {
		return fmt.Errorf("ec2: CreateRoute failed for %s: %w", routeTableID, err)
	}
	return nil
}

// DeleteRouteTable removes subnet associations before deleting the table;
// EC2 refuses to delete a table that is still associated.
func (d *EC2Driver) DeleteRouteTable(ctx context.Context, routeTableID string) error {
	out, err := d.client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		RouteTableIds: []string{routeTableID},
	})
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ec2: DescribeRouteTables failed for %s: %w", routeTableID, err)
	}
	for _, rt := range out.RouteTables {
		for _, assoc := range rt.Associations {
			if aws.ToBool(assoc.Main) {
				continue
			}
			_, err := d.client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
				AssociationId: assoc.RouteTableAssociationId,
			})
			if err != nil {
				return fmt.Errorf("ec2: DisassociateRouteTable failed for %s: %w",
					aws.ToString(assoc.RouteTableAssociationId), err)
			}
		}
	}

	_, err = d.client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(routeTableID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("ec2: DeleteRouteTable failed for %s: %w", routeTableID, err)
	}
	return nil
}

func (d *EC2Driver) CreateSubnet(ctx context.Context, networkID, cidr, zone string) (string, error) {
	out, err := d.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:             aws.String(networkID),
		CidrBlock:         aws.String(cidr),
		AvailabilityZone:  aws.String(zone),
		TagSpecifications: d.tags(ec2types.ResourceTypeSubnet, "subnet"),
	})
	if err != nil {
		return "", fmt.Errorf("ec2: CreateSubnet failed in %s: %w", zone, err)
	}
	return aws.ToString(out.Subnet.SubnetId), nil
}

func (d *EC2Driver) AssociateSubnet(ctx context.Context, routeTableID, subnetID string) error {
	_, err := d.client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: aws.String(routeTableID),
		SubnetId:     aws.String(subnetID),
	})
	if err != nil {
		return fmt.Errorf("ec2: AssociateRouteTable failed for %s: %w", subnetID, err)
	}
	return nil
}

func (d *EC2Driver) DeleteSubnet(ctx context.Context, subnetID string) error {
	_, err := d.client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(subnetID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("ec2: DeleteSubnet failed for %s: %w", subnetID, err)
	}
	return nil
}

func (d *EC2Driver) CreateSecurityGroup(ctx context.Context, networkID string, rules SecurityRules) (string, error) {
	out, err := d.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(rules.Name),
		Description:       aws.String(rules.Description),
		VpcId:             aws.String(networkID),
		TagSpecifications: d.tags(ec2types.ResourceTypeSecurityGroup, "sg"),
	})
	if err != nil {
		return "", fmt.Errorf("ec2: CreateSecurityGroup failed: %w", err)
	}
	groupID := aws.ToString(out.GroupId)

	if len(rules.Ingress) > 0 {
		_, err = d.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: toIPPermissions(rules.Ingress),
		})
		if err != nil {
			return groupID, fmt.Errorf("ec2: AuthorizeSecurityGroupIngress failed for %s: %w", groupID, err)
		}
	}
	if len(rules.Egress) > 0 {
		_, err = d.client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: toIPPermissions(rules.Egress),
		})
		// New groups carry a default allow-all egress rule; overlapping rules are fine.
		if err != nil && !isEC2ErrorCode(err, "InvalidPermission.Duplicate") {
			return groupID, fmt.Errorf("ec2: AuthorizeSecurityGroupEgress failed for %s: %w", groupID, err)
		}
	}
	return groupID, nil
}

func (d *EC2Driver) DeleteSecurityGroup(ctx context.Context, groupID string) error {
	_, err := d.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(groupID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("ec2: DeleteSecurityGroup failed for %s: %w", groupID, err)
	}
	return nil
}

func (d *EC2Driver) StartUnits(ctx context.Context, spec LaunchSpec) ([]string, error) {
	if spec.Count <= 0 {
		return nil, nil
	}

	image, err := d.resolveImage(ctx, spec.Image)
	if err != nil {
		return nil, err
	}

	input := &ec2.RunInstancesInput{
		ImageId:           aws.String(image),
		InstanceType:      ec2types.InstanceType(spec.InstanceType),
		MinCount:          aws.Int32(int32(spec.Count)),
		MaxCount:          aws.Int32(int32(spec.Count)),
		TagSpecifications: d.tags(ec2types.ResourceTypeInstance, "worker"),
	}
	if spec.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData)))
	}
	if spec.SubnetID != "" {
		input.SubnetId = aws.String(spec.SubnetID)
	}
	if spec.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{spec.SecurityGroupID}
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}

	result, err := d.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ec2: RunInstances failed: %w", err)
	}
	if len(result.Instances) == 0 {
		return nil, fmt.Errorf("ec2: no instances returned")
	}

	ids := make([]string, 0, len(result.Instances))
	for _, inst := range result.Instances {
		ids = append(ids, aws.ToString(inst.InstanceId))
	}
	return ids, nil
}

// resolveImage returns image unchanged unless it names an SSM parameter, in
// which case the parameter's current value is the AMI id.
func (d *EC2Driver) resolveImage(ctx context.Context, image string) (string, error) {
	name, ok := strings.CutPrefix(image, ssmImagePrefix)
	if !ok {
		return image, nil
	}
	if d.params == nil {
		return "", fmt.Errorf("ec2: cannot resolve %s without an SSM client", image)
	}
	out, err := d.params.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("ec2: GetParameter failed for %s: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("ec2: SSM parameter %s has no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// TerminateUnits treats instances EC2 no longer knows as already gone. EC2
// rejects the whole call when any id is unknown, so on NotFound the ids are
// retried one at a time.
func (d *EC2Driver) TerminateUnits(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := d.terminate(ctx, ids)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("ec2: TerminateInstances failed for %s: %w", strings.Join(ids, ","), err)
	}
	if len(ids) == 1 {
		return nil
	}
	for _, id := range ids {
		if err := d.terminate(ctx, []string{id}); err != nil && !IsNotFound(err) {
			return fmt.Errorf("ec2: TerminateInstances failed for %s: %w", id, err)
		}
	}
	return nil
}

func (d *EC2Driver) terminate(ctx context.Context, ids []string) error {
	_, err := d.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: ids,
	})
	return err
}

// DescribeUnits filters by instance-id rather than passing InstanceIds so
// that instances EC2 has already purged are omitted instead of failing the call.
func (d *EC2Driver) DescribeUnits(ctx context.Context, ids []string) (map[string]string, error) {
	states := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return states, nil
	}

	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("instance-id"), Values: ids},
		},
	}
	for {
		out, err := d.client.DescribeInstances(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("ec2: DescribeInstances failed: %w", err)
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.State == nil {
					continue
				}
				states[aws.ToString(inst.InstanceId)] = string(inst.State.Name)
			}
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	return states, nil
}

func toIPPermissions(perms []Permission) []ec2types.IpPermission {
	out := make([]ec2types.IpPermission, 0, len(perms))
	for _, p := range perms {
		out = append(out, ec2types.IpPermission{
			IpProtocol: aws.String(p.Protocol),
			FromPort:   aws.Int32(p.FromPort),
			ToPort:     aws.Int32(p.ToPort),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String(p.CIDR)}},
		})
	}
	return out
}
