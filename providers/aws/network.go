package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/stackd-io/stackd/pkg/provider"
)

type VpcConfig struct {
	CidrBlock string            `json:"cidr_block"`
	Tags      map[string]string `json:"tags"`
}

type VpcState struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidr_block"`
}

func (p *Provider) applyVpc(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior VpcState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if _, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete VPC: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired VpcConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: &desired.CidrBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}

	p.tagResource(ctx, *resp.Vpc.VpcId, desired.Tags)

	st := VpcState{ID: *resp.Vpc.VpcId, CidrBlock: *resp.Vpc.CidrBlock}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

type SubnetConfig struct {
	VpcID               string            `json:"vpc_id"`
	CidrBlock           string            `json:"cidr_block"`
	AvailabilityZone    string            `json:"availability_zone"`
	MapPublicIPOnLaunch bool              `json:"map_public_ip_on_launch"`
	Tags                map[string]string `json:"tags"`
}

type SubnetState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpc_id"`
}

func (p *Provider) applySubnet(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior SubnetState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if _, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete subnet: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired SubnetConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     &desired.VpcID,
		CidrBlock: &desired.CidrBlock,
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = &desired.AvailabilityZone
	}

	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}

	if desired.MapPublicIPOnLaunch {
		_, err = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            resp.Subnet.SubnetId,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: &desired.MapPublicIPOnLaunch},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable public IP mapping: %w", err)
		}
	}

	p.tagResource(ctx, *resp.Subnet.SubnetId, desired.Tags)

	st := SubnetState{ID: *resp.Subnet.SubnetId, VpcID: *resp.Subnet.VpcId}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

type SecurityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpc_id"`
	Ingress     []SecurityGroupRule `json:"ingress"`
	Egress      []SecurityGroupRule `json:"egress"`
}

type SecurityGroupRule struct {
	FromPort   int      `json:"from_port"`
	ToPort     int      `json:"to_port"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidr_blocks"`
}

type SecurityGroupState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior SecurityGroupState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if _, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete security group: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired SecurityGroupConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	created, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   &desired.Name,
		Description: &desired.Description,
		VpcId:       &desired.VpcID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group: %w", err)
	}

	if len(desired.Ingress) > 0 {
		_, err = p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       created.GroupId,
			IpPermissions: toIPPermissions(desired.Ingress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize ingress rules: %w", err)
		}
	}
	if len(desired.Egress) > 0 {
		_, err = p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       created.GroupId,
			IpPermissions: toIPPermissions(desired.Egress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize egress rules: %w", err)
		}
	}

	st := SecurityGroupState{ID: *created.GroupId, Name: desired.Name}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

type InternetGatewayConfig struct {
	VpcID string            `json:"vpc_id"`
	Tags  map[string]string `json:"tags"`
}

type InternetGatewayState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpc_id"`
}

func (p *Provider) applyInternetGateway(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior InternetGatewayState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if prior.VpcID != "" {
				_, _ = p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
					InternetGatewayId: &prior.ID,
					VpcId:             &prior.VpcID,
				})
			}
			if _, err := p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete internet gateway: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired InternetGatewayConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	created, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to create internet gateway: %w", err)
	}

	if desired.VpcID != "" {
		_, err = p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: created.InternetGateway.InternetGatewayId,
			VpcId:             &desired.VpcID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach internet gateway: %w", err)
		}
	}

	p.tagResource(ctx, *created.InternetGateway.InternetGatewayId, desired.Tags)

	st := InternetGatewayState{ID: *created.InternetGateway.InternetGatewayId, VpcID: desired.VpcID}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

func toIPPermissions(rules []SecurityGroupRule) []types.IpPermission {
	perms := make([]types.IpPermission, 0, len(rules))
	for _, r := range rules {
		from := int32(r.FromPort)
		to := int32(r.ToPort)
		proto := r.Protocol
		perm := types.IpPermission{
			FromPort:   &from,
			ToPort:     &to,
			IpProtocol: &proto,
		}
		for _, cidr := range r.CidrBlocks {
			c := cidr
			perm.IpRanges = append(perm.IpRanges, types.IpRange{CidrIp: &c})
		}
		perms = append(perms, perm)
	}
	return perms
}

// tagResource applies tags best-effort; tagging failures never fail the
// resource creation that already succeeded.
func (p *Provider) tagResource(ctx context.Context, id string, tags map[string]string) {
	if len(tags) == 0 {
		return
	}
	var ec2Tags []types.Tag
	for k, v := range tags {
		key, val := k, v
		ec2Tags = append(ec2Tags, types.Tag{Key: &key, Value: &val})
	}
	_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
}
