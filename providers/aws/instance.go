package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/stackd-io/stackd/pkg/provider"
)

const instanceRunningWaitTimeout = 5 * time.Minute

type InstanceConfig struct {
	AMI              string            `json:"ami"`
	InstanceType     string            `json:"instance_type"`
	SubnetID         string            `json:"subnet_id"`
	SecurityGroupIDs []string          `json:"security_group_ids"`
	KeyName          string            `json:"key_name"`
	UserData         string            `json:"user_data"`
	Tags             map[string]string `json:"tags"`
}

// InstanceState is the attribute snapshot recorded after convergence.
// PublicIP is the output binding the deployment driver consumes.
type InstanceState struct {
	ID        string `json:"id"`
	PublicIP  string `json:"public_ip"`
	PrivateIP string `json:"private_ip"`
}

func (p *Provider) planInstance(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if req.Desired == nil && req.Prior != nil {
		return &provider.PlanResponse{Action: provider.ActionDelete}, nil
	}
	if req.Prior == nil {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var prior InstanceState
	if err := json.Unmarshal(req.Prior, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	var desired InstanceConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{prior.ID},
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "InvalidInstanceID.NotFound" {
			return &provider.PlanResponse{Action: provider.ActionCreate}, nil
		}
		return nil, fmt.Errorf("failed to describe instance: %w", err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	instance := resp.Reservations[0].Instances[0]
	if instance.State.Name == types.InstanceStateNameTerminated {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	// AMI and instance type are immutable; changing either rebuilds.
	if *instance.ImageId != desired.AMI {
		return &provider.PlanResponse{Action: provider.ActionReplace, ChangedAttributes: []string{"ami"}}, nil
	}
	if string(instance.InstanceType) != desired.InstanceType {
		return &provider.PlanResponse{Action: provider.ActionReplace, ChangedAttributes: []string{"instance_type"}}, nil
	}

	if len(req.PriorInputs) > 0 && string(req.Desired) != string(req.PriorInputs) {
		return &provider.PlanResponse{Action: provider.ActionUpdate, ChangedAttributes: []string{"tags"}}, nil
	}

	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *Provider) applyInstance(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior InstanceState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
				InstanceIds: []string{prior.ID},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to terminate instance: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired InstanceConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	// Tag-only update on an existing instance.
	if req.Prior != nil {
		var prior InstanceState
		if err := json.Unmarshal(req.Prior, &prior); err == nil && prior.ID != "" {
			p.tagResource(ctx, prior.ID, desired.Tags)
			data, _ := json.Marshal(prior)
			return &provider.ApplyResponse{NewState: data}, nil
		}
	}

	one := int32(1)
	input := &ec2.RunInstancesInput{
		ImageId:      &desired.AMI,
		InstanceType: types.InstanceType(desired.InstanceType),
		MinCount:     &one,
		MaxCount:     &one,
	}
	if desired.SubnetID != "" {
		input.SubnetId = &desired.SubnetID
	}
	if len(desired.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = desired.SecurityGroupIDs
	}
	if desired.KeyName != "" {
		input.KeyName = &desired.KeyName
	}
	if desired.UserData != "" {
		input.UserData = &desired.UserData
	}

	created, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	instance := created.Instances[0]
	id := *instance.InstanceId

	p.tagResource(ctx, id, desired.Tags)

	// The public address is assigned once the instance leaves pending;
	// wait so the recorded snapshot carries a usable output binding.
	waiter := ec2.NewInstanceRunningWaiter(p.ec2Client)
	described, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	}, instanceRunningWaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("instance %s did not reach running state: %w", id, err)
	}

	st := InstanceState{ID: id}
	if len(described.Reservations) > 0 && len(described.Reservations[0].Instances) > 0 {
		running := described.Reservations[0].Instances[0]
		if running.PublicIpAddress != nil {
			st.PublicIP = *running.PublicIpAddress
		}
		if running.PrivateIpAddress != nil {
			st.PrivateIP = *running.PrivateIpAddress
		}
	}

	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

func (p *Provider) readInstance(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{req.ID},
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "InvalidInstanceID.NotFound" {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe instance: %w", err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}

	instance := resp.Reservations[0].Instances[0]
	if instance.State.Name == types.InstanceStateNameTerminated {
		return &provider.ReadResponse{Exists: false}, nil
	}

	st := InstanceState{ID: req.ID}
	if instance.PublicIpAddress != nil {
		st.PublicIP = *instance.PublicIpAddress
	}
	if instance.PrivateIpAddress != nil {
		st.PrivateIP = *instance.PrivateIpAddress
	}
	data, _ := json.Marshal(st)
	return &provider.ReadResponse{Exists: true, NewState: data}, nil
}
