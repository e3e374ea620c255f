package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/stackd-io/stackd/pkg/provider"
)

// Cluster control planes routinely take over ten minutes to come up.
const clusterActiveWaitTimeout = 25 * time.Minute

type ClusterConfig struct {
	Name             string            `json:"name"`
	RoleARN          string            `json:"role_arn"`
	Version          string            `json:"version"`
	SubnetIDs        []string          `json:"subnet_ids"`
	SecurityGroupIDs []string          `json:"security_group_ids"`
	Tags             map[string]string `json:"tags"`
}

type ClusterState struct {
	Name     string `json:"name"`
	ARN      string `json:"arn"`
	Endpoint string `json:"endpoint"`
	Version  string `json:"version"`
}

func (p *Provider) applyEKSCluster(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior ClusterState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			if _, err := p.eksClient.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: &prior.Name}); err != nil {
				return nil, fmt.Errorf("failed to delete cluster: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired ClusterConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	name := desired.Name
	if name == "" {
		name = req.Name
	}

	input := &eks.CreateClusterInput{
		Name:    &name,
		RoleArn: &desired.RoleARN,
		ResourcesVpcConfig: &ekstypes.VpcConfigRequest{
			SubnetIds:        desired.SubnetIDs,
			SecurityGroupIds: desired.SecurityGroupIDs,
		},
		Tags: desired.Tags,
	}
	if desired.Version != "" {
		input.Version = &desired.Version
	}

	if _, err := p.eksClient.CreateCluster(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	waiter := eks.NewClusterActiveWaiter(p.eksClient)
	out, err := waiter.WaitForOutput(ctx, &eks.DescribeClusterInput{Name: &name}, clusterActiveWaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("cluster %s did not become active: %w", name, err)
	}

	st := ClusterState{Name: name}
	if out.Cluster != nil {
		if out.Cluster.Arn != nil {
			st.ARN = *out.Cluster.Arn
		}
		if out.Cluster.Endpoint != nil {
			st.Endpoint = *out.Cluster.Endpoint
		}
		if out.Cluster.Version != nil {
			st.Version = *out.Cluster.Version
		}
	}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}
