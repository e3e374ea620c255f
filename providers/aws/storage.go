package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/efs"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"

	"github.com/stackd-io/stackd/pkg/provider"
)

const fileSystemAvailablePollInterval = 5 * time.Second

type FileSystemConfig struct {
	CreationToken   string            `json:"creation_token"`
	PerformanceMode string            `json:"performance_mode"`
	Encrypted       bool              `json:"encrypted"`
	Tags            map[string]string `json:"tags"`
}

type FileSystemState struct {
	ID      string `json:"id"`
	DNSName string `json:"dns_name"`
}

func (p *Provider) applyFileSystem(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior FileSystemState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if _, err := p.efsClient.DeleteFileSystem(ctx, &efs.DeleteFileSystemInput{FileSystemId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete file system: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired FileSystemConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	token := desired.CreationToken
	if token == "" {
		token = req.Name
	}

	input := &efs.CreateFileSystemInput{
		CreationToken: &token,
		Encrypted:     &desired.Encrypted,
	}
	if desired.PerformanceMode != "" {
		input.PerformanceMode = efstypes.PerformanceMode(desired.PerformanceMode)
	}
	for k, v := range desired.Tags {
		key, val := k, v
		input.Tags = append(input.Tags, efstypes.Tag{Key: &key, Value: &val})
	}

	created, err := p.efsClient.CreateFileSystem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create file system: %w", err)
	}

	id := *created.FileSystemId
	if err := p.waitFileSystemAvailable(ctx, id); err != nil {
		return nil, err
	}

	st := FileSystemState{
		ID:      id,
		DNSName: fmt.Sprintf("%s.efs.%s.amazonaws.com", id, p.region),
	}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

// waitFileSystemAvailable polls until the file system leaves the creating
// state; mount targets cannot attach before that.
func (p *Provider) waitFileSystemAvailable(ctx context.Context, id string) error {
	ticker := time.NewTicker(fileSystemAvailablePollInterval)
	defer ticker.Stop()

	for {
		resp, err := p.efsClient.DescribeFileSystems(ctx, &efs.DescribeFileSystemsInput{FileSystemId: &id})
		if err != nil {
			return fmt.Errorf("failed to describe file system %s: %w", id, err)
		}
		if len(resp.FileSystems) > 0 && resp.FileSystems[0].LifeCycleState == efstypes.LifeCycleStateAvailable {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for file system %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

type MountTargetConfig struct {
	FileSystemID     string   `json:"file_system_id"`
	SubnetID         string   `json:"subnet_id"`
	SecurityGroupIDs []string `json:"security_group_ids"`
}

type MountTargetState struct {
	ID        string `json:"id"`
	IPAddress string `json:"ip_address"`
}

func (p *Provider) applyMountTarget(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior MountTargetState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if _, err := p.efsClient.DeleteMountTarget(ctx, &efs.DeleteMountTargetInput{MountTargetId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete mount target: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired MountTargetConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	created, err := p.efsClient.CreateMountTarget(ctx, &efs.CreateMountTargetInput{
		FileSystemId:   &desired.FileSystemID,
		SubnetId:       &desired.SubnetID,
		SecurityGroups: desired.SecurityGroupIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mount target: %w", err)
	}

	st := MountTargetState{ID: *created.MountTargetId}
	if created.IpAddress != nil {
		st.IPAddress = *created.IpAddress
	}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}
