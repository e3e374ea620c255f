package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stackd-io/stackd/pkg/provider"
)

type BucketConfig struct {
	Name       string            `json:"name"`
	Versioning bool              `json:"versioning"`
	Tags       map[string]string `json:"tags"`
}

type BucketState struct {
	Name   string `json:"name"`
	ARN    string `json:"arn"`
	Region string `json:"region"`
}

func (p *Provider) planBucket(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if req.Desired == nil && req.Prior != nil {
		return &provider.PlanResponse{Action: provider.ActionDelete}, nil
	}
	if req.Prior == nil {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var prior BucketState
	if err := json.Unmarshal(req.Prior, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	// Drift check: a bucket deleted out of band gets recreated.
	_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &prior.Name})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return &provider.PlanResponse{Action: provider.ActionCreate}, nil
		}
		return nil, fmt.Errorf("failed to check bucket %s: %w", prior.Name, err)
	}

	var desired BucketConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name != prior.Name {
		return &provider.PlanResponse{
			Action:            provider.ActionReplace,
			ChangedAttributes: []string{"name"},
		}, nil
	}

	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *Provider) applyBucket(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior BucketState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			if _, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &prior.Name}); err != nil {
				return nil, fmt.Errorf("failed to delete bucket: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired BucketConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	name := desired.Name
	if name == "" {
		name = req.Name
	}

	input := &s3.CreateBucketInput{Bucket: &name}
	// us-east-1 rejects an explicit location constraint.
	if p.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}

	if _, err := p.s3Client.CreateBucket(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	if desired.Versioning {
		_, err := p.s3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: &name,
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable bucket versioning: %w", err)
		}
	}

	if len(desired.Tags) > 0 {
		var tags []s3types.Tag
		for k, v := range desired.Tags {
			key, val := k, v
			tags = append(tags, s3types.Tag{Key: &key, Value: &val})
		}
		_, err := p.s3Client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
			Bucket:  &name,
			Tagging: &s3types.Tagging{TagSet: tags},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag bucket: %w", err)
		}
	}

	st := BucketState{
		Name:   name,
		ARN:    "arn:aws:s3:::" + name,
		Region: p.region,
	}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}
