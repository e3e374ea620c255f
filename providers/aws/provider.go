// Package aws implements the AWS resource provider covering the resource
// kinds stackd provisions: VPC networking, EC2 compute, EFS file storage,
// S3 buckets, and EKS clusters.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stackd-io/stackd/pkg/provider"
)

const defaultRegion = "us-east-1"

type Provider struct {
	region string

	ec2Client *ec2.Client
	efsClient *efs.Client
	eksClient *eks.Client
	s3Client  *s3.Client
}

func New() *Provider {
	return &Provider{region: defaultRegion}
}

func (p *Provider) ensureClients(ctx context.Context) error {
	if p.ec2Client != nil {
		return nil
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.efsClient = efs.NewFromConfig(cfg)
	p.eksClient = eks.NewFromConfig(cfg)
	p.s3Client = s3.NewFromConfig(cfg)
	return nil
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	if r := settings["region"]; r != "" {
		p.region = r
	}
	return p.ensureClients(ctx)
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Instance":
		return p.planInstance(ctx, req)
	case "aws:S3.Bucket":
		return p.planBucket(ctx, req)
	}

	// Remaining kinds use the generic comparison: deletion when desired
	// is gone, creation when prior is missing, replacement when the
	// desired configuration no longer matches the one last applied.
	if req.Desired == nil && req.Prior != nil {
		return &provider.PlanResponse{Action: provider.ActionDelete}, nil
	}
	if req.Prior == nil {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}
	if len(req.PriorInputs) > 0 && string(req.Desired) != string(req.PriorInputs) {
		return &provider.PlanResponse{Action: provider.ActionReplace}, nil
	}
	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.applyVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.applySubnet(ctx, req)
	case "aws:EC2.SecurityGroup":
		return p.applySecurityGroup(ctx, req)
	case "aws:EC2.InternetGateway":
		return p.applyInternetGateway(ctx, req)
	case "aws:EC2.Instance":
		return p.applyInstance(ctx, req)
	case "aws:EFS.FileSystem":
		return p.applyFileSystem(ctx, req)
	case "aws:EFS.MountTarget":
		return p.applyMountTarget(ctx, req)
	case "aws:S3.Bucket":
		return p.applyBucket(ctx, req)
	case "aws:EKS.Cluster":
		return p.applyEKSCluster(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Instance":
		return p.readInstance(ctx, req)
	}

	// Kinds without a refresh implementation report the last-known state.
	return &provider.ReadResponse{Exists: true, NewState: req.Current}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	if err := p.ensureClients(ctx); err != nil {
		return err
	}

	// Deletion routes through Apply with no desired configuration; each
	// resource file owns its teardown call.
	_, err := p.Apply(ctx, &provider.ApplyRequest{
		Type:  req.Type,
		Prior: req.Current,
	})
	return err
}
