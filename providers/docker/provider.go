// Package docker implements the Docker resource provider for local and
// remote daemon targets: images, networks, volumes, and containers.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stackd-io/stackd/pkg/provider"
)

type Provider struct {
	host string
	cli  *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	if p.cli != nil {
		return nil
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if p.host != "" {
		opts = append(opts, client.WithHost(p.host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("unable to create docker client: %w", err)
	}
	p.cli = cli
	return nil
}

func (p *Provider) Configure(_ context.Context, settings map[string]string) error {
	if h := settings["host"]; h != "" {
		p.host = h
	}
	return p.ensureClient()
}

func (p *Provider) Plan(_ context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if req.Desired == nil && req.Prior != nil {
		return &provider.PlanResponse{Action: provider.ActionDelete}, nil
	}
	if req.Prior == nil {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}
	if len(req.PriorInputs) > 0 && string(req.Desired) != string(req.PriorInputs) {
		// Docker resources are cheap to rebuild; any config change replaces.
		return &provider.PlanResponse{Action: provider.ActionReplace}, nil
	}
	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch req.Type {
	case "docker:Image":
		return p.applyImage(ctx, req)
	case "docker:Network":
		return p.applyNetwork(ctx, req)
	case "docker:Volume":
		return p.applyVolume(ctx, req)
	case "docker:Container":
		return p.applyContainer(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	if req.Type == "docker:Container" && req.ID != "" {
		inspect, err := p.cli.ContainerInspect(ctx, req.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				return &provider.ReadResponse{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect container %s: %w", req.ID, err)
		}
		st := ContainerState{ID: inspect.ID, Name: strings.TrimPrefix(inspect.Name, "/")}
		if inspect.NetworkSettings != nil {
			st.IPAddress = inspect.NetworkSettings.IPAddress
		}
		data, _ := json.Marshal(st)
		return &provider.ReadResponse{Exists: true, NewState: data}, nil
	}

	return &provider.ReadResponse{Exists: true, NewState: req.Current}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	if err := p.ensureClient(); err != nil {
		return err
	}
	_, err := p.Apply(ctx, &provider.ApplyRequest{
		Type:  req.Type,
		Prior: req.Current,
	})
	return err
}

type ImageConfig struct {
	Name        string `json:"name"`
	Platform    string `json:"platform"`
	KeepLocally bool   `json:"keep_locally"`
}

type ImageState struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	KeepLocally bool   `json:"keep_locally"`
}

func (p *Provider) applyImage(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior ImageState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" && !prior.KeepLocally {
			_, err := p.cli.ImageRemove(ctx, prior.Name, image.RemoveOptions{})
			if err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove image: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired ImageConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	reader, err := p.cli.ImagePull(ctx, desired.Name, image.PullOptions{Platform: desired.Platform})
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", desired.Name, err)
	}
	// Drain the progress stream; the pull is not complete until EOF.
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	inspect, _, err := p.cli.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image %s: %w", desired.Name, err)
	}

	st := ImageState{ID: inspect.ID, Name: desired.Name, KeepLocally: desired.KeepLocally}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

type NetworkConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type NetworkState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p *Provider) applyNetwork(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior NetworkState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if err := p.cli.NetworkRemove(ctx, prior.ID); err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove network: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired NetworkConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	name := desired.Name
	if name == "" {
		name = req.Name
	}

	created, err := p.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: desired.Driver})
	if err != nil {
		return nil, fmt.Errorf("failed to create network %s: %w", name, err)
	}

	st := NetworkState{ID: created.ID, Name: name}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

type VolumeConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type VolumeState struct {
	Name       string `json:"name"`
	Mountpoint string `json:"mountpoint"`
}

func (p *Provider) applyVolume(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior VolumeState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			if err := p.cli.VolumeRemove(ctx, prior.Name, false); err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove volume: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired VolumeConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	name := desired.Name
	if name == "" {
		name = req.Name
	}

	created, err := p.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Driver: desired.Driver})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume %s: %w", name, err)
	}

	st := VolumeState{Name: created.Name, Mountpoint: created.Mountpoint}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

type ContainerConfig struct {
	Name     string   `json:"name"`
	Image    string   `json:"image"`
	Cmd      []string `json:"cmd"`
	Env      []string `json:"env"`
	Ports    []string `json:"ports"`
	Volumes  []string `json:"volumes"`
	Networks []string `json:"networks"`
	Restart  string   `json:"restart"`
	Platform string   `json:"platform"`
}

type ContainerState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
}

func (p *Provider) applyContainer(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		var prior ContainerState
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			err := p.cli.ContainerRemove(ctx, prior.ID, container.RemoveOptions{Force: true})
			if err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove container: %w", err)
			}
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired ContainerConfig
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	name := desired.Name
	if name == "" {
		name = req.Name
	}

	exposed, bindings, err := nat.ParsePortSpecs(desired.Ports)
	if err != nil {
		return nil, fmt.Errorf("invalid port specification: %w", err)
	}

	cfg := &container.Config{
		Image:        desired.Image,
		Cmd:          desired.Cmd,
		Env:          desired.Env,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        desired.Volumes,
	}
	if desired.Restart != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(desired.Restart)}
	}

	var netCfg *network.NetworkingConfig
	if len(desired.Networks) > 0 {
		endpoints := make(map[string]*network.EndpointSettings, len(desired.Networks))
		for _, n := range desired.Networks {
			endpoints[n] = &network.EndpointSettings{}
		}
		netCfg = &network.NetworkingConfig{EndpointsConfig: endpoints}
	}

	var platform *ocispec.Platform
	if desired.Platform != "" {
		parts := strings.SplitN(desired.Platform, "/", 2)
		platform = &ocispec.Platform{OS: parts[0]}
		if len(parts) == 2 {
			platform.Architecture = parts[1]
		}
	}

	created, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, platform, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", name, err)
	}

	if err := p.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", name, err)
	}

	inspect, err := p.cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	st := ContainerState{ID: created.ID, Name: name}
	if inspect.NetworkSettings != nil {
		st.IPAddress = inspect.NetworkSettings.IPAddress
	}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}
