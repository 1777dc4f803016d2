package ports

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/fgeck/wpsnap/internal/models"
	"github.com/rs/zerolog"
)

// composeServiceLabel is set by docker compose on every service container.
const composeServiceLabel = "com.docker.compose.service"

// ContainerPorts is the subset of a running container that discovery needs.
type ContainerPorts struct {
	Name     string
	Bindings []Binding
}

// ContainerLister wraps the Docker API for mocking.
type ContainerLister interface {
	ListServiceContainers(ctx context.Context, service string) ([]ContainerPorts, error)
	Close() error
}

// DockerLister lists compose service containers through the Docker SDK.
type DockerLister struct {
	cli *client.Client
}

// NewDockerLister creates a Docker API client from the environment.
func NewDockerLister() (*DockerLister, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerLister{cli: cli}, nil
}

// ListServiceContainers returns running containers labelled with the compose service name.
func (d *DockerLister) ListServiceContainers(ctx context.Context, service string) ([]ContainerPorts, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", composeServiceLabel+"="+service)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]ContainerPorts, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		cp := ContainerPorts{Name: name}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			cp.Bindings = append(cp.Bindings, Binding{
				HostIP:        p.IP,
				HostPort:      strconv.Itoa(int(p.PublicPort)),
				ContainerPort: strconv.Itoa(int(p.PrivatePort)),
				Protocol:      p.Type,
			})
		}
		result = append(result, cp)
	}

	return result, nil
}

// Close closes the Docker client connection.
func (d *DockerLister) Close() error {
	return d.cli.Close()
}

// DockerService discovers ports from the Docker API instead of CLI output.
type DockerService struct {
	lister ContainerLister
	logger zerolog.Logger
}

// NewDockerService creates a Docker-backed discovery service.
func NewDockerService(logger zerolog.Logger, lister ContainerLister) *DockerService {
	return &DockerService{
		lister: lister,
		logger: logger,
	}
}

// Discover returns the first published host port mapped to containerPort.
func (s *DockerService) Discover(ctx context.Context, service, containerPort string) (*models.PortMapping, error) {
	containers, err := s.lister.ListServiceContainers(ctx, service)
	if err != nil {
		s.logger.Error().Err(err).Str("service", service).Msg("docker container listing failed")
		return nil, err
	}
	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, service)
	}

	for _, c := range containers {
		for _, b := range c.Bindings {
			if b.ContainerPort != containerPort {
				continue
			}

			s.logger.Info().
				Str("service", service).
				Str("container", c.Name).
				Str("container_port", containerPort).
				Str("host_port", b.HostPort).
				Msg("published port discovered")

			return &models.PortMapping{
				Service:       service,
				ContainerPort: containerPort,
				HostPort:      b.HostPort,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: ->%s for service %q", ErrPortNotFound, containerPort, service)
}
