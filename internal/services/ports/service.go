package ports

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/fgeck/wpsnap/internal/models"
	"github.com/rs/zerolog"
)

// Discoverer resolves the host port published for a service's container port.
type Discoverer interface {
	Discover(ctx context.Context, service, containerPort string) (*models.PortMapping, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its standard output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// Impl discovers ports by parsing the output of a compose status command.
type Impl struct {
	executor CommandExecutor
	command  []string
	logger   zerolog.Logger
}

// New creates a compose-backed discovery service. command is the status
// command and its arguments, e.g. ["docker-compose", "ps"].
func New(logger zerolog.Logger, command []string) *Impl {
	return NewWithExecutor(logger, command, &DefaultExecutor{})
}

// NewWithExecutor creates a discovery service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, command []string, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		command:  command,
		logger:   logger,
	}
}

// Discover runs the status command and parses the published port for service.
func (s *Impl) Discover(ctx context.Context, service, containerPort string) (*models.PortMapping, error) {
	if len(s.command) == 0 {
		return nil, fmt.Errorf("no status command configured")
	}

	s.logger.Debug().
		Strs("command", s.command).
		Str("service", service).
		Str("container_port", containerPort).
		Msg("discovering published port")

	output, err := s.executor.Execute(ctx, s.command[0], s.command[1:]...)
	if err != nil {
		s.logger.Error().Err(err).Strs("command", s.command).Msg("status command failed")
		return nil, fmt.Errorf("running %s: %w", s.command[0], err)
	}

	hostPort, err := ParsePort(string(output), service, containerPort)
	if err != nil {
		s.logger.Error().Err(err).Str("service", service).Msg("port discovery failed")
		return nil, err
	}

	s.logger.Info().
		Str("service", service).
		Str("container_port", containerPort).
		Str("host_port", hostPort).
		Msg("published port discovered")

	return &models.PortMapping{
		Service:       service,
		ContainerPort: containerPort,
		HostPort:      hostPort,
	}, nil
}
