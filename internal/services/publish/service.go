// Package publish uploads snapshot artifacts to a remote host over SSH.
package publish

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/wpsnap/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for publishing snapshot artifacts.
type Service interface {
	Upload(ctx context.Context, cfg models.PublishConfig, files []string) (*models.PublishResult, error)
	TestConnection(ctx context.Context, cfg models.PublishConfig) (*models.PublishResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	Run(cmd string, stdin io.Reader) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Run(cmd string, stdin io.Reader) ([]byte, error) {
	s.session.Stdin = stdin
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the publish Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new publish service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new publish service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(cfg models.PublishConfig) (*ssh.ClientConfig, error) {
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("no private key provided")
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // publish targets are trusted LAN hosts
		Timeout:         30 * time.Second,
	}, nil
}

func (s *Impl) connect(ctx context.Context, cfg models.PublishConfig) (SSHClient, error) {
	sshConfig, err := s.buildConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	// Create client with context timeout
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect: %w", res.err)
		}
		return res.client, nil
	}
}

// Upload streams each local file to cfg.RemoteDir, one session per file.
func (s *Impl) Upload(ctx context.Context, cfg models.PublishConfig, files []string) (*models.PublishResult, error) {
	result := &models.PublishResult{}

	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.Username).
		Str("remote_dir", cfg.RemoteDir).
		Int("files", len(files)).
		Msg("publishing snapshot")

	client, err := s.connect(ctx, cfg)
	if err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	defer client.Close()

	var output strings.Builder
	for _, local := range files {
		if err := ctx.Err(); err != nil {
			result.Error = err
			break
		}

		remote := path.Join(cfg.RemoteDir, filepath.Base(local))
		out, err := s.uploadFile(client, local, cfg.RemoteDir, remote)
		output.Write(out)
		if err != nil {
			result.Error = fmt.Errorf("uploading %s: %w", local, err)
			break
		}

		s.logger.Info().Str("local", local).Str("remote", remote).Msg("file uploaded")
		result.Uploaded = append(result.Uploaded, remote)
	}

	result.Output = output.String()
	return result, nil
}

func (s *Impl) uploadFile(client SSHClient, local, remoteDir, remote string) ([]byte, error) {
	f, err := os.Open(local) //nolint:gosec // snapshot artifacts produced by this run
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(remoteDir), shellQuote(remote))
	s.logger.Debug().Str("command", cmd).Msg("executing upload command")

	return session.Run(cmd, f)
}

// TestConnection checks that the remote host accepts the key and can run a command.
func (s *Impl) TestConnection(ctx context.Context, cfg models.PublishConfig) (*models.PublishResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("testing publish connection")

	result := &models.PublishResult{}

	client, err := s.connect(ctx, cfg)
	if err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	defer session.Close()

	output, err := session.Run("echo OK", nil)
	result.Output = string(output)
	if err != nil {
		result.Error = fmt.Errorf("test command failed: %w", err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	s.logger.Info().Msg("publish connection test successful")
	return result, nil
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
