package publish

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/wpsnap/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type mockSSHSession struct {
	runFunc   func(cmd string, stdin io.Reader) ([]byte, error)
	closeFunc func() error
}

func (m *mockSSHSession) Run(cmd string, stdin io.Reader) ([]byte, error) {
	if m.runFunc != nil {
		return m.runFunc(cmd, stdin)
	}
	return []byte(""), nil
}

func (m *mockSSHSession) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockSSHClient struct {
	newSessionFunc func() (SSHSession, error)
	closeFunc      func() error
}

func (m *mockSSHClient) NewSession() (SSHSession, error) {
	if m.newSessionFunc != nil {
		return m.newSessionFunc()
	}
	return &mockSSHSession{}, nil
}

func (m *mockSSHClient) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockClientFactory struct {
	newClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

func (m *mockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if m.newClientFunc != nil {
		return m.newClientFunc(network, addr, config)
	}
	return &mockSSHClient{}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func generateTestKey(t *testing.T) []byte {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)

	return pem.EncodeToMemory(pemBlock)
}

func writeKey(t *testing.T, key []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, key, 0o600))
	return path
}

func testConfig(t *testing.T) models.PublishConfig {
	return models.PublishConfig{
		Host:      "backup.lan",
		Port:      2222,
		Username:  "deploy",
		KeyPath:   writeKey(t, generateTestKey(t)),
		RemoteDir: "/srv/snapshots",
	}
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUpload_StreamsEveryFile(t *testing.T) {
	tmpDir := t.TempDir()
	zipPath := writeArtifact(t, tmpDir, "app.zip", "zipdata")
	dumpPath := writeArtifact(t, tmpDir, "dump_2024-01-02T03-04-05.sql", "sqldata")

	var addr string
	var commands []string
	var bodies []string

	factory := &mockClientFactory{
		newClientFunc: func(network, a string, config *ssh.ClientConfig) (SSHClient, error) {
			addr = a
			assert.Equal(t, "deploy", config.User)
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						runFunc: func(cmd string, stdin io.Reader) ([]byte, error) {
							commands = append(commands, cmd)
							body, err := io.ReadAll(stdin)
							require.NoError(t, err)
							bodies = append(bodies, string(body))
							return nil, nil
						},
					}, nil
				},
			}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.Upload(context.Background(), testConfig(t), []string{zipPath, dumpPath})

	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.Equal(t, "backup.lan:2222", addr)
	assert.Equal(t, []string{
		"/srv/snapshots/app.zip",
		"/srv/snapshots/dump_2024-01-02T03-04-05.sql",
	}, result.Uploaded)
	assert.Equal(t, []string{
		"mkdir -p '/srv/snapshots' && cat > '/srv/snapshots/app.zip'",
		"mkdir -p '/srv/snapshots' && cat > '/srv/snapshots/dump_2024-01-02T03-04-05.sql'",
	}, commands)
	assert.Equal(t, []string{"zipdata", "sqldata"}, bodies)
}

func TestUpload_StopsAtFirstFailure(t *testing.T) {
	tmpDir := t.TempDir()
	first := writeArtifact(t, tmpDir, "a.zip", "a")
	second := writeArtifact(t, tmpDir, "b.sql", "b")

	calls := 0
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						runFunc: func(cmd string, stdin io.Reader) ([]byte, error) {
							calls++
							return []byte("disk full"), errors.New("exit status 1")
						},
					}, nil
				},
			}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.Upload(context.Background(), testConfig(t), []string{first, second})

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "a.zip")
	assert.Empty(t, result.Uploaded)
	assert.Equal(t, 1, calls)
	assert.Contains(t, result.Output, "disk full")
}

func TestUpload_MissingLocalFile(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})
	result, err := svc.Upload(context.Background(), testConfig(t), []string{filepath.Join(t.TempDir(), "missing.zip")})

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.ErrorIs(t, result.Error, os.ErrNotExist)
}

func TestUpload_ConnectionFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.Upload(context.Background(), testConfig(t), nil)

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to connect")
}

func TestUpload_SessionFailed(t *testing.T) {
	artifact := writeArtifact(t, t.TempDir(), "app.zip", "x")
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return nil, errors.New("session creation failed")
				},
			}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.Upload(context.Background(), testConfig(t), []string{artifact})

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to create session")
}

func TestUpload_NoPrivateKey(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})
	cfg := testConfig(t)
	cfg.KeyPath = ""

	result, err := svc.Upload(context.Background(), cfg, nil)

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "no private key")
}

func TestUpload_InvalidPrivateKey(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})
	cfg := testConfig(t)
	cfg.KeyPath = writeKey(t, []byte("invalid key"))

	result, err := svc.Upload(context.Background(), cfg, nil)

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to parse private key")
}

func TestUpload_ContextCancelled(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			time.Sleep(100 * time.Millisecond)
			return &mockSSHClient{}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result, err := svc.Upload(ctx, testConfig(t), nil)

	require.NoError(t, err)
	assert.Equal(t, context.DeadlineExceeded, result.Error)
}

func TestTestConnection_Success(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						runFunc: func(cmd string, stdin io.Reader) ([]byte, error) {
							if cmd == "echo OK" {
								return []byte("OK\n"), nil
							}
							return nil, errors.New("unexpected command")
						},
					}, nil
				},
			}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.Contains(t, result.Output, "OK")
	assert.NoError(t, result.Error)
}

func TestTestConnection_Failed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to connect")
}

func TestBuildConfig_WithKeyPath(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, generateTestKey(t), 0o600))

	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})
	sshConfig, err := svc.buildConfig(models.PublishConfig{Username: "root", KeyPath: keyPath})

	require.NoError(t, err)
	assert.Equal(t, "root", sshConfig.User)
}

func TestBuildConfig_KeyPathNotFound(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})

	_, err := svc.buildConfig(models.PublishConfig{Username: "root", KeyPath: "/nonexistent/path/id_rsa"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read private key")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'/srv/a b'", shellQuote("/srv/a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
