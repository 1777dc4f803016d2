// Package mysql provides MySQL connectivity checks and dump operations.
package mysql

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/wpsnap/internal/models"
	"github.com/rs/zerolog"
)

// dumpFilenameLayout is an ISO 8601 timestamp with colons replaced and
// fractional seconds dropped, safe for file names.
const dumpFilenameLayout = "2006-01-02T15-04-05"

// Service defines the interface for MySQL operations.
type Service interface {
	CheckConnection(ctx context.Context, cfg models.DatabaseConfig) bool
	Dump(ctx context.Context, cfg models.DatabaseConfig, outputPath string) (*models.DumpResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs the dump command and writes its output to the specified file.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	output, err := os.Create(outputPath) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = output.Close() }()

	var stderr bytes.Buffer
	cmd.Stdout = output
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("mysqldump failed: %w: %s", err, msg)
		}
		return fmt.Errorf("mysqldump failed: %w", err)
	}

	return nil
}

// Impl implements the MySQL Service interface.
type Impl struct {
	executor    CommandExecutor
	opener      Opener
	dumpCommand string
	logger      zerolog.Logger
}

// New creates a new MySQL service.
func New(logger zerolog.Logger, dumpCommand string) *Impl {
	return NewWithDeps(logger, dumpCommand, &DefaultExecutor{}, DefaultOpener)
}

// NewWithDeps creates a new MySQL service with a custom executor and opener (for testing).
func NewWithDeps(logger zerolog.Logger, dumpCommand string, executor CommandExecutor, opener Opener) *Impl {
	if dumpCommand == "" {
		dumpCommand = "mysqldump"
	}
	return &Impl{
		executor:    executor,
		opener:      opener,
		dumpCommand: dumpCommand,
		logger:      logger,
	}
}

// Dump exports the whole database to outputPath as plain SQL.
func (s *Impl) Dump(ctx context.Context, cfg models.DatabaseConfig, outputPath string) (*models.DumpResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Str("port", cfg.Port).
		Str("database", cfg.Name).
		Str("output", outputPath).
		Msg("starting MySQL dump")

	start := time.Now()
	result := &models.DumpResult{
		OutputPath: outputPath,
	}

	// Ensure output directory exists
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create output directory: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	args := []string{
		"-h", cfg.Host,
		"-P", cfg.Port,
		"-u", cfg.User,
		"--protocol=TCP",
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
		cfg.Name,
	}

	// Password is passed via MYSQL_PWD, not argv.
	env := []string{}
	if cfg.Password != "" {
		env = append(env, fmt.Sprintf("MYSQL_PWD=%s", cfg.Password))
	}

	if execErr := s.executor.ExecuteWithEnv(ctx, env, outputPath, s.dumpCommand, args...); execErr != nil {
		// Clean up partial file
		_ = os.Remove(outputPath)
		result.Error = execErr
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = info.Size()
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Int64("size_bytes", result.SizeBytes).
		Str("size", humanize.Bytes(uint64(result.SizeBytes))). //nolint:gosec // file sizes are non-negative
		Dur("duration", result.Duration).
		Msg("MySQL dump completed")

	return result, nil
}

// DumpFilename returns the dump file name for a run started at startedAt.
func DumpFilename(startedAt time.Time) string {
	return fmt.Sprintf("dump_%s.sql", startedAt.UTC().Format(dumpFilenameLayout))
}
