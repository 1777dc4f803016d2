// Package provision downloads and installs a fresh WordPress tree.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/wpsnap/internal/models"
	"github.com/fgeck/wpsnap/internal/services/archive"
	"github.com/rs/zerolog"
)

// Errors for directories left over from an earlier run.
var (
	ErrTargetExists     = errors.New("target directory already exists")
	ErrExtractDirExists = errors.New("extract directory already exists")
)

// Service defines the interface for provisioning.
type Service interface {
	Provision(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the provision Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a provisioner whose downloads are bounded by timeout.
func New(logger zerolog.Logger, timeout time.Duration) *Impl {
	return NewWithClient(logger, &http.Client{Timeout: timeout})
}

// NewWithClient creates a provisioner with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
	}
}

// Provision runs idle → downloading → extracting → renaming → done. A
// failure stops the run in the failed state; partial state is left behind.
func (s *Impl) Provision(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error) {
	start := time.Now()
	result := &models.ProvisionResult{
		State:     models.StateIdle,
		TargetDir: cfg.TargetDir,
	}

	fail := func(err error) (*models.ProvisionResult, error) {
		result.FailedState = result.State
		result.State = models.StateFailed
		result.Error = err
		result.Duration = time.Since(start)
		s.logger.Error().Err(err).Str("state", string(result.FailedState)).Msg("provisioning failed")
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if _, err := os.Stat(cfg.TargetDir); err == nil {
		return fail(fmt.Errorf("%w: %s", ErrTargetExists, cfg.TargetDir))
	}
	if _, err := os.Stat(cfg.ExtractDir); err == nil {
		return fail(fmt.Errorf("%w: %s", ErrExtractDirExists, cfg.ExtractDir))
	}

	s.transition(result, models.StateDownloading)
	n, err := s.download(ctx, cfg.URL, cfg.DownloadPath)
	if err != nil {
		return fail(err)
	}
	result.DownloadedBytes = n

	s.transition(result, models.StateExtracting)
	files, err := archive.Extract(ctx, cfg.DownloadPath, cfg.ExtractDir, 1)
	if err != nil {
		return fail(fmt.Errorf("extraction failed: %w", err))
	}
	result.FilesExtracted = files
	s.logger.Info().Int("files", files).Str("dir", cfg.ExtractDir).Msg("archive extracted")

	s.transition(result, models.StateRenaming)
	if err := s.rename(cfg.ExtractDir, cfg.TargetDir); err != nil {
		return fail(err)
	}

	s.removeDownload(cfg.DownloadPath)

	s.transition(result, models.StateDone)
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("target", cfg.TargetDir).
		Int("files", result.FilesExtracted).
		Dur("duration", result.Duration).
		Msg("provisioning completed")

	return result, nil
}

func (s *Impl) transition(result *models.ProvisionResult, next models.ProvisionState) {
	s.logger.Debug().Str("from", string(result.State)).Str("to", string(next)).Msg("provision state")
	result.State = next
}

func (s *Impl) download(ctx context.Context, url, dest string) (int64, error) {
	s.logger.Info().Str("url", url).Str("output", dest).Msg("downloading release")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return 0, fmt.Errorf("failed to create download directory: %w", err)
		}
	}

	out, err := os.Create(dest) //nolint:gosec // dest is controlled by configuration
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = out.Close()
		return n, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s: %w", dest, err)
	}

	s.logger.Info().
		Int64("size_bytes", n).
		Str("size", humanize.Bytes(uint64(n))). //nolint:gosec // byte counts are non-negative
		Msg("download completed")

	return n, nil
}

func (s *Impl) rename(from, to string) error {
	if _, err := os.Stat(to); err == nil {
		return fmt.Errorf("%w: %s", ErrTargetExists, to)
	}
	if dir := filepath.Dir(to); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", to, err)
		}
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
	}
	s.logger.Info().Str("from", from).Str("to", to).Msg("extracted tree moved into place")
	return nil
}

// removeDownload deletes the release archive. A missing file is not an error.
func (s *Impl) removeDownload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to delete downloaded archive")
		return
	}
	s.logger.Debug().Str("path", path).Msg("downloaded archive deleted")
}
