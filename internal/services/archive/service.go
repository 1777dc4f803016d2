// Package archive builds and unpacks zip packages of the application tree.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/wpsnap/internal/models"
	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog"
)

// ErrUnsafePath is returned when an archive entry would land outside the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Service defines the interface for archive operations.
type Service interface {
	Build(ctx context.Context, sourceDir, destPath string) (*models.ArchiveResult, error)
}

// Impl implements the archive Service interface.
type Impl struct {
	logger zerolog.Logger
	level  int
}

// New creates an archive service compressing at the maximum deflate level.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger: logger,
		level:  flate.BestCompression,
	}
}

// Build replaces destPath with a zip of every file under sourceDir. Entry
// names are relative to sourceDir. Files that disappear during the walk are
// skipped with a warning; any other failure removes the partial archive and
// is reported in the result.
func (s *Impl) Build(ctx context.Context, sourceDir, destPath string) (*models.ArchiveResult, error) {
	s.logger.Info().
		Str("source", sourceDir).
		Str("output", destPath).
		Msg("starting archive build")

	start := time.Now()
	result := &models.ArchiveResult{Path: destPath}

	info, err := os.Stat(sourceDir)
	if err != nil {
		result.Error = fmt.Errorf("source directory: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	if !info.IsDir() {
		result.Error = fmt.Errorf("source %s is not a directory", sourceDir)
		result.Duration = time.Since(start)
		return result, nil
	}

	s.removeExisting(destPath)

	files, err := s.write(ctx, sourceDir, destPath)
	if err != nil {
		_ = os.Remove(destPath)
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	result.Files = files
	if st, err := os.Stat(destPath); err == nil {
		result.SizeBytes = st.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", destPath).
		Int("files", result.Files).
		Int64("size_bytes", result.SizeBytes).
		Str("size", humanize.Bytes(uint64(result.SizeBytes))). //nolint:gosec // file sizes are non-negative
		Dur("duration", result.Duration).
		Msg("archive build completed")

	return result, nil
}

// removeExisting deletes a previous package. Failure is not fatal: the
// subsequent create truncates the file anyway.
func (s *Impl) removeExisting(destPath string) {
	if _, err := os.Stat(destPath); err != nil {
		return
	}
	if err := os.Remove(destPath); err != nil {
		s.logger.Warn().Err(err).Str("path", destPath).Msg("failed to delete previous archive")
		return
	}
	s.logger.Debug().Str("path", destPath).Msg("previous archive deleted")
}

func (s *Impl) write(ctx context.Context, sourceDir, destPath string) (int, error) {
	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	out, err := os.Create(destPath) //nolint:gosec // destPath is controlled by caller
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() { _ = out.Close() }()

	zw := zip.NewWriter(out)
	level := s.level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	absDest, _ := filepath.Abs(destPath)
	files := 0

	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn().Err(err).Str("path", path).Msg("path vanished during archive build")
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// The package may live inside the tree it archives.
		if abs, _ := filepath.Abs(path); abs == absDest {
			return nil
		}

		if !d.IsDir() && !d.Type().IsRegular() {
			s.logger.Warn().Str("path", path).Str("mode", d.Type().String()).Msg("skipping non-regular file")
			return nil
		}

		added, err := addEntry(zw, path, filepath.ToSlash(rel), d)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn().Err(err).Str("path", path).Msg("path vanished during archive build")
				return nil
			}
			return err
		}
		if added {
			files++
		}
		return nil
	})
	if walkErr != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("archive build failed: %w", walkErr)
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close archive: %w", err)
	}

	return files, nil
}

// addEntry writes one directory or regular file. It reports whether a file
// entry was added; directories and special files do not count.
func addEntry(zw *zip.Writer, path, name string, d fs.DirEntry) (bool, error) {
	info, err := d.Info()
	if err != nil {
		return false, err
	}

	if d.IsDir() {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return false, err
		}
		header.Name = name + "/"
		_, err = zw.CreateHeader(header)
		return false, err
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}

	src, err := os.Open(path) //nolint:gosec // walking a caller-provided tree
	if err != nil {
		return false, err
	}
	defer func() { _ = src.Close() }()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(w, src); err != nil {
		return false, err
	}

	return true, nil
}

// List returns the file entry names of a zip archive, directories excluded.
func List(zipPath string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	var names []string
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		names = append(names, f.Name)
	}
	return names, nil
}
