package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
)

// Extract unpacks zipPath into destDir, dropping the first strip path
// components of every entry. Entries that become empty after stripping are
// skipped. It returns the number of files written.
func Extract(ctx context.Context, zipPath, destDir string, strip int) (int, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	if err := os.MkdirAll(destDir, 0o755); err != nil { //nolint:gosec // extracted site must be readable by the web server
		return 0, fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	cleanDest := filepath.Clean(destDir)
	files := 0

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		rel := stripComponents(f.Name, strip)
		if rel == "" {
			continue
		}

		target := filepath.Join(cleanDest, filepath.FromSlash(rel))
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(filepath.Separator)) {
			return files, fmt.Errorf("%w: %q", ErrUnsafePath, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil { //nolint:gosec // see above
				return files, err
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return files, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		files++
	}

	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // see Extract
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode) //nolint:gosec // target is checked against destDir
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil { //nolint:gosec // archive comes from a trusted release URL
		_ = out.Close()
		return err
	}

	return out.Close()
}

// stripComponents drops the first n slash-separated components of name.
func stripComponents(name string, n int) string {
	name = strings.TrimPrefix(name, "/")
	for i := 0; i < n; i++ {
		_, rest, found := strings.Cut(name, "/")
		if !found {
			return ""
		}
		name = rest
	}
	return strings.TrimSuffix(name, "/")
}
