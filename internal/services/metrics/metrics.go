// Package metrics exports snapshot run results in the Prometheus text format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/wpsnap/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Writer records the outcome of a snapshot run at path.
type Writer interface {
	WriteReport(path string, report models.SnapshotReport) error
}

// Snapshot gauges, labelled by domain.
type collectors struct {
	success      *prometheus.GaugeVec
	duration     *prometheus.GaugeVec
	lastRun      *prometheus.GaugeVec
	archiveSize  *prometheus.GaugeVec
	dumpSize     *prometheus.GaugeVec
	replacements *prometheus.GaugeVec
}

func newCollectors(reg prometheus.Registerer) *collectors {
	c := &collectors{
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wpsnap_snapshot_success",
			Help: "Whether the last snapshot run succeeded (1) or failed (0)",
		}, []string{"domain"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wpsnap_snapshot_duration_seconds",
			Help: "Wall time of the last snapshot run",
		}, []string{"domain"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wpsnap_snapshot_last_run_timestamp_seconds",
			Help: "Start time of the last snapshot run",
		}, []string{"domain"}),
		archiveSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wpsnap_archive_size_bytes",
			Help: "Size of the application archive in bytes",
		}, []string{"domain"}),
		dumpSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wpsnap_dump_size_bytes",
			Help: "Size of the database dump in bytes",
		}, []string{"domain"}),
		replacements: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wpsnap_rewrite_replacements",
			Help: "URL replacements made in the database dump",
		}, []string{"domain"}),
	}
	reg.MustRegister(c.success, c.duration, c.lastRun, c.archiveSize, c.dumpSize, c.replacements)
	return c
}

// TextfileWriter writes one report per run to a node_exporter textfile.
type TextfileWriter struct {
	logger zerolog.Logger
}

// NewTextfileWriter creates a textfile writer.
func NewTextfileWriter(logger zerolog.Logger) *TextfileWriter {
	return &TextfileWriter{logger: logger}
}

// WriteReport replaces the textfile at path with the gauges for report.
func (w *TextfileWriter) WriteReport(path string, report models.SnapshotReport) error {
	reg := prometheus.NewRegistry()
	c := newCollectors(reg)
	c.observe(report)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // node_exporter must read the textfile
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}

	w.logger.Debug().Str("path", path).Msg("metrics textfile written")
	return nil
}

func (c *collectors) observe(r models.SnapshotReport) {
	success := 0.0
	if r.Success {
		success = 1
	}

	c.success.WithLabelValues(r.Domain).Set(success)
	c.duration.WithLabelValues(r.Domain).Set(r.Duration.Seconds())
	c.lastRun.WithLabelValues(r.Domain).Set(float64(r.Run.StartedAt.Unix()))
	c.replacements.WithLabelValues(r.Domain).Set(float64(r.Replacements))

	if r.Archive != nil && r.Archive.Error == nil {
		c.archiveSize.WithLabelValues(r.Domain).Set(float64(r.Archive.SizeBytes))
	}
	if r.Dump != nil && r.Dump.Error == nil {
		c.dumpSize.WithLabelValues(r.Domain).Set(float64(r.Dump.SizeBytes))
	}
}
