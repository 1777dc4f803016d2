// Package runner orchestrates the snapshot workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fgeck/wpsnap/internal/models"
	"github.com/fgeck/wpsnap/internal/services/archive"
	"github.com/fgeck/wpsnap/internal/services/metrics"
	"github.com/fgeck/wpsnap/internal/services/mysql"
	"github.com/fgeck/wpsnap/internal/services/notify"
	"github.com/fgeck/wpsnap/internal/services/ports"
	"github.com/fgeck/wpsnap/internal/services/publish"
	"github.com/fgeck/wpsnap/internal/services/rewrite"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrDatabaseUnreachable is returned when the connectivity gate fails.
var ErrDatabaseUnreachable = errors.New("database unreachable")

// Pipeline step names reported as the failed step.
const (
	StepDiscover = "discover"
	StepArchive  = "archive"
	StepGate     = "gate"
	StepDump     = "dump"
	StepRewrite  = "rewrite"
	StepPublish  = "publish"
)

// Service defines the interface for the snapshot runner.
type Service interface {
	Run(ctx context.Context, rc models.RunContext, cfg models.Config) error
}

// Impl implements the runner Service interface.
type Impl struct {
	discoverer ports.Discoverer
	archiveSvc archive.Service
	mysqlSvc   mysql.Service
	rewriteSvc rewrite.Service
	publishSvc publish.Service
	notifySvc  notify.Service
	metricsW   metrics.Writer
	logger     zerolog.Logger
}

// New creates a runner with the default services. The discoverer depends on
// the configured backend and is supplied by the caller.
func New(logger zerolog.Logger, discoverer ports.Discoverer, dumpCommand string) *Impl {
	return &Impl{
		discoverer: discoverer,
		archiveSvc: archive.New(logger),
		mysqlSvc:   mysql.New(logger, dumpCommand),
		rewriteSvc: rewrite.New(logger),
		publishSvc: publish.New(logger),
		notifySvc:  notify.New(logger),
		metricsW:   metrics.NewTextfileWriter(logger),
		logger:     logger,
	}
}

// NewWithServices creates a new runner with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	discoverer ports.Discoverer,
	archiveSvc archive.Service,
	mysqlSvc mysql.Service,
	rewriteSvc rewrite.Service,
	publishSvc publish.Service,
	notifySvc notify.Service,
	metricsW metrics.Writer,
) *Impl {
	return &Impl{
		discoverer: discoverer,
		archiveSvc: archiveSvc,
		mysqlSvc:   mysqlSvc,
		rewriteSvc: rewriteSvc,
		publishSvc: publishSvc,
		notifySvc:  notifySvc,
		metricsW:   metricsW,
		logger:     logger,
	}
}

// Run executes the complete snapshot workflow. The archive build is always
// finished before Run returns, also when it runs alongside the export.
//
//nolint:gocognit,gocyclo // snapshot workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, rc models.RunContext, cfg models.Config) error {
	logger := s.logger.With().Str("run_id", rc.ID).Logger()
	var failedStep string
	var runErr error

	report := models.SnapshotReport{
		Run:    rc,
		Domain: cfg.Rewrite.Domain,
	}

	logger.Info().
		Str("domain", cfg.Rewrite.Domain).
		Str("app_dir", cfg.AppDir).
		Bool("parallel", cfg.Snapshot.Parallel).
		Msg("starting snapshot run")

	defer func() {
		report.Duration = time.Since(rc.StartedAt)
		report.Success = runErr == nil
		if runErr != nil {
			report.FailedStep = failedStep
			report.ErrorMessage = runErr.Error()
		}
		// Report even when the run was cancelled.
		s.report(context.WithoutCancel(ctx), logger, cfg, report)
	}()

	// Step 1: Discover published ports
	failedStep = StepDiscover
	dbMapping, webMapping, err := s.discover(ctx, logger, cfg.Discovery)
	if err != nil {
		runErr = err
		return err
	}

	dbCfg := models.DatabaseConfig{
		Host:           cfg.Database.Host,
		User:           cfg.Database.Username,
		Password:       cfg.Database.Password,
		Name:           cfg.Database.Name,
		Port:           dbMapping.HostPort,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}

	// Step 2: Archive the application tree
	var archiveGroup errgroup.Group
	buildArchive := func() error {
		result, err := s.archiveSvc.Build(ctx, cfg.AppDir, cfg.ArchivePath)
		if err != nil {
			return fmt.Errorf("archive build failed: %w", err)
		}
		report.Archive = result
		if result.Error != nil {
			return fmt.Errorf("archive build failed: %w", result.Error)
		}
		return nil
	}

	if cfg.Snapshot.Parallel {
		archiveGroup.Go(buildArchive)
	} else {
		failedStep = StepArchive
		if err := buildArchive(); err != nil {
			runErr = err
			return err
		}
	}

	// Steps 3-5: Gate, dump and rewrite
	step, exportErr := s.exportDatabase(ctx, logger, rc, cfg, dbCfg, webMapping.HostPort, &report)

	if cfg.Snapshot.Parallel {
		archiveErr := archiveGroup.Wait()
		if exportErr == nil && archiveErr != nil {
			step, exportErr = StepArchive, archiveErr
		} else if archiveErr != nil {
			logger.Error().Err(archiveErr).Msg("archive build failed")
		}
	}
	if exportErr != nil {
		failedStep = step
		runErr = exportErr
		return exportErr
	}

	// Step 6: Publish (if configured)
	if cfg.Publish != nil {
		failedStep = StepPublish
		if err := s.runPublish(ctx, *cfg.Publish, []string{report.Archive.Path, report.Dump.OutputPath}); err != nil {
			runErr = err
			return err
		}
		report.Published = true
	}

	// Success - clear failedStep
	failedStep = ""
	logger.Info().
		Dur("duration", time.Since(rc.StartedAt)).
		Str("archive", report.Archive.Path).
		Str("dump", report.Dump.OutputPath).
		Int("replacements", report.Replacements).
		Msg("snapshot run completed successfully")

	return nil
}

// discover resolves both service ports concurrently.
func (s *Impl) discover(ctx context.Context, logger zerolog.Logger, cfg models.DiscoveryConfig) (*models.PortMapping, *models.PortMapping, error) {
	var dbMapping, webMapping *models.PortMapping

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.discoverer.Discover(gctx, cfg.DatabaseService, cfg.DatabasePort)
		if err != nil {
			return fmt.Errorf("discovering %s port: %w", cfg.DatabaseService, err)
		}
		dbMapping = m
		return nil
	})
	g.Go(func() error {
		m, err := s.discoverer.Discover(gctx, cfg.WebService, cfg.WebPort)
		if err != nil {
			return fmt.Errorf("discovering %s port: %w", cfg.WebService, err)
		}
		webMapping = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	logger.Info().
		Str("database_port", dbMapping.HostPort).
		Str("web_port", webMapping.HostPort).
		Msg("ports discovered")

	return dbMapping, webMapping, nil
}

// exportDatabase runs the gate, dump and rewrite steps and returns the step
// that failed, if any.
func (s *Impl) exportDatabase(
	ctx context.Context,
	logger zerolog.Logger,
	rc models.RunContext,
	cfg models.Config,
	dbCfg models.DatabaseConfig,
	webPort string,
	report *models.SnapshotReport,
) (string, error) {
	if !s.mysqlSvc.CheckConnection(ctx, dbCfg) {
		logger.Error().
			Str("host", dbCfg.Host).
			Str("port", dbCfg.Port).
			Msg("database unreachable, skipping dump")
		return StepGate, fmt.Errorf("%w: %s:%s", ErrDatabaseUnreachable, dbCfg.Host, dbCfg.Port)
	}

	outputPath := filepath.Join(cfg.DumpDir, mysql.DumpFilename(rc.StartedAt))
	dumpResult, err := s.mysqlSvc.Dump(ctx, dbCfg, outputPath)
	if err != nil {
		return StepDump, fmt.Errorf("MySQL dump failed: %w", err)
	}
	report.Dump = dumpResult
	if dumpResult.Error != nil {
		return StepDump, fmt.Errorf("MySQL dump failed: %w", dumpResult.Error)
	}

	rules := rewrite.Rules(webPort, cfg.Rewrite.Domain)
	rewriteResult, err := s.rewriteSvc.RewriteFile(outputPath, rules)
	if err != nil {
		return StepRewrite, fmt.Errorf("rewrite failed: %w", err)
	}
	if rewriteResult.Error != nil {
		return StepRewrite, fmt.Errorf("rewrite failed: %w", rewriteResult.Error)
	}
	report.Replacements = rewriteResult.Total()

	return "", nil
}

func (s *Impl) runPublish(ctx context.Context, cfg models.PublishConfig, files []string) error {
	result, err := s.publishSvc.Upload(ctx, cfg, files)
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("publish failed: %w", result.Error)
	}

	s.logger.Info().
		Strs("uploaded", result.Uploaded).
		Str("host", cfg.Host).
		Msg("snapshot published")

	return nil
}

func (s *Impl) report(ctx context.Context, logger zerolog.Logger, cfg models.Config, report models.SnapshotReport) {
	if cfg.Metrics != nil && cfg.Metrics.Textfile != "" {
		if err := s.metricsW.WriteReport(cfg.Metrics.Textfile, report); err != nil {
			logger.Error().Err(err).Msg("failed to write metrics")
		}
	}

	if cfg.Telegram == nil {
		return
	}

	result, err := s.notifySvc.SendReport(ctx, *cfg.Telegram, report)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	logger.Info().Msg("Telegram notification sent")
}
