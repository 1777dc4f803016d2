package main

import (
	"fmt"

	"github.com/fgeck/wpsnap/internal/config"
	"github.com/fgeck/wpsnap/internal/models"
	"github.com/fgeck/wpsnap/internal/services/ports"
	"github.com/fgeck/wpsnap/internal/services/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create an application archive and a rewritten database dump",
	Long: `Create a deployable snapshot:
1. Discover the published MySQL and web ports
2. Zip the application directory
3. Check that the database accepts connections
4. Dump the database with mysqldump
5. Rewrite local URLs in the dump to the production domain
6. Upload archive and dump over SSH (if configured)
7. Write metrics and send a Telegram notification (if configured)`,
	RunE: runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	if err := config.ValidateSnapshot(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	rc := models.NewRunContext()
	logger := log.Logger.With().Str("run_id", rc.ID).Logger()

	logger.Info().
		Str("config", configFile).
		Str("domain", cfg.Rewrite.Domain).
		Str("backend", cfg.Discovery.Backend).
		Msg("configuration loaded")

	discoverer, closeFn, err := newDiscoverer(log.Logger, cfg.Discovery)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set up port discovery")
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, discoverer, cfg.Database.DumpCommand)
	if err := runnerSvc.Run(ctx, rc, *cfg); err != nil {
		logger.Error().Err(err).Msg("snapshot failed")
		return err
	}

	logger.Info().Msg("snapshot completed successfully")
	return nil
}

// newDiscoverer builds the port discovery backend. The returned func
// releases backend resources.
func newDiscoverer(logger zerolog.Logger, cfg models.DiscoveryConfig) (ports.Discoverer, func(), error) {
	switch cfg.Backend {
	case models.BackendDocker:
		lister, err := ports.NewDockerLister()
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := lister.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close docker client")
			}
		}
		return ports.NewDockerService(logger, lister), closeFn, nil
	case models.BackendCompose, "":
		return ports.New(logger, cfg.Command), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown discovery backend %q", cfg.Backend)
	}
}
