package main

import (
	"github.com/fgeck/wpsnap/internal/config"
	"github.com/fgeck/wpsnap/internal/services/provision"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Download and install WordPress into the application directory",
	Long: `Provision a fresh WordPress tree:
1. Download the release archive
2. Extract it, dropping the archive's top-level folder
3. Move the extracted tree to the target directory
4. Delete the downloaded archive`,
	RunE: runProvision,
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log.Info().
		Str("url", cfg.Provision.URL).
		Str("target", cfg.Provision.TargetDir).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	svc := provision.New(log.Logger, cfg.Provision.Timeout)
	result, err := svc.Provision(ctx, cfg.Provision)
	if err != nil {
		log.Error().Err(err).Msg("provisioning failed")
		return err
	}
	if result.Error != nil {
		return result.Error
	}

	log.Info().
		Str("target", result.TargetDir).
		Int("files", result.FilesExtracted).
		Msg("provisioning completed successfully")
	return nil
}
