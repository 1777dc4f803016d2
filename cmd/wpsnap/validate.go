package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/wpsnap/internal/config"
	"github.com/fgeck/wpsnap/internal/models"
	"github.com/fgeck/wpsnap/internal/services/publish"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkPublish bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the configuration without running a snapshot or provisioning.`,
	RunE:  validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&checkPublish, "check-publish", false, "also test the SSH connection of the publish target")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  App directory: %s\n", cfg.AppDir)
	fmt.Printf("  Archive: %s\n", cfg.ArchivePath)
	fmt.Printf("  Dump directory: %s\n", cfg.DumpDir)
	if cfg.Rewrite.Domain != "" {
		fmt.Printf("  Production domain: %s\n", cfg.Rewrite.Domain)
	} else {
		fmt.Println("  Production domain: (not set, snapshot will refuse to run)")
	}
	fmt.Printf("  Parallel archive: %v\n", cfg.Snapshot.Parallel)
	fmt.Println()
	fmt.Println("Discovery:")
	fmt.Printf("  Backend: %s\n", cfg.Discovery.Backend)
	if cfg.Discovery.Backend != models.BackendDocker {
		fmt.Printf("  Command: %v\n", cfg.Discovery.Command)
	}
	fmt.Printf("  Database: %s (container port %s)\n", cfg.Discovery.DatabaseService, cfg.Discovery.DatabasePort)
	fmt.Printf("  Web: %s (container port %s)\n", cfg.Discovery.WebService, cfg.Discovery.WebPort)
	fmt.Println()
	fmt.Println("Database:")
	fmt.Printf("  Host: %s\n", cfg.Database.Host)
	fmt.Printf("  Name: %s\n", cfg.Database.Name)
	fmt.Printf("  User: %s\n", cfg.Database.Username)
	fmt.Printf("  Dump command: %s\n", cfg.Database.DumpCommand)
	fmt.Println()
	fmt.Println("Provisioning:")
	fmt.Printf("  URL: %s\n", cfg.Provision.URL)
	fmt.Printf("  Target: %s\n", cfg.Provision.TargetDir)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Publish: %v\n", cfg.Publish != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics != nil)

	if cfg.Publish != nil {
		fmt.Println()
		fmt.Println("Publish Configuration:")
		fmt.Printf("  Host: %s\n", cfg.Publish.Host)
		fmt.Printf("  Port: %d\n", cfg.Publish.Port)
		fmt.Printf("  Username: %s\n", cfg.Publish.Username)
		fmt.Printf("  Remote dir: %s\n", cfg.Publish.RemoteDir)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if cfg.Metrics != nil {
		fmt.Println()
		fmt.Println("Metrics Configuration:")
		fmt.Printf("  Textfile: %s\n", cfg.Metrics.Textfile)
	}

	if checkPublish && cfg.Publish != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := publish.New(log.Logger).TestConnection(ctx, *cfg.Publish)
		if err != nil {
			return err
		}
		if result.Error != nil {
			log.Error().Err(result.Error).Msg("publish connection test failed")
			return result.Error
		}
		fmt.Println()
		fmt.Println("Publish connection: OK")
	}

	return nil
}
