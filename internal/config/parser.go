// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/wpsnap/internal/models"
	"github.com/spf13/viper"
)

// ErrDomainRequired is returned by ValidateSnapshot when no production domain is set.
var ErrDomainRequired = errors.New("rewrite.domain is required")

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with defaults and
// environment bindings applied.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	bindEnv(v)
	return &Parser{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_dir", "app")
	v.SetDefault("archive_path", "app.zip")
	v.SetDefault("dump_dir", ".")

	v.SetDefault("discovery.backend", models.BackendCompose)
	v.SetDefault("discovery.command", []string{"docker-compose", "ps"})
	v.SetDefault("discovery.database_service", "mysql")
	v.SetDefault("discovery.database_port", "3306")
	v.SetDefault("discovery.web_service", "nginx")
	v.SetDefault("discovery.web_port", "80")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.dump_command", "mysqldump")
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("provision.url", "https://wordpress.org/latest.zip")
	v.SetDefault("provision.download_path", "wordpress.zip")
	v.SetDefault("provision.extract_dir", "wordpress")
	v.SetDefault("provision.target_dir", "app")
	v.SetDefault("provision.timeout", 5*time.Minute)
}

// envKeys maps config keys to the environment variables bound to them.
var envKeys = map[string]string{
	"database.username": "DB_USERNAME",
	"database.password": "DB_PASSWORD",
	"database.name":     "DB_DATABASE",
	"rewrite.domain":    "WPSNAP_DOMAIN",
}

// bindEnv maps the WordPress container's credential variables onto the
// database section. Missing variables are not an error here.
func bindEnv(v *viper.Viper) {
	for key, name := range envKeys {
		_ = v.BindEnv(key, name)
	}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaults builds a configuration from defaults and the environment only.
func (p *Parser) LoadDefaults() (*models.Config, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{
		AppDir:      p.v.GetString("app_dir"),
		ArchivePath: p.v.GetString("archive_path"),
		DumpDir:     p.v.GetString("dump_dir"),
	}

	if cfg.AppDir == "" {
		return nil, fmt.Errorf("app_dir must not be empty")
	}
	if cfg.ArchivePath == "" {
		return nil, fmt.Errorf("archive_path must not be empty")
	}

	// Port discovery.
	cfg.Discovery = models.DiscoveryConfig{
		Backend:         p.v.GetString("discovery.backend"),
		Command:         p.v.GetStringSlice("discovery.command"),
		DatabaseService: p.v.GetString("discovery.database_service"),
		DatabasePort:    p.v.GetString("discovery.database_port"),
		WebService:      p.v.GetString("discovery.web_service"),
		WebPort:         p.v.GetString("discovery.web_port"),
	}

	validBackends := map[string]bool{models.BackendCompose: true, models.BackendDocker: true}
	if !validBackends[cfg.Discovery.Backend] {
		return nil, fmt.Errorf("discovery.backend must be one of: compose, docker")
	}
	if cfg.Discovery.Backend == models.BackendCompose && len(cfg.Discovery.Command) == 0 {
		return nil, fmt.Errorf("discovery.command is required for the compose backend")
	}
	if cfg.Discovery.DatabaseService == "" || cfg.Discovery.WebService == "" {
		return nil, fmt.Errorf("discovery service names must not be empty")
	}

	// Database. Credentials are not validated; a bad login fails the connectivity check.
	cfg.Database = models.DatabaseSettings{
		Host:           p.v.GetString("database.host"),
		Username:       p.boundString("database.username"),
		Password:       p.boundString("database.password"),
		Name:           p.boundString("database.name"),
		DumpCommand:    p.v.GetString("database.dump_command"),
		ConnectTimeout: p.v.GetDuration("database.connect_timeout"),
	}

	cfg.Rewrite = models.RewriteConfig{
		Domain: p.boundString("rewrite.domain"),
	}

	cfg.Snapshot = models.SnapshotSettings{
		Parallel: p.v.GetBool("snapshot.parallel"),
	}

	cfg.Provision = models.ProvisionConfig{
		URL:          p.expandEnv(p.v.GetString("provision.url")),
		DownloadPath: p.v.GetString("provision.download_path"),
		ExtractDir:   p.v.GetString("provision.extract_dir"),
		TargetDir:    p.v.GetString("provision.target_dir"),
		Timeout:      p.v.GetDuration("provision.timeout"),
	}

	// Parse optional publish config.
	if p.v.IsSet("publish") { //nolint:nestif // config parsing with defaults
		cfg.Publish = &models.PublishConfig{
			Host:      p.v.GetString("publish.host"),
			Port:      p.v.GetInt("publish.port"),
			Username:  p.v.GetString("publish.username"),
			KeyPath:   p.expandEnv(p.v.GetString("publish.key_path")),
			RemoteDir: p.v.GetString("publish.remote_dir"),
		}

		if cfg.Publish.Host == "" {
			return nil, fmt.Errorf("publish.host is required when publish is configured")
		}
		if cfg.Publish.Port == 0 {
			cfg.Publish.Port = 22
		}
		if cfg.Publish.Username == "" {
			cfg.Publish.Username = "root"
		}
		if cfg.Publish.KeyPath == "" {
			return nil, fmt.Errorf("publish.key_path is required when publish is configured")
		}
		if cfg.Publish.RemoteDir == "" {
			return nil, fmt.Errorf("publish.remote_dir is required when publish is configured")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	if textfile := p.v.GetString("metrics.textfile"); textfile != "" {
		cfg.Metrics = &models.MetricsConfig{Textfile: textfile}
	}

	return cfg, nil
}

// boundString returns an env-bound key. Values taken from the environment are
// used verbatim; only values from the config file get ${VAR} expansion.
func (p *Parser) boundString(key string) string {
	if name, ok := envKeys[key]; ok {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return p.expandEnv(p.v.GetString(key))
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.AppDir == "" {
		return fmt.Errorf("app_dir must not be empty")
	}

	if cfg.Provision.URL == "" {
		return fmt.Errorf("provision.url is required")
	}

	if cfg.Provision.ExtractDir == cfg.Provision.TargetDir {
		return fmt.Errorf("provision.extract_dir and provision.target_dir must differ")
	}

	return nil
}

// ValidateSnapshot checks the settings only the snapshot command needs.
func ValidateSnapshot(cfg *models.Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	if cfg.Rewrite.Domain == "" {
		return ErrDomainRequired
	}

	return nil
}
