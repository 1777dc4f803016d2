// Package models contains the data structures used throughout wpsnap.
package models

import "time"

// Discovery backends.
const (
	BackendCompose = "compose"
	BackendDocker  = "docker"
)

// Config holds the complete configuration for wpsnap.
type Config struct {
	AppDir      string
	ArchivePath string
	DumpDir     string
	Discovery   DiscoveryConfig
	Database    DatabaseSettings
	Rewrite     RewriteConfig
	Snapshot    SnapshotSettings
	Provision   ProvisionConfig
	Publish     *PublishConfig  // nil if not configured
	Telegram    *TelegramConfig // nil if not configured
	Metrics     *MetricsConfig  // nil if not configured
}

// DiscoveryConfig describes how published container ports are found.
type DiscoveryConfig struct {
	Backend         string   // "compose" (default) or "docker"
	Command         []string // status command for the compose backend
	DatabaseService string
	DatabasePort    string
	WebService      string
	WebPort         string
}

// DatabaseSettings holds the static part of the database connection.
// The port is discovered at run time.
type DatabaseSettings struct {
	Host           string
	Username       string
	Password       string
	Name           string
	DumpCommand    string
	ConnectTimeout time.Duration
}

// RewriteConfig holds dump rewrite settings.
type RewriteConfig struct {
	Domain string
}

// SnapshotSettings controls pipeline scheduling.
type SnapshotSettings struct {
	Parallel bool // build the archive alongside the database export
}

// MetricsConfig holds Prometheus textfile settings.
type MetricsConfig struct {
	Textfile string
}
