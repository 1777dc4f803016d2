package models

import (
	"time"

	"github.com/google/uuid"
)

// RunContext identifies a single snapshot run.
// StartedAt is captured once and drives the dump filename.
type RunContext struct {
	ID        string
	StartedAt time.Time
}

// NewRunContext captures the current time for a new run.
func NewRunContext() RunContext {
	return RunContext{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
}

// PortMapping is a published host port for a fixed container port.
type PortMapping struct {
	Service       string
	ContainerPort string
	HostPort      string
}

// DatabaseConfig is the connection configuration assembled for one run.
type DatabaseConfig struct {
	Host           string
	User           string
	Password       string
	Name           string
	Port           string
	ConnectTimeout time.Duration
}

// ArchiveResult holds the result of an archive build.
type ArchiveResult struct {
	Path      string
	Files     int
	SizeBytes int64
	Duration  time.Duration
	Error     error
}

// DumpResult holds the result of a mysqldump operation.
type DumpResult struct {
	OutputPath string
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}

// RewriteResult holds the result of a rewrite pass over a dump file.
type RewriteResult struct {
	Path         string
	Replacements []int // per rule, in rule order
	Error        error
}

// Total returns the number of replacements across all rules.
func (r *RewriteResult) Total() int {
	total := 0
	for _, n := range r.Replacements {
		total += n
	}
	return total
}

// SnapshotReport summarizes a snapshot run for notifications and metrics.
type SnapshotReport struct {
	Run          RunContext
	Domain       string
	Success      bool
	Duration     time.Duration
	Archive      *ArchiveResult
	Dump         *DumpResult
	Replacements int
	Published    bool
	FailedStep   string
	ErrorMessage string
}
