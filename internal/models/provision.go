package models

import "time"

// ProvisionConfig holds WordPress provisioning settings.
type ProvisionConfig struct {
	URL          string
	DownloadPath string
	ExtractDir   string
	TargetDir    string
	Timeout      time.Duration
}

// ProvisionState is a stage of the provisioning procedure.
type ProvisionState string

// Provisioning states.
const (
	StateIdle        ProvisionState = "idle"
	StateDownloading ProvisionState = "downloading"
	StateExtracting  ProvisionState = "extracting"
	StateRenaming    ProvisionState = "renaming"
	StateDone        ProvisionState = "done"
	StateFailed      ProvisionState = "failed"
)

// ProvisionResult holds the result of a provisioning run.
type ProvisionResult struct {
	State           ProvisionState
	FailedState     ProvisionState // state that was active when the run failed
	DownloadedBytes int64
	FilesExtracted  int
	TargetDir       string
	Duration        time.Duration
	Error           error
}
