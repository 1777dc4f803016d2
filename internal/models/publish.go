package models

// PublishConfig holds SSH upload configuration for snapshot artifacts.
type PublishConfig struct {
	Host      string
	Port      int
	Username  string
	KeyPath   string // private key file
	RemoteDir string
}

// PublishResult holds the result of an upload.
type PublishResult struct {
	Uploaded []string // remote paths written
	Output   string
	Error    error
}
