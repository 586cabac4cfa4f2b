package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tangxiangong/yushi/internal/models"
)

// Defaults applied when no config file exists yet.
const (
	DefaultMaxConcurrentDownloads = 3
	DefaultChunkSize              = 256 * 1024
	DefaultTimeout                = 30 * time.Second
	DefaultRetryCount             = 5
	DefaultMaxHistory             = 100
	DefaultUserAgent              = "yushi/" + Version

	ConfigFile  = "config.yaml"
	StateFile   = "tasks.json"
	HistoryFile = "history.db"
)

// Version is the running application version, compared against the update
// manifest by the updater.
const Version = "0.1.0"

// AppConfig holds the process-wide settings. It is read by the scheduler at
// every admission decision, so changes affect future admissions only.
type AppConfig struct {
	// MaxConcurrentDownloads caps how many tasks may be DOWNLOADING at once.
	MaxConcurrentDownloads int `yaml:"max_concurrent_downloads"`
	// DownloadDir is the default destination directory for new tasks.
	DownloadDir string `yaml:"download_dir"`
	// ChunkSize is the transfer read buffer size in bytes. Pause and cancel
	// take effect within one chunk-read boundary.
	ChunkSize int64 `yaml:"chunk_size"`
	// Timeout aborts a transfer that makes no progress for this long.
	Timeout time.Duration `yaml:"timeout"`
	// RetryCount is the number of attempts for update manifest fetches.
	RetryCount int    `yaml:"retry_count"`
	UserAgent  string `yaml:"user_agent"`
	// MaxHistory caps the number of stored history records; the oldest are
	// evicted beyond it.
	MaxHistory int `yaml:"max_history"`

	AutoUpdateCheck   bool   `yaml:"auto_update_check"`
	UpdateManifestURL string `yaml:"update_manifest_url"`
}

// Default returns the configuration used when no file exists.
func Default() AppConfig {
	downloadDir := "downloads"
	if home, err := os.UserHomeDir(); err == nil {
		downloadDir = filepath.Join(home, "Downloads")
	}

	return AppConfig{
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		DownloadDir:            downloadDir,
		ChunkSize:              DefaultChunkSize,
		Timeout:                DefaultTimeout,
		RetryCount:             DefaultRetryCount,
		UserAgent:              DefaultUserAgent,
		MaxHistory:             DefaultMaxHistory,
		AutoUpdateCheck:        true,
	}
}

// Validate checks the configuration. Every failure wraps
// models.ErrInvalidConfig.
func (c AppConfig) Validate() error {
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("%w: max_concurrent_downloads must be >= 1, got %d",
			models.ErrInvalidConfig, c.MaxConcurrentDownloads)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", models.ErrInvalidConfig, c.ChunkSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %v", models.ErrInvalidConfig, c.Timeout)
	}
	if c.MaxHistory < 0 {
		return fmt.Errorf("%w: max_history must not be negative, got %d", models.ErrInvalidConfig, c.MaxHistory)
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("%w: download_dir is required", models.ErrInvalidConfig)
	}
	if err := os.MkdirAll(c.DownloadDir, 0755); err != nil {
		return fmt.Errorf("%w: download_dir %s is not creatable: %v", models.ErrInvalidConfig, c.DownloadDir, err)
	}
	return nil
}
