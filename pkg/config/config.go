package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Config struct holds the core, application-agnostic configuration.
type Config struct {
	ArchiveRoot         string        `koanf:"archive_root"`           // Root directory of the content-addressed media store.
	FavesDB             string        `koanf:"faves_db"`               // Path to the favorites and metadata database.
	PagesDB             string        `koanf:"pages_db"`               // Path to the page snapshot database.
	MediaDB             string        `koanf:"media_db"`               // Path to the media index database.
	BaseURL             string        `koanf:"base_url"`               // Base URL of the gallery site.
	Users               []string      `koanf:"users"`                  // Accounts whose favorites are crawled.
	CookiesFile         string        `koanf:"cookies_file"`           // File holding the session Cookie header.
	RateInterval        time.Duration `koanf:"rate_interval"`          // Minimum delay between any two requests.
	RetryBackoff        time.Duration `koanf:"retry_backoff"`          // Pause before reissuing a failed request.
	MaxRetries          int           `koanf:"max_retries"`            // Retry budget for server errors.
	MaxWorkers          int           `koanf:"max_workers"`            // Concurrent crawl targets.
	FullRescan          bool          `koanf:"full_rescan"`            // Walk every listing page instead of stopping at known ones.
	StrictFailures      bool          `koanf:"strict_failures"`        // Abort a sync run on the first failed identifier.
	SignedURLMinLength  int           `koanf:"signed_url_min_length"`  // Minimum URL length treated as a signed link.
	SignedURLMinEscapes int           `koanf:"signed_url_min_escapes"` // Minimum percent escapes treated as a signed link.
	NotifyURL           string        `koanf:"notify_url"`             // Optional webhook pinged after a crawl run.
	LogDir              string        `koanf:"log_dir"`                // Directory for per-run log files.
}

// Default returns the default core configuration.
func Default() *Config {
	dataDir := filepath.Join(xdg.DataHome, "favarch")

	archiveRoot := filepath.Join(dataDir, "archive")

	return &Config{
		ArchiveRoot: archiveRoot,
		FavesDB:     filepath.Join(dataDir, "faves.db"),
		PagesDB:     filepath.Join(dataDir, "pages.db"),
		// The media index lives inside the archive so it travels with
		// the files it describes.
		MediaDB:             filepath.Join(archiveRoot, "media.db"),
		BaseURL:             "https://www.furaffinity.net",
		CookiesFile:         filepath.Join(xdg.ConfigHome, "favarch", "cookies.txt"),
		RateInterval:        2 * time.Second,
		RetryBackoff:        3 * time.Second,
		MaxRetries:          3,
		MaxWorkers:          1,
		FullRescan:          false,
		StrictFailures:      false,
		SignedURLMinLength:  100,
		SignedURLMinEscapes: 3,
		LogDir:              filepath.Join(xdg.StateHome, "favarch", "logs"),
	}
}
