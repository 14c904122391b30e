// Package cliconfig layers the command line tool's settings on top of the
// core configuration, loading them from a YAML file under the XDG config
// directory and creating commented defaults on first run.
package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/codedcells/favarch/pkg/config"
)

const AppName = "favarch"

// Config extends the core config with CLI-specific options.
type Config struct {
	config.Config `koanf:",squash"`
	TargetsFile   string `koanf:"targets_file"`
	ListenAddr    string `koanf:"listen_addr"`
	LogLevel      string `koanf:"log_level"`
	Editor        string `koanf:"editor"`
}

// Default returns the default CLI configuration.
func Default() (*Config, error) {
	coreCfg := config.Default()
	targetsPath, err := xdg.DataFile(filepath.Join(AppName, "targets.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get default targets path: %w", err)
	}
	return &Config{
		Config:      *coreCfg,
		TargetsFile: targetsPath,
		ListenAddr:  "127.0.0.1:8472",
		LogLevel:    "info",
		Editor:      "", // Determined in the 'edit' command logic.
	}, nil
}

// Load loads the configuration from the given path, falling back to the
// default XDG location and creating it when absent.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	defCfg, err := Default()
	if err != nil {
		return nil, err
	}
	cfgPath := path
	if cfgPath == "" {
		cfgPath, err = xdg.ConfigFile(filepath.Join(AppName, "config.yaml"))
		if err != nil {
			return nil, fmt.Errorf("failed to get default config path: %w", err)
		}
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := createDefaultConfig(cfgPath, defCfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	cfg := defCfg
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.TargetsFile == "" {
		cfg.TargetsFile = defCfg.TargetsFile
	}
	if _, err := os.Stat(cfg.TargetsFile); errors.Is(err, os.ErrNotExist) {
		if err := createDefaultTargetsFile(cfg.TargetsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create default targets file: %v\n", err)
		}
	}
	return cfg, nil
}

// createDefaultConfig creates a commented configuration file.
func createDefaultConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	content := fmt.Sprintf(`# favarch CLI configuration file.
# Root directory of the media archive. Files are stored in sharded
# subdirectories derived from the submission identifier.
archive_root: "%s"
# Database holding the favorite relations and submission metadata.
faves_db: "%s"
# Database holding compressed page snapshots.
pages_db: "%s"
# Database holding the media index and perceptual fingerprints.
media_db: "%s"
# Base URL of the gallery site.
base_url: "%s"
# Accounts whose favorites are crawled when no targets are given.
users: []
# Path to a file containing accounts to crawl, one per line.
targets_file: "%s"
# File whose contents are sent as the Cookie header (the logged-in session).
cookies_file: "%s"
# Minimum delay between any two requests against the site.
rate_interval: "%s"
# Pause before reissuing a request that failed with a server error.
retry_backoff: "%s"
# How many times a failing request is reissued before giving up.
max_retries: %d
# Concurrent crawl targets. Requests still share one rate limiter.
max_workers: %d
# Walk every listing page instead of stopping at the first page
# with no new favorites.
full_rescan: %t
# Abort a run on the first failed identifier instead of skipping it.
strict_failures: %t
# Download links longer than this with more percent escapes than
# signed_url_min_escapes are treated as expiring signed URLs.
signed_url_min_length: %d
signed_url_min_escapes: %d
# Webhook that receives a JSON message after each crawl run. Empty disables.
notify_url: "%s"
# Directory for per-run log files.
log_dir: "%s"
# Minimum log level: trace, debug, info, warn, error.
log_level: "%s"
# Address the 'serve' command listens on.
listen_addr: "%s"
# Editor for the 'edit' command. Falls back to $EDITOR, then common editors.
editor: "%s"
`, cfg.ArchiveRoot, cfg.FavesDB, cfg.PagesDB, cfg.MediaDB, cfg.BaseURL,
		cfg.TargetsFile, cfg.CookiesFile, cfg.RateInterval, cfg.RetryBackoff,
		cfg.MaxRetries, cfg.MaxWorkers, cfg.FullRescan, cfg.StrictFailures,
		cfg.SignedURLMinLength, cfg.SignedURLMinEscapes, cfg.NotifyURL,
		cfg.LogDir, cfg.LogLevel, cfg.ListenAddr, cfg.Editor)
	content = strings.ReplaceAll(content, "\\", "/")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write default config file: %w", err)
	}
	return nil
}

// createDefaultTargetsFile creates a commented targets file.
func createDefaultTargetsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create targets directory: %w", err)
	}
	content := `# Add account names whose favorites should be archived, one per line.
# Lines starting with # are ignored.
#
# Example:
# somewatcher
`
	return os.WriteFile(path, []byte(content), 0600)
}
