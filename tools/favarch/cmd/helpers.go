package cmd

import (
	"bufio"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codedcells/favarch/tools/favarch/internal/cli"
	cliconfig "github.com/codedcells/favarch/tools/favarch/internal/config"
)

// getTargets resolves the accounts to crawl: command line arguments first,
// then the configured users, then the targets file.
func getTargets(cfg *cliconfig.Config, console *cli.Console, args []string) []string {
	if len(args) > 0 {
		return args
	}
	if len(cfg.Users) > 0 {
		return cfg.Users
	}
	if cfg.TargetsFile == "" {
		return nil
	}
	file, err := os.Open(cfg.TargetsFile) // #nosec G304
	if err != nil {
		console.Warn("Could not open targets file '%s': %v", cfg.TargetsFile, err)
		return nil
	}
	defer func() {
		if err := file.Close(); err != nil {
			console.Warn("Could not close targets file '%s': %v", cfg.TargetsFile, err)
		}
	}()

	var fileTargets []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			fileTargets = append(fileTargets, line)
		}
	}
	if err := scanner.Err(); err != nil {
		console.Warn("Error reading targets file '%s': %v", cfg.TargetsFile, err)
	}
	return fileTargets
}

// readCookie returns the contents of the cookie file, empty when absent.
// Crawling without a session still works for public favorites.
func readCookie(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// applyFlagOverrides layers command line flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *cliconfig.Config) {
	flags := cmd.Flags()
	if val, err := flags.GetString("dir"); err == nil && val != "" {
		cfg.ArchiveRoot = val
	}
	if val, err := flags.GetString("targets"); err == nil && val != "" {
		cfg.TargetsFile = val
	}
	if val, err := flags.GetString("base-url"); err == nil && val != "" {
		cfg.BaseURL = val
	}
	if val, err := flags.GetInt("workers"); err == nil && val > 0 {
		cfg.MaxWorkers = val
	}
	if val, err := flags.GetBool("full-rescan"); err == nil && val {
		cfg.FullRescan = true
	}
	if val, err := flags.GetBool("strict"); err == nil && val {
		cfg.StrictFailures = true
	}
	if val, err := flags.GetString("notify-url"); err == nil && val != "" {
		cfg.NotifyURL = val
	}
	if val, err := flags.GetString("log-level"); err == nil && val != "" {
		cfg.LogLevel = val
	}
	if val, err := flags.GetBool("debug"); err == nil && val {
		cfg.LogLevel = "debug"
	}
}
