package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/codedcells/favarch/pkg/client"
	"github.com/codedcells/favarch/pkg/fetch"
	"github.com/codedcells/favarch/pkg/logging"
	"github.com/codedcells/favarch/pkg/ratelimiter"
	"github.com/codedcells/favarch/pkg/storage/sqlite"
	"github.com/codedcells/favarch/pkg/store"
	"github.com/codedcells/favarch/tools/favarch/internal/cli"
	cliconfig "github.com/codedcells/favarch/tools/favarch/internal/config"
	"github.com/codedcells/favarch/tools/favarch/internal/update"
)

var (
	// cfg stores the application configuration.
	cfg *cliconfig.Config
	// console is the CLI console for output.
	console *cli.Console
	// logger is the structured run logger.
	logger zerolog.Logger
	// closeLogger flushes the log file on shutdown.
	closeLogger func() error
	// database is the archive index.
	database *sqlite.DB
	// appClient drives the archive pipeline.
	appClient *client.Client
	// mediaStore is the content-addressed file store.
	mediaStore *store.Store
	// flagConfigPath is the path to the config file.
	flagConfigPath string
	// flagQuiet enables or disables quiet mode.
	flagQuiet bool
	// version is set at build time. See the .goreleaser.yml file.
	version string
)

// SetVersion sets the version of the application.
func SetVersion(v string) {
	version = v
	if rootCmd != nil {
		rootCmd.Version = v
	}
}

// lightweightCommands run without the database and pipeline setup.
var lightweightCommands = []string{"completion", "edit", "update"}

var rootCmd = &cobra.Command{
	Use:   "favarch [command|targets...]",
	Short: "An unattended archiver for gallery favorites.",
	Long: `An unattended archiver for gallery favorites.

Run 'favarch [targets...]' to crawl the favorites of the given accounts,
or use a specific command. For example:
  favarch somewatcher --full-rescan
  favarch sync
  favarch search ./query.png --distance 8`,
	Args: cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isLightweight(cmd) {
			return nil
		}

		targets := getTargets(cfg, console, args)
		cleanLogs, _ := cmd.Flags().GetBool("clean-logs")

		var err error
		logger, closeLogger, err = logging.New(logging.Options{
			Dir:         cfg.LogDir,
			Level:       logging.ParseLevel(cfg.LogLevel),
			Redact:      cleanLogs,
			ArchiveRoot: cfg.ArchiveRoot,
			Users:       targets,
		})
		if err != nil {
			return err
		}

		database, err = sqlite.New(cfg.FavesDB, cfg.PagesDB, cfg.MediaDB)
		if err != nil {
			return err
		}
		mediaStore, err = store.New(cfg.ArchiveRoot)
		if err != nil {
			return err
		}

		fetcher := fetch.New(ratelimiter.New(cfg.RateInterval), fetch.Options{
			Cookie:     readCookie(cfg.CookiesFile),
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
		})
		appClient = client.New(&cfg.Config, database, fetcher, mediaStore, logger)

		if latestVersion, err := update.CheckForUpdate(version); err == nil && latestVersion != "" {
			console.Warn("A new version of favarch is available: %s. Run 'favarch update' to upgrade.", console.Bold.Sprint(latestVersion))
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLogger != nil {
			_ = closeLogger()
		}
		if database != nil {
			return database.Close()
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// The default action is the crawl.
		return runCrawl(cmd, args)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func isLightweight(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		for _, name := range lightweightCommands {
			if c.Name() == name {
				return true
			}
		}
	}
	return false
}

func init() {
	console = cli.New(false)

	cobra.OnInitialize(func() {
		if val, err := rootCmd.Flags().GetBool("quiet"); err == nil && val {
			flagQuiet = true
			console = cli.New(true)
		}
		if val, err := rootCmd.Flags().GetString("config"); err == nil {
			flagConfigPath = val
		}

		var err error
		cfg, err = cliconfig.Load(flagConfigPath)
		if err != nil {
			console.Error("Error loading config: %v", err)
			os.Exit(1)
		}
		applyFlagOverrides(rootCmd, cfg)
	})

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Quiet mode, no console output except for errors")
	rootCmd.PersistentFlags().String("log-level", "", "Minimum log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "Shorthand for --log-level debug")
	rootCmd.PersistentFlags().Bool("clean-logs", false, "Redact sensitive info (usernames, paths, tokens) from log output")

	rootCmd.PersistentFlags().StringP("dir", "d", "", "Archive root directory (overrides config)")
	rootCmd.PersistentFlags().String("targets", "", "Path to a file with a list of accounts (overrides config)")
	rootCmd.PersistentFlags().String("base-url", "", "Base URL of the gallery site (overrides config)")
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "Number of concurrent crawl targets (overrides config)")
	rootCmd.PersistentFlags().Bool("full-rescan", false, "Walk every listing page instead of stopping at known favorites")
	rootCmd.PersistentFlags().Bool("strict", false, "Abort on the first failed identifier instead of skipping it")
	rootCmd.PersistentFlags().String("notify-url", "", "Webhook pinged after a crawl run (overrides config)")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(rehashCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(updateCmd)
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}
