package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codedcells/favarch/pkg/server"
)

var flagListen string

// serveCmd exposes the archive over HTTP.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the archive over HTTP.",
	Long: `Starts a read-only HTTP front end: stored media by identifier under
/media/{id}, index lookups under /query and reverse image search under
/search.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := flagListen
		if addr == "" {
			addr = cfg.ListenAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:              addr,
			Handler:           server.New(database, mediaStore, logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		console.Info("Serving archive on %s", addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Address to listen on (overrides config)")
}
