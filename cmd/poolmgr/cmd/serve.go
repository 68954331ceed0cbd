package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opensandbox/poolmgr/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pool to a dispatcher over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		m, closeFn, err := newManager(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		server := api.NewServer(m, cfg.APIKey)
		if cfg.APIKey == "" {
			logrus.Warn("poolmgr: POOLMGR_API_KEY is not set, API authentication is disabled")
		}

		// Graceful shutdown
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		addr := fmt.Sprintf(":%d", cfg.Port)
		logrus.Infof("poolmgr: starting server on %s (backend=%s)", addr, m.Backend())

		if cfg.RefreshInterval > 0 {
			refresher := server.NewRefresher(cfg.RefreshInterval)
			refresher.Start()
			defer refresher.Stop()
		}

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("server error: %w", err)
		case <-quit:
		}

		logrus.Info("poolmgr: shutting down...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutCtx); err != nil {
			logrus.Errorf("error closing server: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
