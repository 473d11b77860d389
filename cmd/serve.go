package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/metal-release-crawler/internal/api"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand: the HTTP API, on-demand
// crawls and the catalog sync in one process.
func newServeCmd() *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the catalog sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg := a.Config

			apiCfg := api.Config{RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second}
			if cfg.Auth.Enabled {
				apiCfg.APIKey = cfg.Auth.APIKey
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           api.NewServer(apiCfg, a.Sessions, a.Dispatcher, a.ReadinessChecks(), a.Logger.Named("api")).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.Logger.Info("dispatcher started")
				a.Dispatcher.Run(gctx)
				return nil
			})
			if !noSync {
				g.Go(func() error {
					a.Logger.Info("catalog sync started")
					return a.Subscriber.Receive(gctx, a.Consumer.Handle)
				})
			}
			g.Go(func() error {
				a.Logger.Info("http server started", zap.Int("port", cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.Logger.Info("shutdown initiated")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.Logger.Error("server shutdown error", zap.Error(err))
				}
				a.CloseChannel()
				return nil
			})

			err = g.Wait()
			a.Logger.Info("shutdown complete")
			return err
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "do not consume parsed batches in this process")
	return cmd
}
