package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSyncCmd creates the 'sync' subcommand, which consumes parsed batches
// until interrupted.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Apply parsed batches to the catalog",
		Long: `Subscribes to the parsed-album channel and applies every batch to the
catalog, publishing a processed event per batch. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.InProcessChannel() {
				return errors.New("sync needs a shared channel; set pubsub.backend to gcp or use serve")
			}
			a.Logger.Info("catalog sync started", zap.String("subscription", a.Config.PubSub.ParsedSubscription))
			if err := a.Subscriber.Receive(cmd.Context(), a.Consumer.Handle); err != nil {
				return fmt.Errorf("receive parsed batches: %w", err)
			}
			a.Logger.Info("catalog sync stopped")
			return nil
		},
	}
}
