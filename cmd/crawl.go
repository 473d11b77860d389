package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl per
// selected distributor and exits.
func newCrawlCmd() *cobra.Command {
	var distributors []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl distributors once",
		Long: `Crawls the listed distributors, or every enabled one in the catalogue,
and publishes one parsed batch per distributor. With the in-memory channel
the catalog sync runs in the same process until every batch is applied.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			codes, err := parseDistributors(distributors)
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), codes)
		},
	}
	cmd.Flags().StringSliceVarP(&distributors, "distributor", "d", nil, "distributor name or code to crawl (repeatable)")
	return cmd
}

func runCrawl(ctx context.Context, codes []catalog.DistributorCode) error {
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}

	// A failed crawl must not stop the consumer before it drains the batches
	// of the crawls that succeeded.
	var g errgroup.Group
	if a.InProcessChannel() {
		g.Go(func() error {
			return a.Subscriber.Receive(ctx, a.Consumer.Handle)
		})
	}
	g.Go(func() error {
		defer a.CloseChannel()
		outcomes, err := a.Dispatcher.RunAll(ctx, codes)
		for _, o := range outcomes {
			if o.Err != nil {
				continue
			}
			a.Logger.Info("crawl finished",
				zap.String("distributor", o.Code.String()),
				zap.String("session_id", o.Result.SessionID),
				zap.Int("pages", o.Result.Pages),
				zap.Int("records", o.Result.Records),
				zap.Int("skipped", o.Result.Skipped))
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}

// parseDistributors accepts names or numeric codes. No values select every
// enabled distributor.
func parseDistributors(raw []string) ([]catalog.DistributorCode, error) {
	codes := make([]catalog.DistributorCode, 0, len(raw))
	for _, r := range raw {
		code, err := catalog.ParseDistributorCode(r)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}
