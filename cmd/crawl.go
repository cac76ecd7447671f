package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the sitemap into the URL ledger without submitting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Crawl(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "crawled %d sitemaps (%d failed): %d new urls, %d total\n",
				res.SitemapsVisited, res.SitemapsFailed, res.NewURLs, res.TotalDiscovered)
			return nil
		},
	}
}
