package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/pipeline"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawl the sitemap, then submit pending URLs",
		Long: `Crawls the configured sitemap into the URL ledger, prunes stale quota
entries, and submits every pending URL that fits in today's remaining quota.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts, false)
		},
	}
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit",
		Short: "Submit pending URLs without crawling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts, true)
		},
	}
}

func runPipeline(cmd *cobra.Command, opts *rootOptions, skipCrawl bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	summary, err := appInstance.Run(cmd.Context(), pipeline.RunOptions{
		Operation: indexer.OperationFromDeleteFlag(opts.deleteMode),
		SkipCrawl: skipCrawl,
	})
	if summary.RunID != "" {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, s indexer.Summary) {
	fmt.Fprintf(w, "run %s (%s)\n", s.RunID, s.Operation)
	if s.Crawl != nil {
		fmt.Fprintf(w, "  crawl: %d sitemaps, %d failed, %d new urls, %d total\n",
			s.Crawl.SitemapsVisited, s.Crawl.SitemapsFailed, s.Crawl.NewURLs, s.Crawl.TotalDiscovered)
	}
	fmt.Fprintf(w, "  pending %d, capacity %d\n", s.Pending, s.Capacity)
	for _, c := range s.Credentials {
		fmt.Fprintf(w, "  %s: assigned %d, succeeded %d, failed %d, skipped %d\n",
			c.CredentialID, c.Assigned, c.Succeeded, c.Failed, c.Skipped)
	}
	fmt.Fprintf(w, "  succeeded %d, failed %d, skipped %d\n", s.Succeeded, s.Failed, s.Skipped)
}
