// Package cmd defines the sitemap-indexer CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/app"
	"github.com/JakeFAU/sitemap-indexer/internal/config"
	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/logging"
	"github.com/JakeFAU/sitemap-indexer/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands use. Tests inject a fake through newApp.
type App interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (indexer.Summary, error)
	Crawl(ctx context.Context) (indexer.CrawlResult, error)
	Quota(ctx context.Context) ([]indexer.CredentialReport, error)
	ResetQuota(ctx context.Context) error
	Serve(ctx context.Context)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile    string
	deleteMode bool
	rootURL    string
	// app is closed by run even when the command fails, which PersistentPostRun would skip.
	app App
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sitemap-indexer",
		Short: "Crawl a sitemap and submit its URLs to the Google Indexing API.",
		Long: `sitemap-indexer walks a sitemap tree, records every page URL in a
durable ledger, and notifies the Google Indexing API about pages that have
not been submitted yet, spreading the work across service-account
credentials without exceeding any credential's daily quota.

Running the root command is the same as "run".`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.rootURL != "" {
				cfg.Sitemap.RootURL = opts.rootURL
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logging.Sync(logger)
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			appInstance.Serve(cmd.Context())
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts, false)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON, or TOML)")
	cmd.PersistentFlags().BoolVar(&opts.deleteMode, "delete", false, "notify URL_DELETED instead of URL_UPDATED")
	cmd.PersistentFlags().StringVar(&opts.rootURL, "sitemap", "", "root sitemap URL (overrides sitemap.root_url)")

	cmd.AddCommand(
		newRunCmd(opts),
		newCrawlCmd(),
		newSubmitCmd(opts),
		newQuotaCmd(),
		newResetQuotaCmd(),
	)
	return cmd, opts
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd, opts := newRootCmd()
	err := run(ctx, cmd, opts)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes cmd and then shuts down whatever app the pre-run hook built.
func run(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	err := cmd.ExecuteContext(ctx)
	if opts.app != nil {
		if cerr := opts.app.Close(context.WithoutCancel(ctx)); cerr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", cerr)
		}
		opts.app = nil
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
