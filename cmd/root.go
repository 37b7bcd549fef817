// Package cmd defines the socialgraph command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/app"
	"github.com/JakeFAU/socialgraph-crawler/internal/config"
	"github.com/JakeFAU/socialgraph-crawler/internal/export"
	"github.com/JakeFAU/socialgraph-crawler/internal/policy/pacing"
	"github.com/JakeFAU/socialgraph-crawler/internal/seed"
	"github.com/JakeFAU/socialgraph-crawler/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of operations the subcommands drive. *app.App satisfies it;
// tests substitute a fake through newApp.
type App interface {
	Logger() *zap.Logger
	Pacer() *pacing.Pacer
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error
	ResetSchema(ctx context.Context) error
	Seed(ctx context.Context, r io.Reader, filter string) (seed.Stats, error)
	RefreshProfiles(ctx context.Context) (worker.ProfileStats, error)
	Crawl(ctx context.Context, workers int) (app.CrawlResult, error)
	Ego(ctx context.Context, id string, radius int) (worker.EgoResult, error)
	Export(ctx context.Context) (export.Result, error)
	ExportGraph(ctx context.Context) (export.GraphStats, error)
	Recover(ctx context.Context) (int64, error)
	Status(ctx context.Context) (app.Status, error)
	Close() error
}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by app.New
	}
	return a, nil
}

var _ App = (*app.App)(nil)

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "socialgraph",
		Short: "Crawl a social network's follower graph into a relational store.",
		Long: `socialgraph walks the follower and followee lists of a social network,
storing every person and directed relationship it discovers. A crawl can be
interrupted at any time and resumed from the stored frontier.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(); err != nil {
					return fmt.Errorf("close application: %w", err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.socialgraph/config.yaml)")

	cmd.AddCommand(
		newSchemaCmd(),
		newSeedCmd(),
		newProfilesCmd(),
		newCrawlCmd(),
		newEgoCmd(),
		newExportCmd(),
		newRecoverCmd(),
		newStatusCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command until it finishes or the process receives
// SIGINT/SIGTERM. Interrupted crawls stop claiming new persons and let the
// in-flight ones complete.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
