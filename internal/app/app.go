// Package app builds the long-lived services of a crawl from configuration and
// exposes one method per operator command.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/socialgraph-crawler/internal/api"
	"github.com/JakeFAU/socialgraph-crawler/internal/clock/system"
	"github.com/JakeFAU/socialgraph-crawler/internal/config"
	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/dispatcher"
	"github.com/JakeFAU/socialgraph-crawler/internal/export"
	collyfetcher "github.com/JakeFAU/socialgraph-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/socialgraph-crawler/internal/id/uuid"
	"github.com/JakeFAU/socialgraph-crawler/internal/logging"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
	"github.com/JakeFAU/socialgraph-crawler/internal/parser"
	"github.com/JakeFAU/socialgraph-crawler/internal/policy/pacing"
	"github.com/JakeFAU/socialgraph-crawler/internal/scheduler"
	"github.com/JakeFAU/socialgraph-crawler/internal/seed"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage"
	"github.com/JakeFAU/socialgraph-crawler/internal/worker"
)

// App holds the shared services. It is created once per command invocation
// and owns the store connection.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.Store
	fetcher   crawler.Fetcher
	pacer     *pacing.Pacer
	clock     crawler.Clock
	ids       crawler.IDGenerator
	processor *worker.Processor

	// graphSink opens the Neo4j export target; replaced in tests.
	graphSink func(ctx context.Context) (graphExporter, error)
}

type graphExporter interface {
	Export(ctx context.Context, store crawler.Store) (export.GraphStats, error)
	Close(ctx context.Context) error
}

// New builds every service described by cfg. It fails fast when the logger,
// the store or the fetcher cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	store, err := storage.Open(ctx, storage.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Path:      cfg.Database.Path,
		MaxConns:  cfg.Database.MaxConns,
		CacheSize: cfg.Database.EndpointCacheSize,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("init store: %w", err)
	}

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		PersonURL:    cfg.Remote.PersonURL,
		FollowersURL: cfg.Remote.FollowersURL,
		FolloweesURL: cfg.Remote.FolloweesURL,
		MaxAttempts:  cfg.Remote.MaxAttempts,
		RetryDelay:   cfg.Remote.RetryDelay,
		Timeout:      cfg.Remote.Timeout,
		UserAgent:    cfg.Remote.UserAgent,
		MaxBodySize:  cfg.Remote.MaxBodySize,
	}, logger.Named("fetcher"))
	if err != nil {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("store close failed", zap.Error(cerr))
		}
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	return NewWithDeps(cfg, logger, store, fetcher), nil
}

// NewWithDeps assembles an App around an already opened store and fetcher.
func NewWithDeps(cfg config.Config, logger *zap.Logger, store crawler.Store, fetcher crawler.Fetcher) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := system.New()
	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		fetcher: fetcher,
		pacer:   pacing.New(cfg.Crawl.Pace),
		clock:   clock,
		ids:     uuid.New(),
	}
	a.processor = worker.NewProcessor(store, fetcher, parser.New(logger.Named("parser")), clock, logger)
	a.graphSink = func(ctx context.Context) (graphExporter, error) {
		return export.NewGraphSink(ctx, export.GraphConfig{
			URI:       cfg.Graph.URI,
			Username:  cfg.Graph.Username,
			Password:  cfg.Graph.Password,
			BatchSize: cfg.Graph.BatchSize,
		}, logger.Named("graph"))
	}
	return a
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Pacer exposes the shared delay so callers can override it before a run.
func (a *App) Pacer() *pacing.Pacer {
	return a.pacer
}

// CreateSchema creates the person and relationship tables.
func (a *App) CreateSchema(ctx context.Context) error {
	if err := a.store.CreateTables(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	a.logger.Info("schema created")
	return nil
}

// DropSchema drops both tables and every stored row.
func (a *App) DropSchema(ctx context.Context) error {
	if err := a.store.DropTables(ctx); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	a.logger.Info("schema dropped")
	return nil
}

// ResetSchema drops then recreates the tables.
func (a *App) ResetSchema(ctx context.Context) error {
	if err := a.DropSchema(ctx); err != nil {
		return err
	}
	return a.CreateSchema(ctx)
}

// Seed inserts one unprocessed person per line of r.
func (a *App) Seed(ctx context.Context, r io.Reader, filter string) (seed.Stats, error) {
	st, err := seed.Load(ctx, a.store, r, filter, a.logger.Named("seed"))
	if err != nil {
		return st, fmt.Errorf("seed: %w", err)
	}
	return st, nil
}

// RefreshProfiles re-fetches the profile of every stored person.
func (a *App) RefreshProfiles(ctx context.Context) (worker.ProfileStats, error) {
	r := worker.NewProfileRefresher(a.store, a.processor, a.pacer, a.logger.Named("profiles"))
	st, err := r.Run(ctx)
	if err != nil {
		return st, fmt.Errorf("refresh profiles: %w", err)
	}
	return st, nil
}

// CrawlResult summarizes a full-network run.
type CrawlResult struct {
	RunID    string
	Progress scheduler.Progress
}

// Crawl drains the unprocessed frontier with workers goroutines. A
// non-positive count falls back to crawl.workers. When server.enabled is set
// the status server runs for the duration of the crawl.
func (a *App) Crawl(ctx context.Context, workers int) (CrawlResult, error) {
	if workers <= 0 {
		workers = a.cfg.Crawl.Workers
	}
	sched := scheduler.New(a.store, a.clock, a.logger.Named("scheduler"))
	defer sched.Close()

	runners := make([]dispatcher.Runner, workers)
	for i := range runners {
		runners[i] = worker.New(i, sched, a.processor, a.pacer, worker.Config{
			FetchProfiles: a.cfg.Crawl.FetchProfiles,
		}, a.logger.Named("worker"))
	}
	d := dispatcher.New(runners, a.cfg.Crawl.Stagger, a.ids, a.logger.Named("dispatcher"))

	var res CrawlResult
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	if a.cfg.Server.Enabled {
		srv := api.NewServer(sched, a.pacer, a.logger.Named("api"))
		g.Go(func() error {
			return srv.Run(srvCtx, a.cfg.Server.Addr)
		})
	}
	g.Go(func() error {
		defer stopServer()
		runID, err := d.Run(gctx)
		res.RunID = runID
		return err
	})
	err := g.Wait()
	res.Progress = sched.Progress()

	a.logger.Info("crawl finished",
		zap.String("run_id", res.RunID),
		zap.Int("processed", res.Progress.Processed),
		zap.Int("failed", res.Progress.Failed),
		zap.Int("remaining", res.Progress.Remaining),
		zap.String("elapsed", scheduler.FormatDuration(res.Progress.Elapsed)),
		zap.Float64("hourly_rate", res.Progress.HourlyRate),
	)
	if err != nil {
		return res, fmt.Errorf("crawl: %w", err)
	}
	return res, nil
}

// Ego crawls the neighborhood of id out to radius hops.
func (a *App) Ego(ctx context.Context, id string, radius int) (worker.EgoResult, error) {
	e := worker.NewEgo(a.store, a.processor, a.pacer, a.logger.Named("ego"))
	res, err := e.Run(ctx, id, radius)
	if err != nil {
		return res, fmt.Errorf("ego %s: %w", id, err)
	}
	return res, nil
}

// Export writes the edgelist and nodelist files named by export.dir and
// export.name.
func (a *App) Export(ctx context.Context) (export.Result, error) {
	res, err := export.Files(ctx, a.store, a.cfg.Export.Dir, a.cfg.Export.Name)
	if err != nil {
		return res, fmt.Errorf("export: %w", err)
	}
	a.logger.Info("export written",
		zap.String("edgelist", res.EdgelistPath),
		zap.String("nodelist", res.NodelistPath),
		zap.Int("edges", res.Edges),
		zap.Int("nodes", res.Nodes),
	)
	return res, nil
}

// ExportGraph pushes every person and relationship into Neo4j.
func (a *App) ExportGraph(ctx context.Context) (export.GraphStats, error) {
	sink, err := a.graphSink(ctx)
	if err != nil {
		return export.GraphStats{}, fmt.Errorf("open graph sink: %w", err)
	}
	defer func() {
		if cerr := sink.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.logger.Warn("graph sink close failed", zap.Error(cerr))
		}
	}()
	st, err := sink.Export(ctx, a.store)
	if err != nil {
		return st, fmt.Errorf("graph export: %w", err)
	}
	return st, nil
}

// Recover returns persons stuck in PROCESSING by an interrupted run to the
// frontier.
func (a *App) Recover(ctx context.Context) (int64, error) {
	n, err := a.store.ResetState(ctx, crawler.StateProcessing, crawler.StateUnprocessed)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	a.logger.Info("recovered stuck persons", zap.Int64("count", n))
	return n, nil
}

// Status counts persons per state.
type Status struct {
	Unprocessed int `json:"unprocessed"`
	Processing  int `json:"processing"`
	Processed   int `json:"processed"`
}

// Total is the number of stored persons.
func (s Status) Total() int {
	return s.Unprocessed + s.Processing + s.Processed
}

// Status reports how far the stored crawl has progressed.
func (a *App) Status(ctx context.Context) (Status, error) {
	var st Status
	for state, dst := range map[crawler.PersonState]*int{
		crawler.StateUnprocessed: &st.Unprocessed,
		crawler.StateProcessing:  &st.Processing,
		crawler.StateProcessed:   &st.Processed,
	} {
		n, err := a.store.CountByState(ctx, state)
		if err != nil {
			return Status{}, fmt.Errorf("count %s: %w", state, err)
		}
		*dst = n
	}
	return st, nil
}

// Close releases the store and flushes the logger.
func (a *App) Close() error {
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.logger.Sync(); err != nil && !isSyncNoise(err) {
		errs = append(errs, fmt.Errorf("sync logger: %w", err))
	}
	return errors.Join(errs...)
}

// isSyncNoise reports the error zap returns when syncing a terminal.
func isSyncNoise(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
