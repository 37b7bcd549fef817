package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/app"
	"github.com/JakeFAU/socialgraph-crawler/internal/export"
	"github.com/JakeFAU/socialgraph-crawler/internal/policy/pacing"
	"github.com/JakeFAU/socialgraph-crawler/internal/scheduler"
	"github.com/JakeFAU/socialgraph-crawler/internal/seed"
	"github.com/JakeFAU/socialgraph-crawler/internal/worker"
)

type fakeApp struct {
	pacer   *pacing.Pacer
	calls   []string
	seedIn  string
	filter  string
	workers int
	egoID   string
	radius  int
	err     error
	closed  bool
}

func newFakeApp() *fakeApp {
	return &fakeApp{pacer: pacing.New(time.Second)}
}

func (f *fakeApp) call(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Pacer() *pacing.Pacer { return f.pacer }
func (f *fakeApp) CreateSchema(context.Context) error { return f.call("create") }
func (f *fakeApp) DropSchema(context.Context) error { return f.call("drop") }
func (f *fakeApp) ResetSchema(context.Context) error { return f.call("reset") }
func (f *fakeApp) ExportGraph(context.Context) (export.GraphStats, error) {
	return export.GraphStats{Persons: 3, Relationships: 2, Batches: 1}, f.call("graph")
}

func (f *fakeApp) Seed(_ context.Context, r io.Reader, filter string) (seed.Stats, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return seed.Stats{}, err
	}
	f.seedIn, f.filter = string(b), filter
	return seed.Stats{Inserted: 2, Skipped: 1}, f.call("seed")
}

func (f *fakeApp) RefreshProfiles(context.Context) (worker.ProfileStats, error) {
	return worker.ProfileStats{Seen: 1, Updated: 1}, f.call("profiles")
}

func (f *fakeApp) Crawl(_ context.Context, workers int) (app.CrawlResult, error) {
	f.workers = workers
	return app.CrawlResult{RunID: "run-1", Progress: scheduler.Progress{Processed: 5, Elapsed: time.Minute}}, f.call("crawl")
}

func (f *fakeApp) Ego(_ context.Context, id string, radius int) (worker.EgoResult, error) {
	f.egoID, f.radius = id, radius
	return worker.EgoResult{Levels: radius + 1, Processed: 3}, f.call("ego")
}

func (f *fakeApp) Export(context.Context) (export.Result, error) {
	return export.Result{EdgelistPath: "out.edgelist", NodelistPath: "out.nodelist", Edges: 4, Nodes: 3}, f.call("export")
}

func (f *fakeApp) Recover(context.Context) (int64, error) {
	return 7, f.call("recover")
}

func (f *fakeApp) Status(context.Context) (app.Status, error) {
	return app.Status{Unprocessed: 1, Processing: 2, Processed: 3}, f.call("status")
}

func (f *fakeApp) Close() error {
	f.closed = true
	return nil
}

// execute runs the root command against fake. Tests using it must not run in
// parallel because newApp is package state.
func execute(t *testing.T, fake *fakeApp, args ...string) (string, error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSchemaCommands(t *testing.T) {
	for _, sub := range []string{"create", "drop", "reset"} {
		fake := newFakeApp()
		_, err := execute(t, fake, "schema", sub)
		require.NoError(t, err)
		assert.Equal(t, []string{sub}, fake.calls)
		assert.True(t, fake.closed)
	}
}

func TestSeedCommandReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://plus.google.com/1\n"), 0o600))
	fake := newFakeApp()

	out, err := execute(t, fake, "seed", path, "--filter", "plus")
	require.NoError(t, err)
	assert.Equal(t, "https://plus.google.com/1\n", fake.seedIn)
	assert.Equal(t, "plus", fake.filter)
	assert.Equal(t, "inserted=2 existing=0 skipped=1\n", out)
}

func TestSeedCommandMissingFile(t *testing.T) {
	_, err := execute(t, newFakeApp(), "seed", filepath.Join(t.TempDir(), "absent.txt"))
	require.ErrorContains(t, err, "open seed file")
}

func TestCrawlCommandAppliesFlags(t *testing.T) {
	fake := newFakeApp()

	out, err := execute(t, fake, "crawl", "--workers", "4", "--pace", "250ms")
	require.NoError(t, err)
	assert.Equal(t, 4, fake.workers)
	assert.Equal(t, 250*time.Millisecond, fake.pacer.Delay())
	assert.Contains(t, out, "run=run-1 processed=5")
	assert.Contains(t, out, "elapsed=0d 0h 1min 0s")
}

func TestCrawlCommandKeepsConfiguredPace(t *testing.T) {
	fake := newFakeApp()

	_, err := execute(t, fake, "crawl")
	require.NoError(t, err)
	assert.Zero(t, fake.workers)
	assert.Equal(t, time.Second, fake.pacer.Delay())
}

func TestCrawlCommandRejectsNegativePace(t *testing.T) {
	fake := newFakeApp()

	_, err := execute(t, fake, "crawl", "--pace", "-1s")
	require.ErrorContains(t, err, "invalid --pace")
	assert.Empty(t, fake.calls)
}

func TestCrawlCommandTreatsCancellationAsClean(t *testing.T) {
	fake := newFakeApp()
	fake.err = context.Canceled

	_, err := execute(t, fake, "crawl")
	require.NoError(t, err)
}

func TestEgoCommand(t *testing.T) {
	fake := newFakeApp()

	out, err := execute(t, fake, "ego", "12345", "--radius", "2")
	require.NoError(t, err)
	assert.Equal(t, "12345", fake.egoID)
	assert.Equal(t, 2, fake.radius)
	assert.Equal(t, "levels=3 processed=3 skipped=0 relationships=0\n", out)
}

func TestEgoCommandRequiresID(t *testing.T) {
	_, err := execute(t, newFakeApp(), "ego")
	require.Error(t, err)
}

func TestExportCommand(t *testing.T) {
	fake := newFakeApp()
	out, err := execute(t, fake, "export")
	require.NoError(t, err)
	assert.Equal(t, []string{"export"}, fake.calls)
	assert.Contains(t, out, "out.edgelist (4 edges)")

	fake = newFakeApp()
	out, err = execute(t, fake, "export", "--neo4j")
	require.NoError(t, err)
	assert.Equal(t, []string{"graph"}, fake.calls)
	assert.Equal(t, "persons=3 relationships=2 batches=1\n", out)
}

func TestRecoverAndStatusCommands(t *testing.T) {
	out, err := execute(t, newFakeApp(), "recover")
	require.NoError(t, err)
	assert.Equal(t, "recovered=7\n", out)

	out, err = execute(t, newFakeApp(), "status")
	require.NoError(t, err)
	assert.Equal(t, "unprocessed=1\nprocessing=2\nprocessed=3\ntotal=6\n", out)

	out, err = execute(t, newFakeApp(), "status", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"unprocessed":1,"processing":2,"processed":3}`, out)
}

func TestProfilesCommand(t *testing.T) {
	out, err := execute(t, newFakeApp(), "profiles")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "seen=1 updated=1"))
}

func TestCommandErrorsPropagate(t *testing.T) {
	fake := newFakeApp()
	fake.err = errors.New("store offline")

	_, err := execute(t, fake, "recover")
	require.ErrorContains(t, err, "store offline")
}

func TestAppFactoryFailure(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("bad config") }
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"status"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "failed to initialize application services")
}
