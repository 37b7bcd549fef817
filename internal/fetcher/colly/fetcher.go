// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
	"github.com/JakeFAU/socialgraph-crawler/internal/stats"
)

// Op names one of the three remote lookups.
type Op string

// Remote operations.
const (
	OpPerson    Op = "person"
	OpFollowers Op = "followers"
	OpFollowees Op = "followees"
)

// Placeholder is replaced by the query-escaped person id in URL templates.
const Placeholder = "{id}"

// Defaults used when the matching Config field is zero.
const (
	DefaultPersonURL    = "https://plus.google.com/_/profiles/get/{id}"
	DefaultFolloweesURL = "https://plus.google.com/_/socialgraph/lookup/visible/?o=%5Bnull%2Cnull%2C%22{id}%22%5D"
	DefaultFollowersURL = "https://plus.google.com/_/socialgraph/lookup/incoming/?o=%5Bnull%2Cnull%2C%22{id}%22%5D&n=1000000"
	DefaultMaxAttempts  = 50
	DefaultRetryDelay   = 50 * time.Millisecond
	DefaultTimeout      = 15 * time.Second
)

// Config controls collector behavior.
type Config struct {
	PersonURL    string
	FollowersURL string
	FolloweesURL string
	MaxAttempts  int
	RetryDelay   time.Duration
	Timeout      time.Duration
	UserAgent    string
	// MaxBodySize caps response bodies in bytes. Zero means unlimited.
	MaxBodySize int
}

// LatencyStat is a snapshot of one operation's moving average.
type LatencyStat struct {
	Average time.Duration `json:"average"`
	Samples int64         `json:"samples"`
}

// Fetcher implements crawler.Fetcher using the Colly collector. It is safe for
// concurrent use; each request runs on its own clone of the base collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	templates     map[Op]string
	latency       map[Op]*stats.MovingAverage
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// visitResult carries what the collector callbacks observed.
type visitResult struct {
	body   []byte
	status int
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)
	templates := map[Op]string{
		OpPerson:    cfg.PersonURL,
		OpFollowers: cfg.FollowersURL,
		OpFollowees: cfg.FolloweesURL,
	}
	for op, tmpl := range templates {
		if !strings.Contains(tmpl, Placeholder) {
			return nil, fmt.Errorf("%s url template %q lacks %s", op, tmpl, Placeholder)
		}
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.MaxBodySize = cfg.MaxBodySize
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:       cfg,
		logger:    logger,
		templates: templates,
		latency: map[Op]*stats.MovingAverage{
			OpPerson:    {},
			OpFollowers: {},
			OpFollowees: {},
		},
		baseCollector: c,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.PersonURL == "" {
		cfg.PersonURL = DefaultPersonURL
	}
	if cfg.FollowersURL == "" {
		cfg.FollowersURL = DefaultFollowersURL
	}
	if cfg.FolloweesURL == "" {
		cfg.FolloweesURL = DefaultFolloweesURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// FetchPerson retrieves the profile payload for id. It returns
// crawler.ErrNotFound when the remote answers 404.
func (f *Fetcher) FetchPerson(ctx context.Context, id string) ([]byte, error) {
	return f.fetch(ctx, OpPerson, id)
}

// FetchFollowers retrieves the incoming neighborhood payload for id.
func (f *Fetcher) FetchFollowers(ctx context.Context, id string) ([]byte, error) {
	return f.fetch(ctx, OpFollowers, id)
}

// FetchFollowees retrieves the outgoing neighborhood payload for id.
func (f *Fetcher) FetchFollowees(ctx context.Context, id string) ([]byte, error) {
	return f.fetch(ctx, OpFollowees, id)
}

// Latency returns the moving-average latency of every operation.
func (f *Fetcher) Latency() map[Op]LatencyStat {
	out := make(map[Op]LatencyStat, len(f.latency))
	for op, avg := range f.latency {
		d, n := avg.Snapshot()
		out[op] = LatencyStat{Average: d, Samples: n}
	}
	return out
}

// URL expands the template for op with id.
func (f *Fetcher) URL(op Op, id string) string {
	return strings.ReplaceAll(f.templates[op], Placeholder, url.QueryEscape(id))
}

func (f *Fetcher) fetch(ctx context.Context, op Op, id string) ([]byte, error) {
	target := f.URL(op, id)
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		res := f.visit(ctx, target)
		if res.err == nil {
			elapsed := time.Since(start)
			f.latency[op].Observe(elapsed)
			metrics.ObserveFetchAttempt(string(op), "ok")
			metrics.ObserveFetch(string(op), elapsed)
			return res.body, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s %s canceled: %w", op, id, err)
		}
		if op == OpPerson && res.status == http.StatusNotFound {
			metrics.ObserveFetchAttempt(string(op), "not_found")
			return nil, fmt.Errorf("%s %s: %w", op, id, crawler.ErrNotFound)
		}
		metrics.ObserveFetchAttempt(string(op), "transient")
		lastErr = res.err
		f.logger.Debug("remote request failed",
			zap.String("op", string(op)),
			zap.String("person_id", id),
			zap.Int("attempt", attempt),
			zap.Int("status", res.status),
			zap.Error(res.err),
		)
		if attempt < f.cfg.MaxAttempts {
			if err := sleep(ctx, f.cfg.RetryDelay); err != nil {
				return nil, fmt.Errorf("%s %s canceled: %w", op, id, err)
			}
		}
	}
	return nil, fmt.Errorf("%w: %s %s after %d attempts: %w",
		crawler.ErrRetriesExhausted, op, id, f.cfg.MaxAttempts, lastErr)
}

func (f *Fetcher) visit(ctx context.Context, target string) visitResult {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	res := &visitResult{}
	configureCollectorHooks(collector, res)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return visitResult{err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if res.err != nil {
			return *res
		}
		if err != nil {
			res.err = fmt.Errorf("colly visit failed: %w", err)
		}
		return *res
	}
}

func configureCollectorHooks(hooks collectorHooks, res *visitResult) {
	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		if err == nil {
			err = errors.New("remote request failed")
		}
		res.err = fmt.Errorf("colly response failed (status %d): %w", res.status, err)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
	}
}
