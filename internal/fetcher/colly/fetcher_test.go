package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

func newTestFetcher(t *testing.T, srv *httptest.Server, attempts int) *Fetcher {
	t.Helper()
	f, err := New(Config{
		PersonURL:    srv.URL + "/person/{id}",
		FollowersURL: srv.URL + "/incoming/{id}",
		FolloweesURL: srv.URL + "/visible/{id}",
		MaxAttempts:  attempts,
		RetryDelay:   time.Millisecond,
		Timeout:      time.Second,
		UserAgent:    "socialgraph-test",
	}, nil)
	require.NoError(t, err)
	return f
}

func TestNewRejectsTemplateWithoutPlaceholder(t *testing.T) {
	t.Parallel()

	_, err := New(Config{PersonURL: "https://example.com/profile"}, nil)
	require.Error(t, err)
}

func TestURLEscapesID(t *testing.T) {
	t.Parallel()

	f, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://plus.google.com/_/profiles/get/a+b%2Fc", f.URL(OpPerson, "a b/c"))
	assert.Contains(t, f.URL(OpFollowers, "123"), "%22123%22%5D&n=1000000")
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		switch r.URL.Path {
		case "/person/A":
			_, _ = w.Write([]byte("person-A"))
		case "/incoming/A":
			_, _ = w.Write([]byte("followers-A"))
		case "/visible/A":
			_, _ = w.Write([]byte("followees-A"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 3)
	ctx := context.Background()

	body, err := f.FetchPerson(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "person-A", string(body))

	body, err = f.FetchFollowers(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "followers-A", string(body))

	body, err = f.FetchFollowees(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "followees-A", string(body))

	assert.Equal(t, "socialgraph-test", agent.Load())
	lat := f.Latency()
	assert.Equal(t, int64(1), lat[OpPerson].Samples)
	assert.Equal(t, int64(1), lat[OpFollowers].Samples)
	assert.Equal(t, int64(1), lat[OpFollowees].Samples)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 5)
	body, err := f.FetchFollowees(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 3)
	_, err := f.FetchFollowers(context.Background(), "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrRetriesExhausted)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int64(0), f.Latency()[OpFollowers].Samples)
}

func TestFetchPersonNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 5)
	_, err := f.FetchPerson(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	assert.Equal(t, int32(1), hits.Load(), "not found must not be retried")

	// A 404 on a neighborhood lookup is treated as transient.
	_, err = f.FetchFollowees(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrRetriesExhausted)
	assert.Equal(t, int32(6), hits.Load())
}

func TestFetchHonorsCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, err := New(Config{
		PersonURL:    srv.URL + "/p/{id}",
		FollowersURL: srv.URL + "/i/{id}",
		FolloweesURL: srv.URL + "/v/{id}",
		MaxAttempts:  50,
		RetryDelay:   time.Second,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.FetchPerson(ctx, "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, crawler.ErrRetriesExhausted))
}

func TestFetchConcurrentCallers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 2)
	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := f.FetchFollowees(context.Background(), "same")
			if err != nil {
				errs <- err
				return
			}
			if string(body) != "/visible/same" {
				errs <- errors.New("unexpected body " + string(body))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, int64(callers), f.Latency()[OpFollowees].Samples)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	hooks := &stubHooks{}
	res := &visitResult{}
	configureCollectorHooks(hooks, res)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	assert.Equal(t, "body", string(res.body))
	assert.Equal(t, http.StatusOK, res.status)

	hooks.onError(&colly.Response{StatusCode: http.StatusTeapot}, errors.New("boom"))
	assert.Equal(t, http.StatusTeapot, res.status)
	assert.ErrorContains(t, res.err, "boom")

	hooks.onError(nil, nil)
	assert.Error(t, res.err)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
