package cikcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgar_reconciler/pkg/models"
)

func init() {
	RetryDelay = 0
}

// MockSource counts upstream calls.
type MockSource struct {
	FetchFunc func(ctx context.Context) (map[string]string, error)
	calls     atomic.Int32
}

func (m *MockSource) FetchTickerMap(ctx context.Context) (map[string]string, error) {
	m.calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return map[string]string{"MSCI": "0001408198", "AAPL": "0000320193"}, nil
}

var errSECDown = errors.New("HTTP 503")

func failingSource() *MockSource {
	return &MockSource{FetchFunc: func(ctx context.Context) (map[string]string, error) {
		return nil, errSECDown
	}}
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestResolve_OneUpstreamCallServesManyLookups(t *testing.T) {
	src := &MockSource{}
	c := New(src)

	for i := 0; i < 5; i++ {
		cik, err := c.Resolve(context.Background(), "msci")
		require.NoError(t, err)
		assert.Equal(t, "0001408198", cik)
	}
	cik, err := c.Resolve(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", cik)

	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolve_ConcurrentMissesShareOneFill(t *testing.T) {
	release := make(chan struct{})
	src := &MockSource{FetchFunc: func(ctx context.Context) (map[string]string, error) {
		<-release
		return map[string]string{"MSCI": "0001408198"}, nil
	}}
	c := New(src)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), "MSCI")
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, src.calls.Load(), int32(2))
}

func TestResolve_UnknownTickerIsFilingNotFound(t *testing.T) {
	c := New(&MockSource{})
	_, err := c.Resolve(context.Background(), "NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFilingNotFound)
}

func TestResolve_FallsBackToDiskAfterRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "company_tickers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"0": {"ticker": "MSCI", "cik_str": 1408198}}`), 0644))

	src := failingSource()
	c := New(src, WithBackends(NewDiskBackend(path)))

	cik, err := c.Resolve(context.Background(), "MSCI")
	require.NoError(t, err)
	assert.Equal(t, "0001408198", cik)
	assert.Equal(t, int32(DefaultAttempts), src.calls.Load())
}

func TestResolve_RepairsTruncatedDiskCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "company_tickers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"0": {"ticker": "MSCI", "cik_str": 1408198}`), 0644))

	c := New(failingSource(), WithBackends(NewDiskBackend(path)))
	cik, err := c.Resolve(context.Background(), "MSCI")
	require.NoError(t, err)
	assert.Equal(t, "0001408198", cik)
}

func TestResolve_UsesStaleMemoryWhenRefreshFails(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	src := &MockSource{}
	c := New(src, withClock(clock), WithTTL(time.Hour))
	_, err := c.Resolve(context.Background(), "MSCI")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	src.FetchFunc = func(ctx context.Context) (map[string]string, error) { return nil, errSECDown }

	cik, err := c.Resolve(context.Background(), "MSCI")
	require.NoError(t, err)
	assert.Equal(t, "0001408198", cik)
}

func TestResolve_NoFallbackIsUpstreamUnavailable(t *testing.T) {
	c := New(failingSource(), WithBackends(NewDiskBackend(filepath.Join(t.TempDir(), "missing.json"))))
	_, err := c.Resolve(context.Background(), "MSCI")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}

func TestResolve_FailureDoesNotCorruptCachedMap(t *testing.T) {
	now := time.Now()
	src := &MockSource{}
	c := New(src, withClock(func() time.Time { return now }), WithTTL(time.Minute))
	_, err := c.Resolve(context.Background(), "AAPL")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	src.FetchFunc = func(ctx context.Context) (map[string]string, error) { return map[string]string{}, nil }

	cik, err := c.Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", cik)
	assert.Equal(t, 2, c.Len())
}

func TestRedisBackend_SharesMapAcrossCaches(t *testing.T) {
	_, client := setupTestRedis(t)
	backend := NewRedisBackend(client, time.Hour)

	warm := New(&MockSource{}, WithBackends(backend))
	_, err := warm.Resolve(context.Background(), "AAPL")
	require.NoError(t, err)

	cold := New(failingSource(), WithBackends(backend))
	cik, err := cold.Resolve(context.Background(), "MSCI")
	require.NoError(t, err)
	assert.Equal(t, "0001408198", cik)
}

func TestRedisBackend_SetsExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	backend := NewRedisBackend(client, time.Hour)

	require.NoError(t, backend.Store(context.Background(), map[string]string{"AAPL": "0000320193"}))
	assert.Equal(t, time.Hour, mr.TTL(tickersKey))

	got, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AAPL": "0000320193"}, got)
}

func TestDiskBackend_RoundTripsThroughSECLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tickers.json")
	b := NewDiskBackend(path)

	require.NoError(t, b.Store(context.Background(), map[string]string{"AAPL": "0000320193", "MSFT": "0000789019"}))
	got, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AAPL": "0000320193", "MSFT": "0000789019"}, got)
}

func TestRefresher(t *testing.T) {
	src := &MockSource{}
	c := New(src)

	_, err := NewRefresher(c, "not a schedule", zerolog.Nop())
	require.Error(t, err)

	r, err := NewRefresher(c, "@every 1h", zerolog.Nop())
	require.NoError(t, err)
	r.RunOnce()
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int32(1), src.calls.Load())
}
