package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/credvault/internal/crypto"
	"github.com/p-blackswan/credvault/internal/docstore"
	perrors "github.com/p-blackswan/credvault/internal/errors"
	"github.com/p-blackswan/credvault/internal/metrics"
	"github.com/p-blackswan/credvault/internal/policy"
	"github.com/p-blackswan/credvault/internal/supervisor"
)

// toggleStore wraps the in-memory store and can be switched to fail every
// call, simulating a durable store outage after readiness.
type toggleStore struct {
	docstore.Store
	mu        sync.Mutex
	down      bool
	beforeSet func() // optional, runs ahead of a durable write
}

func (s *toggleStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *toggleStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *toggleStore) Get(ctx context.Context, key string) (*docstore.Document, error) {
	if s.failing() {
		return nil, errors.New("store down")
	}
	return s.Store.Get(ctx, key)
}

func (s *toggleStore) Set(ctx context.Context, key string, doc *docstore.Document) error {
	if s.beforeSet != nil {
		s.beforeSet()
	}
	if s.failing() {
		return errors.New("store down")
	}
	return s.Store.Set(ctx, key, doc)
}

func (s *toggleStore) Delete(ctx context.Context, key string) error {
	if s.failing() {
		return errors.New("store down")
	}
	return s.Store.Delete(ctx, key)
}

type testEnv struct {
	svc     *Service
	store   *toggleStore
	cache   *Cache
	metrics *metrics.Metrics
	now     time.Time
}

// advance moves the injected clock shared by the service and its cache.
func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func newTestEnv(t *testing.T, pol *policy.Policy) *testEnv {
	t.Helper()

	store := &toggleStore{Store: docstore.NewMemoryStore()}
	sup := supervisor.New(store, supervisor.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}, metrics.New(), zerolog.Nop())
	sup.Start(context.Background())
	require.True(t, sup.WaitUntilReady(context.Background(), time.Second))

	codec, err := crypto.NewCodec("test-secret")
	require.NoError(t, err)

	env := &testEnv{
		store:   store,
		cache:   NewCache(100),
		metrics: metrics.New(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.cache.now = func() time.Time { return env.now }

	env.svc = NewService(store, sup, codec, env.cache, pol, Config{
		Namespace:    "creds",
		TTL:          7 * 24 * time.Hour,
		ReadyTimeout: time.Second,
	}, env.metrics, zerolog.Nop())
	env.svc.now = func() time.Time { return env.now }

	return env
}

func TestService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-abc"))

	tok, err := env.svc.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", tok)
	assert.True(t, env.svc.IsAuthenticated(ctx, "U1", "T1"))
}

func TestService_EncryptionAtRest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-secret-value"))

	key := LookupKey("creds", "T1", "U1")
	doc, err := env.store.Store.Get(ctx, key)
	require.NoError(t, err)
	assert.NotContains(t, doc.Payload, "tok-secret-value")
	assert.Equal(t, docstore.SchemaVersion, doc.SchemaVersion)
	assert.Equal(t, env.now.Add(7*24*time.Hour), doc.ExpiresAt)
}

func TestService_GetMissing(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.Get(context.Background(), "U1", "T1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.False(t, env.svc.IsAuthenticated(context.Background(), "U1", "T1"))
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	assert.ErrorIs(t, env.svc.Store(ctx, "", "T1", "tok"), perrors.ErrInvalidInput)
	assert.ErrorIs(t, env.svc.Store(ctx, "U1", "", "tok"), perrors.ErrInvalidInput)
	assert.ErrorIs(t, env.svc.Store(ctx, "U1", "T1", ""), perrors.ErrInvalidInput)

	_, err := env.svc.Get(ctx, "", "T1")
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
	assert.ErrorIs(t, env.svc.Delete(ctx, "U1", ""), perrors.ErrInvalidInput)
}

func TestService_ExpiryEnforcedOnRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-abc"))

	env.advance(7*24*time.Hour + time.Minute)

	_, err := env.svc.Get(ctx, "U1", "T1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	// The expired durable record was reclaimed at read time.
	key := LookupKey("creds", "T1", "U1")
	_, err = env.store.Store.Get(ctx, key)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestService_WriteFailureDoesNotFillCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	env.store.setDown(true)
	err := env.svc.Store(ctx, "U1", "T1", "tok-abc")
	assert.ErrorIs(t, err, perrors.ErrUnavailable)

	// No optimistic cache-ahead-of-store state.
	_, ok := env.cache.Get(LookupKey("creds", "T1", "U1"))
	assert.False(t, ok)
}

func TestService_CacheServedDuringOutage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-abc"))

	// Outage after a successful write: the synchronous cache fill still
	// serves reads without touching the durable store.
	env.store.setDown(true)
	tok, err := env.svc.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", tok)
}

func TestService_UnavailableDistinctFromNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	env.store.setDown(true)
	_, err := env.svc.Get(ctx, "U1", "T1")
	assert.ErrorIs(t, err, perrors.ErrUnavailable)
	assert.NotErrorIs(t, err, perrors.ErrNotFound)

	// Fail closed for authorization decisions.
	assert.False(t, env.svc.IsAuthenticated(ctx, "U1", "T1"))
}

func TestService_DeleteVisibility(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-abc"))
	require.NoError(t, env.svc.Delete(ctx, "U1", "T1"))

	assert.False(t, env.svc.IsAuthenticated(ctx, "U1", "T1"))

	_, err := env.svc.Get(ctx, "U1", "T1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	// Idempotent.
	assert.NoError(t, env.svc.Delete(ctx, "U1", "T1"))
}

func TestService_DeleteDurableFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-abc"))

	env.store.setDown(true)
	assert.NoError(t, env.svc.Delete(ctx, "U1", "T1"))

	// Cache-side removal is immediately visible in this process even
	// though the durable delete failed.
	_, ok := env.cache.Get(LookupKey("creds", "T1", "U1"))
	assert.False(t, ok)
}

func TestService_DecryptionFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	// A record written under a different secret is unreadable, not fatal.
	otherCodec, err := crypto.NewCodec("other-secret")
	require.NoError(t, err)
	blob, err := otherCodec.Encrypt("tok-abc")
	require.NoError(t, err)

	key := LookupKey("creds", "T1", "U1")
	now := env.now
	require.NoError(t, env.store.Store.Set(ctx, key, &docstore.Document{
		Payload:       blob,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
		SchemaVersion: docstore.SchemaVersion,
	}))

	_, err = env.svc.Get(ctx, "U1", "T1")
	assert.ErrorIs(t, err, perrors.ErrDecryption)
	assert.False(t, env.svc.IsAuthenticated(ctx, "U1", "T1"))
}

func TestService_PolicyDeniedTeam(t *testing.T) {
	ctx := context.Background()
	pol, err := policy.Parse([]byte("allow_all: false\nteams:\n  - id: T_OK\n"))
	require.NoError(t, err)
	env := newTestEnv(t, pol)

	assert.NoError(t, env.svc.Store(ctx, "U1", "T_OK", "tok"))
	assert.ErrorIs(t, env.svc.Store(ctx, "U1", "T_NO", "tok"), perrors.ErrDenied)
}

func TestService_PolicyTTLOverride(t *testing.T) {
	ctx := context.Background()
	pol, err := policy.Parse([]byte("allow_all: true\nteams:\n  - id: T_SHORT\n    ttl: 1h\n"))
	require.NoError(t, err)
	env := newTestEnv(t, pol)

	require.NoError(t, env.svc.Store(ctx, "U1", "T_SHORT", "tok"))

	doc, err := env.store.Store.Get(ctx, LookupKey("creds", "T_SHORT", "U1"))
	require.NoError(t, err)
	assert.Equal(t, env.now.Add(time.Hour), doc.ExpiresAt)
}

func TestService_ReadinessGateBounded(t *testing.T) {
	// A supervisor stuck in Attempting must bound uncached lookups.
	store := &toggleStore{Store: docstore.NewMemoryStore()}
	store.setDown(true)
	sup := supervisor.New(store, supervisor.Config{
		MaxAttempts: 1000,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
	}, metrics.New(), zerolog.Nop())
	supCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sup.Start(supCtx)

	codec, err := crypto.NewCodec("test-secret")
	require.NoError(t, err)

	svc := NewService(store, sup, codec, NewCache(10), nil, Config{
		Namespace:    "creds",
		TTL:          time.Hour,
		ReadyTimeout: 50 * time.Millisecond,
	}, metrics.New(), zerolog.Nop())

	start := time.Now()
	_, err = svc.Get(context.Background(), "U1", "T1")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, perrors.ErrUnavailable)
	assert.Less(t, elapsed, time.Second)
}

func TestService_TerminalInitFailure(t *testing.T) {
	store := &toggleStore{Store: docstore.NewMemoryStore()}
	store.setDown(true)
	sup := supervisor.New(store, supervisor.Config{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}, metrics.New(), zerolog.Nop())
	sup.Start(context.Background())
	require.False(t, sup.WaitUntilReady(context.Background(), 5*time.Second))

	codec, err := crypto.NewCodec("test-secret")
	require.NoError(t, err)

	svc := NewService(store, sup, codec, NewCache(10), nil, Config{
		Namespace:    "creds",
		TTL:          time.Hour,
		ReadyTimeout: time.Second,
	}, metrics.New(), zerolog.Nop())

	_, err = svc.Get(context.Background(), "U1", "T1")
	assert.ErrorIs(t, err, perrors.ErrInitFailed)
	assert.ErrorIs(t, svc.Store(context.Background(), "U1", "T1", "tok"), perrors.ErrInitFailed)
	assert.False(t, svc.IsAuthenticated(context.Background(), "U1", "T1"))

	h := svc.Health(context.Background())
	assert.False(t, h.Initialized)
	assert.NotEmpty(t, h.LastError)
	assert.Equal(t, 2, h.Attempts)
}

func TestService_HealthAndCacheStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-1"))
	require.NoError(t, env.svc.Store(ctx, "U2", "T1", "tok-2"))

	h := env.svc.Health(ctx)
	assert.True(t, h.Initialized)
	assert.True(t, h.StoreConnected)
	assert.Equal(t, 2, h.CacheSize)
	assert.Equal(t, 1, h.Attempts)
	assert.Empty(t, h.LastError)

	stats := env.svc.CacheStats()
	assert.Equal(t, CacheStats{Total: 2, Active: 2, Expired: 0}, stats)
}

// Scenario from the credential lifecycle: store, read, expire, re-store,
// read, delete, read.
func TestService_OpDurationFollowsInjectedClock(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	// Simulate 3s of store latency on the injected clock; the duration
	// histogram must record that, not the wall time of the test.
	env.store.beforeSet = func() { env.advance(3 * time.Second) }
	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-latency"))

	obs, err := env.metrics.OpDuration.GetMetricWithLabelValues("set")
	require.NoError(t, err)

	var pb dto.Metric
	require.NoError(t, obs.(prometheus.Metric).Write(&pb))
	require.EqualValues(t, 1, pb.GetHistogram().GetSampleCount())
	assert.InDelta(t, 3.0, pb.GetHistogram().GetSampleSum(), 0.001)
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-abc"))
	tok, err := env.svc.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", tok)

	env.advance(8 * 24 * time.Hour)
	_, err = env.svc.Get(ctx, "U1", "T1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	require.NoError(t, env.svc.Store(ctx, "U1", "T1", "tok-def"))
	tok, err = env.svc.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, "tok-def", tok)

	require.NoError(t, env.svc.Delete(ctx, "U1", "T1"))
	_, err = env.svc.Get(ctx, "U1", "T1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestService_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := string(rune('A' + i%4))
			_ = env.svc.Store(ctx, "U"+user, "T1", "tok-"+user)
			_, _ = env.svc.Get(ctx, "U"+user, "T1")
			_ = env.svc.Delete(ctx, "U"+user, "T1")
		}(i)
	}
	wg.Wait()
}
