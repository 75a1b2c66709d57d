package tenantcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/auth"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type invalidation struct {
	tenant, resource, id string
	pattern              bool
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []invalidation
}

func (r *recordingInvalidator) CacheInvalidated(_ context.Context, tenantID, resource, id string, pattern bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, invalidation{tenantID, resource, id, pattern})
	return nil
}

type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errStoreDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}
func (brokenStore) Delete(context.Context, ...string) error { return errStoreDown }
func (brokenStore) DeletePrefix(context.Context, string) (int, error) {
	return 0, errStoreDown
}

func TestKey(t *testing.T) {
	tests := []struct {
		name                 string
		tenant, resource, id string
		want                 string
		wantErr              error
	}{
		{name: "with id", tenant: "t1", resource: "packages", id: "X", want: "tenant:t1:packages:X"},
		{name: "without id", tenant: "t1", resource: "settings", want: "tenant:t1:settings"},
		{name: "missing tenant", resource: "packages", id: "X", wantErr: apperror.ErrMissingTenant},
		{name: "missing resource", tenant: "t1", wantErr: apperror.ErrBadRequest},
		{name: "tenant with separator", tenant: "t1:packages", resource: "x", wantErr: apperror.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Key(tt.tenant, tt.resource, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "cache:"),
	}
}

func TestCache_TenantIsolation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := New(store, newTestLogger())
			ctx := context.Background()

			require.NoError(t, c.Set(ctx, "tenantB", ResourcePackages, "X", map[string]int{"price": 900}, 0))

			var got map[string]int
			ok, err := c.Get(ctx, "tenantA", ResourcePackages, "X", &got)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = c.Get(ctx, "tenantB", ResourcePackages, "X", &got)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 900, got["price"])

			_, err = c.Get(ctx, "", ResourcePackages, "X", &got)
			assert.ErrorIs(t, err, apperror.ErrMissingTenant)
			assert.ErrorIs(t, c.Set(ctx, "", ResourcePackages, "X", 1, 0), apperror.ErrMissingTenant)
		})
	}
}

func TestCache_DeleteAnnounces(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			inv := &recordingInvalidator{}
			c := New(store, newTestLogger(), WithInvalidator(inv))
			ctx := context.Background()

			require.NoError(t, c.Set(ctx, "t1", ResourcePermissions, "u1", []string{"read"}, 0))
			require.NoError(t, c.Delete(ctx, "t1", ResourcePermissions, "u1"))

			var got []string
			ok, _ := c.Get(ctx, "t1", ResourcePermissions, "u1", &got)
			assert.False(t, ok)
			assert.Equal(t, []invalidation{{"t1", ResourcePermissions, "u1", false}}, inv.calls)
		})
	}
}

func TestCache_InvalidateResource(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			inv := &recordingInvalidator{}
			c := New(store, newTestLogger(), WithInvalidator(inv))
			ctx := context.Background()

			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, c.Set(ctx, "t1", ResourcePackages, id, id, 0))
			}
			require.NoError(t, c.Set(ctx, "t1", ResourcePackages, "", "list", 0))
			require.NoError(t, c.Set(ctx, "t2", ResourcePackages, "a", "other tenant", 0))
			require.NoError(t, c.Set(ctx, "t1", ResourceSettings, "a", "other resource", 0))

			removed, err := c.InvalidateResource(ctx, "t1", ResourcePackages)
			require.NoError(t, err)
			assert.Equal(t, 3, removed)

			var s string
			for _, id := range []string{"a", "b", "c", ""} {
				ok, _ := c.Get(ctx, "t1", ResourcePackages, id, &s)
				assert.False(t, ok, id)
			}
			ok, _ := c.Get(ctx, "t2", ResourcePackages, "a", &s)
			assert.True(t, ok)
			ok, _ = c.Get(ctx, "t1", ResourceSettings, "a", &s)
			assert.True(t, ok)

			assert.Equal(t, []invalidation{{"t1", ResourcePackages, "", true}}, inv.calls)
		})
	}
}

func TestGetOrSet_SecondCallUsesCache(t *testing.T) {
	c := New(NewMemoryStore(), newTestLogger())
	ctx := context.Background()
	var calls atomic.Int32

	fetch := func(context.Context) (map[string]string, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return map[string]string{"currency": "SAR"}, nil
	}

	first, err := GetOrSet(ctx, c, "T1", ResourceSettings, "", time.Hour, fetch)
	require.NoError(t, err)
	second, err := GetOrSet(ctx, c, "T1", ResourceSettings, "", time.Hour, fetch)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetOrSet_ConcurrentCallersShareFetch(t *testing.T) {
	c := New(NewMemoryStore(), newTestLogger())
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})

	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrSet(ctx, c, "t1", ResourcePackages, "p1", 0, fetch)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestGetOrSet_FetchErrorIsNotCached(t *testing.T) {
	c := New(NewMemoryStore(), newTestLogger())
	ctx := context.Background()
	boom := errors.New("db unavailable")

	_, err := GetOrSet(ctx, c, "t1", ResourcePackages, "p1", 0, func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := GetOrSet(ctx, c, "t1", ResourcePackages, "p1", 0, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	_, err = GetOrSet(ctx, c, "", ResourcePackages, "p1", 0, func(context.Context) (string, error) {
		t.Fatal("fetch must not run without a tenant")
		return "", nil
	})
	assert.ErrorIs(t, err, apperror.ErrMissingTenant)
}

func TestGetOrSet_NilInterfaceResult(t *testing.T) {
	c := New(NewMemoryStore(), newTestLogger())
	ctx := context.Background()
	var calls atomic.Int32

	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}

	var v any
	require.NotPanics(t, func() {
		var err error
		v, err = GetOrSet(ctx, c, "t1", ResourcePackages, "missing", 0, fetch)
		require.NoError(t, err)
	})
	assert.Nil(t, v)

	v, err := GetOrSet(ctx, c, "t1", ResourcePackages, "missing", 0, fetch)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCache_StoreFailuresAreMisses(t *testing.T) {
	inv := &recordingInvalidator{}
	c := New(brokenStore{}, newTestLogger(), WithInvalidator(inv))
	ctx := context.Background()

	var v string
	ok, err := c.Get(ctx, "t1", ResourceSettings, "", &v)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "t1", ResourceSettings, "", "x", 0))
	require.NoError(t, c.Delete(ctx, "t1", ResourceSettings, ""))
	_, err = c.InvalidateResource(ctx, "t1", ResourceSettings)
	require.NoError(t, err)
	assert.Len(t, inv.calls, 2, "invalidations are announced even when the store is down")

	got, err := GetOrSet(ctx, c, "t1", ResourceSettings, "", 0, func(context.Context) (string, error) {
		return "from source", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from source", got)
}

func TestCache_TTL(t *testing.T) {
	c := New(NewMemoryStore(), newTestLogger(), WithDefaultTTL(2*time.Minute), WithResourceTTL("leads", time.Second))
	assert.Equal(t, 5*time.Minute, c.TTL(ResourcePermissions))
	assert.Equal(t, 15*time.Minute, c.TTL(ResourcePackages))
	assert.Equal(t, time.Hour, c.TTL(ResourceSettings))
	assert.Equal(t, time.Second, c.TTL("leads"))
	assert.Equal(t, 2*time.Minute, c.TTL("anything"))
}

func TestMemoryStore_Expiry(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "stale", []byte("v"), time.Second))
	now = now.Add(2 * memorySweepInterval)
	require.NoError(t, m.Set(ctx, "fresh", []byte("v"), time.Minute))
	assert.Len(t, m.items, 1)
}

func TestRedisStore_Namespace(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "cache:")
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "tenant:t1:packages:a", []byte(`"x"`), time.Minute))
	assert.True(t, mr.Exists("cache:tenant:t1:packages:a"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := s.Get(ctx, "tenant:t1:packages:a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "tenant:t1:packages:a", []byte(`"x"`), time.Minute))
	require.NoError(t, s.Set(ctx, "tenant:t1:packagesets:a", []byte(`"y"`), time.Minute))
	require.NoError(t, mr.Set("tenant:t1:packages:b", "outside the namespace"))

	n, err := s.DeletePrefix(ctx, "tenant:t1:packages:")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("cache:tenant:t1:packagesets:a"))
	assert.True(t, mr.Exists("tenant:t1:packages:b"))

	require.NoError(t, s.Delete(ctx))
}

func TestHandler_Invalidate(t *testing.T) {
	inv := &recordingInvalidator{}
	c := New(NewMemoryStore(), newTestLogger(), WithInvalidator(inv))
	authn := auth.NewJWTAuthenticator("test-secret", "", 0)

	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(newTestLogger())
	RegisterRoutes(e, NewHandler(c), auth.NewMiddleware(authn, newTestLogger()))

	do := func(path string, role auth.Role) *httptest.ResponseRecorder {
		token, err := authn.Issue(auth.Identity{UserID: "u1", TenantID: "t1", Role: role}, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodDelete, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "t1", ResourcePackages, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "t1", ResourcePackages, "b", 2, 0))

	assert.Equal(t, http.StatusForbidden, do("/api/cache/packages", auth.RoleAgent).Code)

	rec := do("/api/cache/packages?id=a", auth.RoleManager)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do("/api/cache/packages", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
	assert.Len(t, inv.calls, 2)
}
