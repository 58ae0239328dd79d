// internal/policy/evaluator_test.go
package policy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/autherr"
	"github.com/davidshare/ObservaShop/internal/revocation"
)

type fakeStore struct {
	mu    sync.Mutex
	perms map[string][]string
	calls int32
	err   error
	gate  chan struct{} // если не nil, PermissionsOf ждёт закрытия
}

func (f *fakeStore) PermissionsOf(_ context.Context, userID string) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.perms[userID], nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newTestEvaluator(t *testing.T, store *fakeStore, ttl time.Duration) (*Evaluator, *time.Time) {
	t.Helper()
	e := NewEvaluator(store, ttl, testLogger(t))
	now := time.Now()
	e.now = func() time.Time { return now }
	return e, &now
}

func TestAuthorize_AllowAndDeny(t *testing.T) {
	store := &fakeStore{perms: map[string][]string{"u1": {"order:read", "order:create"}}}
	e, _ := newTestEvaluator(t, store, time.Minute)

	if err := e.Authorize(context.Background(), "u1", "order:read"); err != nil {
		t.Errorf("allow expected, got %v", err)
	}
	if err := e.Authorize(context.Background(), "u1", "payment:refund"); !errors.Is(err, autherr.ErrForbidden) {
		t.Errorf("deny expected, got %v", err)
	}
	if err := e.Authorize(context.Background(), "unknown", "order:read"); !errors.Is(err, autherr.ErrForbidden) {
		t.Errorf("unknown user must be denied, got %v", err)
	}
}

func TestAuthorize_EmptyInputsDenied(t *testing.T) {
	store := &fakeStore{perms: map[string][]string{}}
	e, _ := newTestEvaluator(t, store, time.Minute)

	if err := e.Authorize(context.Background(), "", "order:read"); !errors.Is(err, autherr.ErrForbidden) {
		t.Errorf("empty user must be denied, got %v", err)
	}
	if err := e.Authorize(context.Background(), "u1", ""); !errors.Is(err, autherr.ErrForbidden) {
		t.Errorf("empty permission must be denied, got %v", err)
	}
	if got := atomic.LoadInt32(&store.calls); got != 0 {
		t.Errorf("store must not be consulted for empty input, calls=%d", got)
	}
}

func TestAuthorize_CacheHitWithinTTL(t *testing.T) {
	store := &fakeStore{perms: map[string][]string{"u1": {"order:read"}}}
	e, _ := newTestEvaluator(t, store, time.Minute)

	for i := 0; i < 5; i++ {
		if err := e.Authorize(context.Background(), "u1", "order:read"); err != nil {
			t.Fatalf("authorize: %v", err)
		}
	}
	if got := atomic.LoadInt32(&store.calls); got != 1 {
		t.Errorf("want single store fetch, got %d", got)
	}
}

func TestAuthorize_TTLExpiryRefetches(t *testing.T) {
	store := &fakeStore{perms: map[string][]string{"u1": {"order:read"}}}
	e, now := newTestEvaluator(t, store, time.Minute)

	if err := e.Authorize(context.Background(), "u1", "order:read"); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	*now = now.Add(2 * time.Minute)
	if err := e.Authorize(context.Background(), "u1", "order:read"); err != nil {
		t.Fatalf("authorize after expiry: %v", err)
	}
	if got := atomic.LoadInt32(&store.calls); got != 2 {
		t.Errorf("want refetch after TTL, calls=%d", got)
	}
}

func TestAuthorize_InvalidationEvictsBeforeTTL(t *testing.T) {
	store := &fakeStore{perms: map[string][]string{"u1": {"order:read"}}}
	e, _ := newTestEvaluator(t, store, time.Hour)

	if err := e.Authorize(context.Background(), "u1", "order:read"); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	// права отозваны + инвалидация, TTL ещё далеко
	store.mu.Lock()
	store.perms["u1"] = nil
	store.mu.Unlock()
	e.Invalidate("u1")

	if err := e.Authorize(context.Background(), "u1", "order:read"); !errors.Is(err, autherr.ErrForbidden) {
		t.Errorf("revoked permission must deny after invalidation, got %v", err)
	}
}

func TestAuthorize_StoreDownFailsClosed(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	e, _ := newTestEvaluator(t, store, time.Minute)

	err := e.Authorize(context.Background(), "u1", "order:read")
	if !errors.Is(err, autherr.ErrDependencyUnavailable) {
		t.Errorf("want ErrDependencyUnavailable, got %v", err)
	}
	if errors.Is(err, autherr.ErrForbidden) {
		t.Error("unavailability must not be reported as deny")
	}
}

func TestAuthorize_MissSuppression(t *testing.T) {
	store := &fakeStore{
		perms: map[string][]string{"u1": {"order:read"}},
		gate:  make(chan struct{}),
	}
	e, _ := newTestEvaluator(t, store, time.Minute)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Authorize(context.Background(), "u1", "order:read")
		}()
	}
	time.Sleep(50 * time.Millisecond) // все должны повиснуть на одном fetch'е
	close(store.gate)
	wg.Wait()

	if got := atomic.LoadInt32(&store.calls); got != 1 {
		t.Errorf("concurrent misses must collapse to one fetch, got %d", got)
	}
}

func TestRun_ConsumesInvalidationEvents(t *testing.T) {
	store := &fakeStore{perms: map[string][]string{"u1": {"order:read"}}}
	e, _ := newTestEvaluator(t, store, time.Hour)

	if err := e.Authorize(context.Background(), "u1", "order:read"); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan revocation.InvalidationEvent, 1)
	done := make(chan struct{})
	go func() {
		e.Run(ctx, events)
		close(done)
	}()

	events <- revocation.InvalidationEvent{UserID: "u1"}

	deadline := time.After(time.Second)
	for {
		e.mu.RLock()
		_, cached := e.cache["u1"]
		e.mu.RUnlock()
		if !cached {
			break
		}
		select {
		case <-deadline:
			t.Fatal("invalidation event not consumed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
