// internal/policy/evaluator.go
//
// Package policy implements the in-process policy evaluator replicated into
// every enforcement point. Decisions are cache-first with a TTL backstop;
// invalidation events from the revocation cache's pub/sub channel evict
// entries before the TTL. The consistency bound is therefore
// min(invalidation delivery latency, cache TTL) — bounded staleness, not
// strong consistency.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/autherr"
	"github.com/davidshare/ObservaShop/internal/revocation"
)

var evalTracer = otel.Tracer("policy/evaluator")

var evalMetrics = struct {
	Decisions   *prometheus.CounterVec
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	Evictions   prometheus.Counter
}{
	Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policy", Subsystem: "evaluator", Name: "decisions_total",
		Help: "Authorization decisions by outcome",
	}, []string{"outcome"}),
	CacheHits: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "policy", Subsystem: "evaluator", Name: "cache_hits_total",
		Help: "Permission cache hits",
	}),
	CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "policy", Subsystem: "evaluator", Name: "cache_misses_total",
		Help: "Permission cache misses",
	}),
	Evictions: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "policy", Subsystem: "evaluator", Name: "cache_evictions_total",
		Help: "Cache evictions via invalidation events",
	}),
}

// Store — read-side контракт Policy Store.
type Store interface {
	PermissionsOf(ctx context.Context, userID string) ([]string, error)
}

type cacheEntry struct {
	perms     map[string]struct{}
	expiresAt time.Time
}

// Evaluator отвечает на вопрос "может ли пользователь U выполнить P".
// Evaluator никогда не мутирует политику; он владеет только своим кешем.
type Evaluator struct {
	store Store
	ttl   time.Duration
	log   *logger.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	sf  singleflight.Group
	now func() time.Time
}

// NewEvaluator создает evaluator с TTL-кешем. ttl <= 0 → 30s.
func NewEvaluator(store Store, ttl time.Duration, log *logger.Logger) *Evaluator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Evaluator{
		store: store,
		ttl:   ttl,
		log:   log.Named("policy"),
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// Authorize возвращает nil (allow) или autherr.ErrForbidden (deny).
// Недоступность Policy Store при промахе кеша → ErrDependencyUnavailable:
// отсутствие подтверждения НЕ означает allow.
func (e *Evaluator) Authorize(ctx context.Context, userID, permission string) error {
	ctx, span := evalTracer.Start(ctx, "Authorize")
	defer span.End()

	if userID == "" || permission == "" {
		evalMetrics.Decisions.WithLabelValues("deny").Inc()
		return autherr.ErrForbidden
	}

	perms, err := e.permissions(ctx, userID)
	if err != nil {
		evalMetrics.Decisions.WithLabelValues("unavailable").Inc()
		span.RecordError(err)
		return err
	}

	if _, ok := perms[permission]; !ok {
		evalMetrics.Decisions.WithLabelValues("deny").Inc()
		return autherr.ErrForbidden
	}
	evalMetrics.Decisions.WithLabelValues("allow").Inc()
	return nil
}

// permissions: cache-first, single-flight на промахе, чтобы холодный старт
// не устроил stampede на Policy Store.
func (e *Evaluator) permissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	e.mu.RLock()
	entry, ok := e.cache[userID]
	e.mu.RUnlock()
	if ok && e.now().Before(entry.expiresAt) {
		evalMetrics.CacheHits.Inc()
		return entry.perms, nil
	}
	evalMetrics.CacheMisses.Inc()

	v, err, _ := e.sf.Do(userID, func() (interface{}, error) {
		list, err := e.store.PermissionsOf(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: policy store: %v", autherr.ErrDependencyUnavailable, err)
		}
		set := make(map[string]struct{}, len(list))
		for _, p := range list {
			set[p] = struct{}{}
		}
		e.mu.Lock()
		e.cache[userID] = cacheEntry{perms: set, expiresAt: e.now().Add(e.ttl)}
		e.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]struct{}), nil
}

// Invalidate выкидывает пользователя из кеша.
func (e *Evaluator) Invalidate(userID string) {
	e.mu.Lock()
	_, had := e.cache[userID]
	delete(e.cache, userID)
	e.mu.Unlock()
	if had {
		evalMetrics.Evictions.Inc()
	}
}

// Run потребляет события инвалидации до отмены ctx. Запускается в
// отдельной goroutine каждым enforcement point'ом.
func (e *Evaluator) Run(ctx context.Context, events <-chan revocation.InvalidationEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				e.log.Warn("invalidation channel closed; relying on cache TTL")
				return
			}
			e.Invalidate(ev.UserID)
			e.log.Debug("policy cache invalidated", zap.String("user_id", ev.UserID))
		}
	}
}
