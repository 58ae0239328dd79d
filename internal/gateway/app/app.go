// gateway/internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidshare/ObservaShop/common/httpserver"
	"github.com/davidshare/ObservaShop/common/logger"
	commonmw "github.com/davidshare/ObservaShop/common/middleware"
	commonredis "github.com/davidshare/ObservaShop/common/redis"
	"github.com/davidshare/ObservaShop/common/serviceid"
	"github.com/davidshare/ObservaShop/common/telemetry"

	authclient "github.com/davidshare/ObservaShop/internal/gateway/client/auth"
	"github.com/davidshare/ObservaShop/internal/gateway/config"
	"github.com/davidshare/ObservaShop/internal/gateway/enforce"
	"github.com/davidshare/ObservaShop/internal/gateway/metrics"
	transporthttp "github.com/davidshare/ObservaShop/internal/gateway/transport/http"
	"github.com/davidshare/ObservaShop/internal/policy"
	"github.com/davidshare/ObservaShop/internal/revocation"
	"github.com/davidshare/ObservaShop/internal/token"
)

func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	serviceid.InitServiceName(cfg.ServiceName)
	metrics.Register(nil)

	// === Telemetry ===
	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", shutdownTracer, log)

	// === Redis (revocation cache, read-side) ===
	rdb, err := commonredis.New(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer rdb.Close()
	// refresh-TTL gateway'ю не нужен: он только читает denylist и
	// слушает инвалидации, семейств не создаёт.
	revocations := revocation.New(rdb, 0, log)

	// === JWT verifier (только публичный ключ) ===
	pub, err := token.LoadPublicKey(cfg.JWT.PublicKeyPath)
	if err != nil {
		return fmt.Errorf("jwt public key: %w", err)
	}
	verifier, err := token.NewRS256Verifier(pub, cfg.JWT.Issuer, cfg.JWT.Audience)
	if err != nil {
		return fmt.Errorf("jwt verifier: %w", err)
	}

	// === Policy evaluator поверх read-side auth-сервиса ===
	store := authclient.New(cfg.AuthURL, 2*time.Second)
	evaluator := policy.NewEvaluator(store, cfg.Policy.CacheTTL, log)

	enforcer := enforce.New(verifier, revocations, evaluator, log)

	api, err := transporthttp.Routes(cfg.Routes, enforcer, log)
	if err != nil {
		return fmt.Errorf("routes init: %w", err)
	}

	readiness := func() error {
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctxPing); err != nil {
			return err
		}
		return store.Ping(ctxPing)
	}
	httpSrv, err := httpserver.New(cfg.HTTP, readiness, log,
		map[string]http.Handler{"/": api},
		httpserver.RecoverMiddleware,
		httpserver.CORSMiddleware(),
		commonmw.RequestID(),
		commonmw.Metrics(),
	)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	log.WithContext(ctx).Info("api-gateway: starting services")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(ctx) })
	g.Go(func() error {
		evaluator.Run(ctx, revocations.SubscribeInvalidation(ctx))
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() == context.Canceled {
			log.WithContext(ctx).Info("api-gateway shut down cleanly")
			return nil
		}
		log.WithContext(ctx).Error("api-gateway exited with error", zap.Error(err))
		return err
	}

	log.WithContext(ctx).Info("api-gateway shut down complete")
	return nil
}

func shutdownSafe(ctx context.Context, name string, fn func(context.Context) error, log *logger.Logger) {
	log.WithContext(ctx).Info(name + ": shutting down")
	if err := fn(ctx); err != nil {
		log.WithContext(ctx).Error(name+" shutdown failed", zap.Error(err))
	} else {
		log.WithContext(ctx).Info(name + ": shutdown complete")
	}
}
