// auth/internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidshare/ObservaShop/common/httpserver"
	producer "github.com/davidshare/ObservaShop/common/kafka/producer"
	"github.com/davidshare/ObservaShop/common/logger"
	commonmw "github.com/davidshare/ObservaShop/common/middleware"
	commonredis "github.com/davidshare/ObservaShop/common/redis"
	"github.com/davidshare/ObservaShop/common/serviceid"
	"github.com/davidshare/ObservaShop/common/telemetry"

	"github.com/davidshare/ObservaShop/internal/auth/audit"
	"github.com/davidshare/ObservaShop/internal/auth/config"
	"github.com/davidshare/ObservaShop/internal/auth/metrics"
	"github.com/davidshare/ObservaShop/internal/auth/storage/postgres"
	transporthttp "github.com/davidshare/ObservaShop/internal/auth/transport/http"
	"github.com/davidshare/ObservaShop/internal/auth/usecase"
	"github.com/davidshare/ObservaShop/internal/policy"
	"github.com/davidshare/ObservaShop/internal/revocation"
	"github.com/davidshare/ObservaShop/internal/token"
)

// seedRoles гарантирует базовые роли при старте. Идемпотентно.
func seedRoles(ctx context.Context, rbac postgres.RBACRepository) error {
	if err := rbac.EnsureRole(ctx, usecase.DefaultRole, "registered user"); err != nil {
		return err
	}
	if err := rbac.EnsureRole(ctx, "admin", "platform administrator"); err != nil {
		return err
	}
	return nil
}

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

	// === PostgreSQL ===
	db, err := postgres.Connect(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer db.Close()
	if err := postgres.ApplyMigrations(ctx, db, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	userRepo := postgres.NewUserRepo(db)
	rbacRepo := postgres.NewRBACRepo(db)
	if err := seedRoles(ctx, rbacRepo); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	// === Redis (revocation cache) ===
	rdb, err := commonredis.New(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer rdb.Close()
	revocations := revocation.New(rdb, cfg.JWT.RefreshTTL, log)

	// === Kafka (audit, опционален) ===
	auditRec := audit.Nop()
	if cfg.Kafka.Enabled {
		prod, err := producer.New(ctx, cfg.Kafka.Producer, log)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer func() {
			if err := prod.Close(); err != nil {
				log.WithContext(ctx).Error("kafka close failed", zap.Error(err))
			}
		}()
		auditRec = audit.NewKafkaRecorder(prod, log)
	}

	// === JWT Signer/Verifier ===
	priv, err := token.LoadPrivateKey(cfg.JWT.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("jwt private key: %w", err)
	}
	signer, err := token.NewRS256Signer(priv, cfg.JWT.Issuer, cfg.JWT.Audience,
		cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	if err != nil {
		return fmt.Errorf("jwt signer: %w", err)
	}

	// === Policy evaluator (охрана административных маршрутов) ===
	evaluator := policy.NewEvaluator(rbacRepo, cfg.Policy.CacheTTL, log)

	// === Usecases ===
	uc := usecase.NewHandler(
		usecase.NewLoginHandler(userRepo, rbacRepo, revocations, signer, auditRec, log),
		usecase.NewRegisterHandler(userRepo, rbacRepo, revocations, log),
		usecase.NewRefreshTokenHandler(rbacRepo, revocations, signer, signer, auditRec, log),
		usecase.NewLogoutHandler(revocations, signer, auditRec, log),
		usecase.NewRoleAdminHandler(rbacRepo, revocations, log),
	)

	// === HTTP transport ===
	handler := transporthttp.NewHandler(uc, rbacRepo, log)
	mw := transporthttp.NewMiddleware(signer, revocations, evaluator)
	api := transporthttp.Routes(handler, mw)

	readiness := func() error {
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.Ping(ctxPing); err != nil {
			return err
		}
		return rdb.Ping(ctxPing)
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

	log.WithContext(ctx).Info("auth: starting services")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(ctx) })
	g.Go(func() error {
		evaluator.Run(ctx, revocations.SubscribeInvalidation(ctx))
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() == context.Canceled {
			log.WithContext(ctx).Info("auth shut down cleanly")
			return nil
		}
		log.WithContext(ctx).Error("auth exited with error", zap.Error(err))
		return err
	}

	log.WithContext(ctx).Info("auth shut down complete")
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
