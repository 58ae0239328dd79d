// gateway/internal/enforce/enforce.go
//
// Package enforce реализует точку принятия решения gateway'я. Порядок
// проверок фиксирован: подпись и срок, затем denylist, затем политика.
// Любой сбой инфраструктуры на этом пути — отказ, никогда не allow.
package enforce

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/autherr"
	"github.com/davidshare/ObservaShop/internal/gateway/metrics"
	"github.com/davidshare/ObservaShop/internal/policy"
	"github.com/davidshare/ObservaShop/internal/token"
)

var tracer = otel.Tracer("gateway/enforce")

// Denylist — read-side revocation-кеша. Реализуется revocation.Store.
type Denylist interface {
	IsTokenDenylisted(ctx context.Context, jti string) (bool, error)
}

// Identity — результат успешного решения: кто и с какими ролями.
// Прокси сериализует её в X-Auth-* заголовки для upstream'а.
type Identity struct {
	Subject string
	Roles   []string
	TokenID string
}

type Enforcer struct {
	verifier token.Verifier
	revoc    Denylist
	authz    *policy.Evaluator
	log      *logger.Logger
}

func New(verifier token.Verifier, revoc Denylist, authz *policy.Evaluator, log *logger.Logger) *Enforcer {
	return &Enforcer{verifier: verifier, revoc: revoc, authz: authz, log: log.Named("enforce")}
}

// Enforce проверяет access-токен и право permission. Возвращает Identity
// только при allow; любая другая ветка — типизированная ошибка из autherr.
func (e *Enforcer) Enforce(ctx context.Context, rawToken, permission string) (*Identity, error) {
	ctx, span := tracer.Start(ctx, "Enforce")
	defer span.End()

	start := time.Now()
	defer func() { metrics.EnforceDuration.Observe(time.Since(start).Seconds()) }()

	claims, err := e.verifier.VerifyAccess(rawToken)
	if err != nil {
		metrics.EnforceTotal.WithLabelValues("unauthenticated").Inc()
		return nil, err
	}

	denied, err := e.revoc.IsTokenDenylisted(ctx, claims.JTI())
	if err != nil {
		metrics.EnforceTotal.WithLabelValues("unavailable").Inc()
		return nil, err
	}
	if denied {
		metrics.EnforceTotal.WithLabelValues("unauthenticated").Inc()
		return nil, autherr.ErrTokenRevoked
	}

	if err := e.authz.Authorize(ctx, claims.UserID(), permission); err != nil {
		switch {
		case errors.Is(err, autherr.ErrForbidden):
			metrics.EnforceTotal.WithLabelValues("forbidden").Inc()
		default:
			metrics.EnforceTotal.WithLabelValues("unavailable").Inc()
		}
		return nil, err
	}

	metrics.EnforceTotal.WithLabelValues("allow").Inc()
	return &Identity{
		Subject: claims.UserID(),
		Roles:   claims.Roles,
		TokenID: claims.JTI(),
	}, nil
}
