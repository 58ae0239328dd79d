// internal/auth/usecase/logout.go
package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/auth/audit"
	"github.com/davidshare/ObservaShop/internal/auth/metrics"
	"github.com/davidshare/ObservaShop/internal/token"
)

var logoutTracer = otel.Tracer("auth/usecase/logout")

type logoutHandler struct {
	revocations RevocationStore
	verifier    token.Verifier
	audit       audit.Recorder
	log         *logger.Logger
}

func NewLogoutHandler(
	revocations RevocationStore,
	verifier token.Verifier,
	rec audit.Recorder,
	log *logger.Logger,
) LogoutHandler {
	return &logoutHandler{
		revocations: revocations,
		verifier:    verifier,
		audit:       rec,
		log:         log.Named("logout"),
	}
}

// Handle отзывает всё семейство предъявленного refresh-токена.
// Идемпотентен: повторный logout уже отозванного семейства — успех.
// Срок refresh-токена игнорируется (проверяется только подпись):
// пользователь с протухшим токеном всё равно должен уметь добить сессию.
func (h *logoutHandler) Handle(ctx context.Context, refreshToken, accessToken string) error {
	ctx, span := logoutTracer.Start(ctx, "Logout")
	defer span.End()

	claims, err := h.verifier.VerifySignatureOnly(refreshToken)
	if err != nil {
		metrics.LogoutTotal.WithLabelValues("invalid").Inc()
		return err
	}

	if err := h.revocations.RevokeFamily(ctx, claims.FamilyID); err != nil {
		metrics.LogoutTotal.WithLabelValues("fail").Inc()
		return err
	}

	// предъявленный access-токен гасим сразу, не дожидаясь его expiry
	if accessToken != "" {
		if ac, err := h.verifier.VerifyAccess(accessToken); err == nil {
			if err := h.revocations.DenylistToken(ctx, ac.JTI(), ac.RemainingTTL(time.Now())); err != nil {
				h.log.WithContext(ctx).Warn("denylist on logout failed", zap.Error(err))
			}
		}
	}

	h.audit.Record(ctx, audit.Event{
		Kind:     audit.EventFamilyRevoked,
		UserID:   claims.UserID(),
		FamilyID: claims.FamilyID,
		Detail:   "logout",
	})
	metrics.LogoutTotal.WithLabelValues("ok").Inc()
	h.log.WithContext(ctx).Info("family revoked on logout",
		zap.String("user_id", claims.UserID()),
		zap.String("family_id", claims.FamilyID),
	)
	return nil
}
