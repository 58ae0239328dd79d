// internal/auth/usecase/refresh.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/auth/audit"
	"github.com/davidshare/ObservaShop/internal/auth/metrics"
	"github.com/davidshare/ObservaShop/internal/auth/storage/postgres"
	"github.com/davidshare/ObservaShop/internal/autherr"
	"github.com/davidshare/ObservaShop/internal/revocation"
	"github.com/davidshare/ObservaShop/internal/token"
)

var refreshTracer = otel.Tracer("auth/usecase/refresh")

type refreshHandler struct {
	rbac        postgres.RBACRepository
	revocations RevocationStore
	verifier    token.Verifier
	signer      token.Signer
	audit       audit.Recorder
	log         *logger.Logger
}

func NewRefreshTokenHandler(
	rbac postgres.RBACRepository,
	revocations RevocationStore,
	verifier token.Verifier,
	signer token.Signer,
	rec audit.Recorder,
	log *logger.Logger,
) RefreshTokenHandler {
	return &refreshHandler{
		rbac:        rbac,
		revocations: revocations,
		verifier:    verifier,
		signer:      signer,
		audit:       rec,
		log:         log.Named("refresh"),
	}
}

// Handle выполняет ротацию refresh-токена. Compare-and-set поколения в
// revocation-кеше — единственная точка сериализации: из N конкурентных
// предъявлений одного токена ровно одно продвинет поколение, остальные
// отзовут семейство. Повторная попытка здесь намеренно отсутствует:
// успешный конкурент уже ротировал легитимно, и наше поколение протухло.
func (h *refreshHandler) Handle(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := refreshTracer.Start(ctx, "Refresh")
	defer span.End()

	claims, err := h.verifier.VerifyRefresh(refreshToken)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("invalid").Inc()
		h.log.WithContext(ctx).Warn("invalid refresh token", zap.Error(err))
		return nil, err
	}

	res, err := h.revocations.AdvanceGeneration(ctx, claims.FamilyID, claims.Generation)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("fail").Inc()
		return nil, err
	}

	switch res {
	case revocation.CASAdvanced:
		// единственный победитель, продолжаем
	case revocation.CASRevoked:
		metrics.RefreshTotal.WithLabelValues("fail").Inc()
		return nil, autherr.ErrTokenFamilyRevoked
	case revocation.CASStale:
		// предъявленное поколение уже израсходовано: либо кража и replay,
		// либо проигранная гонка. Семейство уже отозвано скриптом.
		metrics.RefreshTotal.WithLabelValues("fail").Inc()
		metrics.ReuseDetected.Inc()
		h.audit.Record(ctx, audit.Event{
			Kind:     audit.EventTokenReuseDetected,
			UserID:   claims.UserID(),
			FamilyID: claims.FamilyID,
			Detail:   fmt.Sprintf("generation %d already consumed", claims.Generation),
		})
		h.log.WithContext(ctx).Warn("refresh token reuse detected",
			zap.String("family_id", claims.FamilyID),
			zap.Int64("generation", claims.Generation),
		)
		return nil, autherr.ErrTokenReuseDetected
	case revocation.CASMissing:
		metrics.RefreshTotal.WithLabelValues("invalid").Inc()
		return nil, autherr.ErrTokenInvalid
	}

	// свежий снапшот ролей: выданный access отражает текущие привязки
	roles, err := h.rbac.RolesOf(ctx, claims.UserID())
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("fail").Inc()
		return nil, fmt.Errorf("%w: policy store: %v", autherr.ErrDependencyUnavailable, err)
	}

	access, accessClaims, err := h.signer.SignAccess(claims.UserID(), roles)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("fail").Inc()
		return nil, fmt.Errorf("generate access: %w", err)
	}
	refresh, _, err := h.signer.SignRefresh(claims.UserID(), claims.FamilyID, claims.Generation+1)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("fail").Inc()
		return nil, fmt.Errorf("generate refresh: %w", err)
	}

	metrics.IssuedTokens.WithLabelValues("access").Inc()
	metrics.IssuedTokens.WithLabelValues("refresh").Inc()
	metrics.RefreshTotal.WithLabelValues("ok").Inc()

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessClaims.ExpiresAt.Time).Seconds()),
	}, nil
}
