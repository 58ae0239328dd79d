// internal/auth/usecase/roles.go
package usecase

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/auth/metrics"
	"github.com/davidshare/ObservaShop/internal/auth/storage/postgres"
	"github.com/davidshare/ObservaShop/internal/autherr"
	"github.com/davidshare/ObservaShop/internal/policy"
)

var rolesTracer = otel.Tracer("auth/usecase/roles")

type roleAdminHandler struct {
	rbac        postgres.RBACRepository
	revocations RevocationStore
	log         *logger.Logger
}

func NewRoleAdminHandler(
	rbac postgres.RBACRepository,
	revocations RevocationStore,
	log *logger.Logger,
) RoleAdminHandler {
	return &roleAdminHandler{rbac: rbac, revocations: revocations, log: log.Named("roles")}
}

// GrantRole привязывает роль и публикует инвалидацию ДО возврата успеха:
// evaluator'ы должны узнать об изменении раньше, чем истечёт их TTL.
func (h *roleAdminHandler) GrantRole(ctx context.Context, userID, role string) error {
	ctx, span := rolesTracer.Start(ctx, "GrantRole")
	defer span.End()

	if err := h.rbac.GrantRole(ctx, userID, role); err != nil {
		metrics.RoleOpsTotal.WithLabelValues("fail").Inc()
		return fmt.Errorf("grant role: %w", err)
	}
	if err := h.revocations.PublishInvalidation(ctx, userID); err != nil {
		metrics.RoleOpsTotal.WithLabelValues("fail").Inc()
		return err
	}
	metrics.RoleOpsTotal.WithLabelValues("ok").Inc()
	h.log.WithContext(ctx).Info("role granted",
		zap.String("user_id", userID), zap.String("role", role))
	return nil
}

func (h *roleAdminHandler) RevokeRole(ctx context.Context, userID, role string) error {
	ctx, span := rolesTracer.Start(ctx, "RevokeRole")
	defer span.End()

	if err := h.rbac.RevokeRole(ctx, userID, role); err != nil {
		metrics.RoleOpsTotal.WithLabelValues("fail").Inc()
		return fmt.Errorf("revoke role: %w", err)
	}
	if err := h.revocations.PublishInvalidation(ctx, userID); err != nil {
		metrics.RoleOpsTotal.WithLabelValues("fail").Inc()
		return err
	}
	metrics.RoleOpsTotal.WithLabelValues("ok").Inc()
	h.log.WithContext(ctx).Info("role revoked",
		zap.String("user_id", userID), zap.String("role", role))
	return nil
}

// SetRolePermissions заменяет набор разрешений роли и рассылает
// инвалидацию всем пользователям, привязанным к роли (fan-out).
func (h *roleAdminHandler) SetRolePermissions(ctx context.Context, role string, permissions []string) error {
	ctx, span := rolesTracer.Start(ctx, "SetRolePermissions")
	defer span.End()

	for _, p := range permissions {
		if !policy.KnownPermission(p) {
			metrics.RoleOpsTotal.WithLabelValues("invalid").Inc()
			return fmt.Errorf("%w: %q", autherr.ErrUnknownPermission, p)
		}
	}

	if err := h.rbac.EnsureRole(ctx, role, ""); err != nil {
		metrics.RoleOpsTotal.WithLabelValues("fail").Inc()
		return err
	}
	if err := h.rbac.SetRolePermissions(ctx, role, permissions); err != nil {
		metrics.RoleOpsTotal.WithLabelValues("fail").Inc()
		return err
	}

	users, err := h.rbac.UsersWithRole(ctx, role)
	if err != nil {
		metrics.RoleOpsTotal.WithLabelValues("fail").Inc()
		return fmt.Errorf("role fan-out: %w", err)
	}
	for _, uid := range users {
		if err := h.revocations.PublishInvalidation(ctx, uid); err != nil {
			metrics.RoleOpsTotal.WithLabelValues("fail").Inc()
			return err
		}
	}

	metrics.RoleOpsTotal.WithLabelValues("ok").Inc()
	h.log.WithContext(ctx).Info("role permissions updated",
		zap.String("role", role), zap.Int("permissions", len(permissions)),
		zap.Int("users_invalidated", len(users)))
	return nil
}
