// internal/auth/usecase/register.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/auth/metrics"
	"github.com/davidshare/ObservaShop/internal/auth/storage/postgres"
	"github.com/davidshare/ObservaShop/internal/autherr"
)

var registerTracer = otel.Tracer("auth/usecase/register")

// DefaultRole назначается каждому новому пользователю.
const DefaultRole = "user"

const minPasswordLen = 8

type registerHandler struct {
	users       postgres.UserRepository
	rbac        postgres.RBACRepository
	revocations RevocationStore
	log         *logger.Logger
}

func NewRegisterHandler(
	users postgres.UserRepository,
	rbac postgres.RBACRepository,
	revocations RevocationStore,
	log *logger.Logger,
) RegisterHandler {
	return &registerHandler{users: users, rbac: rbac, revocations: revocations, log: log.Named("register")}
}

func (h *registerHandler) Handle(ctx context.Context, creds Credentials) (string, error) {
	ctx, span := registerTracer.Start(ctx, "Register")
	defer span.End()

	username := strings.TrimSpace(strings.ToLower(creds.Username))
	if username == "" || len(creds.Password) < minPasswordLen {
		metrics.RegisterTotal.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: username and password (min %d chars) required",
			autherr.ErrInvalidCredentials, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		metrics.RegisterTotal.WithLabelValues("fail").Inc()
		return "", fmt.Errorf("hash password: %w", err)
	}

	user := &postgres.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Status:       postgres.StatusActive,
	}
	if err := h.users.Create(ctx, user); err != nil {
		if errors.Is(err, postgres.ErrDuplicate) {
			metrics.RegisterTotal.WithLabelValues("invalid").Inc()
			return "", autherr.ErrUserExists
		}
		metrics.RegisterTotal.WithLabelValues("fail").Inc()
		return "", fmt.Errorf("%w: credential store: %v", autherr.ErrDependencyUnavailable, err)
	}

	if err := h.rbac.GrantRole(ctx, user.ID, DefaultRole); err != nil {
		h.log.WithContext(ctx).Error("default role grant failed", zap.String("user_id", user.ID), zap.Error(err))
	} else if err := h.revocations.PublishInvalidation(ctx, user.ID); err != nil {
		h.log.WithContext(ctx).Warn("invalidation publish failed", zap.Error(err))
	}

	metrics.RegisterTotal.WithLabelValues("ok").Inc()
	h.log.WithContext(ctx).Info("user registered", zap.String("user_id", user.ID))
	return user.ID, nil
}
