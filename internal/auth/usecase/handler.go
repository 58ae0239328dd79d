// internal/auth/usecase/handler.go
package usecase

import (
	"context"
	"time"

	"github.com/davidshare/ObservaShop/internal/revocation"
)

// RevocationStore — контракт revocation-кеша, нужный usecase'ам.
// Реализуется revocation.Store; в тестах подменяется in-memory фейком.
type RevocationStore interface {
	CreateFamily(ctx context.Context, famID, userID string) error
	AdvanceGeneration(ctx context.Context, famID string, expectedGen int64) (revocation.CASResult, error)
	RevokeFamily(ctx context.Context, famID string) error
	DenylistToken(ctx context.Context, jti string, ttl time.Duration) error
	PublishInvalidation(ctx context.Context, userID string) error
}

// Credentials — входные данные login/register.
type Credentials struct {
	Username string
	Password string
}

// TokenPair — результат login и refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // секунд до истечения access-токена
}

type LoginHandler interface {
	Handle(ctx context.Context, creds Credentials) (*TokenPair, error)
}

type RegisterHandler interface {
	Handle(ctx context.Context, creds Credentials) (string, error)
}

type RefreshTokenHandler interface {
	Handle(ctx context.Context, refreshToken string) (*TokenPair, error)
}

type LogoutHandler interface {
	// accessToken опционален: если передан, его jti попадает в denylist.
	Handle(ctx context.Context, refreshToken, accessToken string) error
}

type RoleAdminHandler interface {
	GrantRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
	SetRolePermissions(ctx context.Context, role string, permissions []string) error
}

// Handler агрегирует все usecase'ы auth-сервиса.
type Handler struct {
	Login    LoginHandler
	Register RegisterHandler
	Refresh  RefreshTokenHandler
	Logout   LogoutHandler
	Roles    RoleAdminHandler
}

func NewHandler(
	login LoginHandler,
	register RegisterHandler,
	refresh RefreshTokenHandler,
	logout LogoutHandler,
	roles RoleAdminHandler,
) Handler {
	return Handler{
		Login:    login,
		Register: register,
		Refresh:  refresh,
		Logout:   logout,
		Roles:    roles,
	}
}
