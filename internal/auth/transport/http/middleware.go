// auth/internal/transport/http/middleware.go
package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/davidshare/ObservaShop/common/ctxkeys"
	"github.com/davidshare/ObservaShop/internal/policy"
	"github.com/davidshare/ObservaShop/internal/response"
	"github.com/davidshare/ObservaShop/internal/token"
)

// Denylist — read-side revocation-кеша. Реализуется revocation.Store.
type Denylist interface {
	IsTokenDenylisted(ctx context.Context, jti string) (bool, error)
}

// Middleware охраняет административные маршруты auth-сервиса.
// Проверка идентична gateway-овской: подпись, denylist, политика.
type Middleware struct {
	verifier token.Verifier
	revoc    Denylist
	authz    *policy.Evaluator
}

func NewMiddleware(verifier token.Verifier, revoc Denylist, authz *policy.Evaluator) *Middleware {
	return &Middleware{verifier: verifier, revoc: revoc, authz: authz}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

// Authenticate проверяет access-токен и кладёт субъект и роли в контекст.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			response.Unauthorized(w, "missing bearer token")
			return
		}

		claims, err := m.verifier.VerifyAccess(raw)
		if err != nil {
			response.FromError(w, err)
			return
		}

		denied, err := m.revoc.IsTokenDenylisted(r.Context(), claims.JTI())
		if err != nil {
			response.FromError(w, err)
			return
		}
		if denied {
			response.Unauthorized(w, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), ctxkeys.UserIDKey, claims.UserID())
		ctx = context.WithValue(ctx, ctxkeys.RolesKey, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission запрашивает решение у policy evaluator. Отказ
// инфраструктуры не деградирует в allow.
func (m *Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := r.Context().Value(ctxkeys.UserIDKey).(string)
			if !ok || userID == "" {
				response.Unauthorized(w, "unauthorized")
				return
			}
			if err := m.authz.Authorize(r.Context(), userID, permission); err != nil {
				response.FromError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
