// common/middleware/requestid.go
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/davidshare/ObservaShop/common/ctxkeys"
)

const requestIDHeader = "X-Request-ID"

// RequestID кладёт идентификатор запроса в контекст и эхо-заголовок.
// Входящий X-Request-ID доверяется как есть: его выставляет вышестоящий
// балансировщик, не клиент.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			ctx := context.WithValue(r.Context(), ctxkeys.RequestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
