// common/httpserver/middleware.go
package httpserver

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/cors"
)

// RecoverMiddleware превращает панику обработчика в 500, не роняя процесс.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic on %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware — permissive CORS для браузерных клиентов.
func CORSMiddleware() Middleware {
	return cors.AllowAll().Handler
}
