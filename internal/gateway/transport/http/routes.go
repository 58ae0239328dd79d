// gateway/internal/transport/http/routes.go
package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/gateway/config"
	"github.com/davidshare/ObservaShop/internal/gateway/enforce"
	"github.com/davidshare/ObservaShop/internal/gateway/proxy"
	"github.com/davidshare/ObservaShop/internal/response"
)

// Routes собирает маршрутизатор gateway'я: каждый сконфигурированный
// префикс получает свой guard и свой reverse proxy.
func Routes(routes []config.Route, enforcer *enforce.Enforcer, log *logger.Logger) (http.Handler, error) {
	r := chi.NewRouter()

	for _, rt := range routes {
		up, err := proxy.NewUpstream(rt.Prefix, rt.Upstream, log)
		if err != nil {
			return nil, err
		}
		r.Handle(rt.Prefix+"/*", guard(rt, up, enforcer))
		r.Handle(rt.Prefix, guard(rt, up, enforcer))
	}

	return r, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

// guard выполняет enforcement перед проксированием. Входящие
// идентификационные заголовки срезаются на всех ветках, включая public.
func guard(rt config.Route, up *proxy.Upstream, enforcer *enforce.Enforcer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxy.StripIdentityHeaders(r)

		if rt.Public {
			up.Forward(w, r, nil)
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			response.Unauthorized(w, "missing bearer token")
			return
		}

		id, err := enforcer.Enforce(r.Context(), raw, rt.Permission)
		if err != nil {
			response.FromError(w, err)
			return
		}

		up.Forward(w, r, id)
	})
}
