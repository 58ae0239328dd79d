// gateway/internal/proxy/proxy.go
package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/gateway/enforce"
	"github.com/davidshare/ObservaShop/internal/gateway/metrics"
	"github.com/davidshare/ObservaShop/internal/response"
)

// Идентификационные заголовки, которые gateway выставляет upstream'у.
// Входящие копии всегда срезаются: им нельзя доверять.
const (
	HeaderSubject = "X-Auth-Subject"
	HeaderRoles   = "X-Auth-Roles"
	HeaderTokenID = "X-Auth-Token-Id"
)

var identityHeaders = []string{HeaderSubject, HeaderRoles, HeaderTokenID}

// Upstream проксирует запросы на один upstream-сервис.
type Upstream struct {
	route string
	rp    *httputil.ReverseProxy
}

func NewUpstream(route, target string, log *logger.Logger) (*Upstream, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.UpstreamErrors.WithLabelValues(route).Inc()
		log.WithContext(r.Context()).Error("upstream round trip failed",
			zap.String("route", route), zap.Error(err))
		response.Unavailable(w, "upstream unavailable")
	}

	return &Upstream{route: route, rp: rp}, nil
}

// StripIdentityHeaders удаляет входящие X-Auth-* заголовки. Вызывается
// до enforcement, чтобы ни один путь не пронёс их мимо.
func StripIdentityHeaders(r *http.Request) {
	for _, h := range identityHeaders {
		r.Header.Del(h)
	}
}

// Forward выставляет Identity в заголовки и отдаёт запрос upstream'у.
// id == nil для public-маршрутов: запрос уходит анонимным.
func (u *Upstream) Forward(w http.ResponseWriter, r *http.Request, id *enforce.Identity) {
	if id != nil {
		r.Header.Set(HeaderSubject, id.Subject)
		r.Header.Del(HeaderRoles)
		for _, role := range id.Roles {
			r.Header.Add(HeaderRoles, role)
		}
		r.Header.Set(HeaderTokenID, id.TokenID)
	}
	metrics.ProxiedRequests.WithLabelValues(u.route).Inc()
	u.rp.ServeHTTP(w, r)
}
