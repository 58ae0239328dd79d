// common/middleware/metrics.go
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "observashop", Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests by path, method and status code",
	}, []string{"path", "method", "code"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "observashop", Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request handling latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"})
)

// Metrics считает запросы и латентность per path/method. Код ответа
// снимается через обёртку над ResponseWriter: хендлер, не вызвавший
// WriteHeader, отвечает 200.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)

			httpRequests.WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(sw.code)).Inc()
			httpLatency.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
