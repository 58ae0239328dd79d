// internal/auth/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// Usecase outcome counters, label = "ok" | "fail" | "invalid".
	LoginTotal    *prometheus.CounterVec
	RegisterTotal *prometheus.CounterVec
	RefreshTotal  *prometheus.CounterVec
	LogoutTotal   *prometheus.CounterVec
	RoleOpsTotal  *prometheus.CounterVec

	// IssuedTokens, label = "access" | "refresh".
	IssuedTokens *prometheus.CounterVec

	// ReuseDetected counts refresh rotation attempts that tripped the
	// reuse detector and revoked the family.
	ReuseDetected prometheus.Counter

	// LoginFailures counts consecutive InvalidCredentials per username
	// window; the gateway rate-limiter acts on this signal.
	LoginFailures prometheus.Counter
)

// Register инициализирует и регистрирует все метрики.
// Если r == nil, используется prometheus.DefaultRegisterer.
func Register(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}

		LoginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth", Subsystem: "usecase", Name: "login_total",
			Help: "Login attempts by outcome",
		}, []string{"result"})
		RegisterTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth", Subsystem: "usecase", Name: "register_total",
			Help: "Registration attempts by outcome",
		}, []string{"result"})
		RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth", Subsystem: "usecase", Name: "refresh_total",
			Help: "Refresh rotations by outcome",
		}, []string{"result"})
		LogoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth", Subsystem: "usecase", Name: "logout_total",
			Help: "Logouts by outcome",
		}, []string{"result"})
		RoleOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth", Subsystem: "usecase", Name: "role_ops_total",
			Help: "Policy administration operations by outcome",
		}, []string{"result"})
		IssuedTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth", Subsystem: "tokens", Name: "issued_total",
			Help: "Issued tokens by kind",
		}, []string{"kind"})
		ReuseDetected = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auth", Subsystem: "tokens", Name: "reuse_detected_total",
			Help: "Refresh token reuse detections (family revoked)",
		})
		LoginFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auth", Subsystem: "usecase", Name: "login_failures_total",
			Help: "Consecutive invalid-credential login failures",
		})

		collectors := []prometheus.Collector{
			LoginTotal, RegisterTotal, RefreshTotal, LogoutTotal, RoleOpsTotal,
			IssuedTokens, ReuseDetected, LoginFailures,
		}
		for _, c := range collectors {
			if err := r.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}
