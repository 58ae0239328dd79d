// internal/auth/usecase/login.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/auth/audit"
	"github.com/davidshare/ObservaShop/internal/auth/metrics"
	"github.com/davidshare/ObservaShop/internal/auth/storage/postgres"
	"github.com/davidshare/ObservaShop/internal/autherr"
	"github.com/davidshare/ObservaShop/internal/token"
)

var loginTracer = otel.Tracer("auth/usecase/login")

// dummyHash — настоящий bcrypt-хеш случайной строки. Сравнение с ним
// выполняется, когда пользователь не найден: профиль времени ответа
// не должен выдавать существование username.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

const failureBurstThreshold = 5

// failureSweepAt — размер карты, при котором fail() выметает протухшие
// ячейки. Credential-spray по случайным username не должен раздувать
// карту безгранично.
const failureSweepAt = 1024

// failureWindow считает подряд идущие InvalidCredentials per username.
// Сбрасывается успешным логином либо истечением окна; протухшие ячейки
// выметаются при росте карты.
type failureWindow struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]failureCell
}

type failureCell struct {
	count int
	since time.Time
}

func newFailureWindow(window time.Duration) *failureWindow {
	return &failureWindow{window: window, seen: make(map[string]failureCell)}
}

// fail регистрирует неудачу и возвращает true при достижении порога.
func (f *failureWindow) fail(username string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seen) >= failureSweepAt {
		f.sweep(now)
	}
	cell := f.seen[username]
	if cell.count == 0 || now.Sub(cell.since) > f.window {
		cell = failureCell{count: 0, since: now}
	}
	cell.count++
	f.seen[username] = cell
	return cell.count == failureBurstThreshold
}

// sweep удаляет ячейки с истёкшим окном. Вызывается под mu.
func (f *failureWindow) sweep(now time.Time) {
	for name, cell := range f.seen {
		if now.Sub(cell.since) > f.window {
			delete(f.seen, name)
		}
	}
}

func (f *failureWindow) reset(username string) {
	f.mu.Lock()
	delete(f.seen, username)
	f.mu.Unlock()
}

type loginHandler struct {
	users       postgres.UserRepository
	rbac        postgres.RBACRepository
	revocations RevocationStore
	signer      token.Signer
	audit       audit.Recorder
	failures    *failureWindow
	log         *logger.Logger
}

func NewLoginHandler(
	users postgres.UserRepository,
	rbac postgres.RBACRepository,
	revocations RevocationStore,
	signer token.Signer,
	rec audit.Recorder,
	log *logger.Logger,
) LoginHandler {
	return &loginHandler{
		users:       users,
		rbac:        rbac,
		revocations: revocations,
		signer:      signer,
		audit:       rec,
		failures:    newFailureWindow(time.Minute),
		log:         log.Named("login"),
	}
}

func (h *loginHandler) Handle(ctx context.Context, creds Credentials) (*TokenPair, error) {
	ctx, span := loginTracer.Start(ctx, "Login")
	defer span.End()

	if creds.Username == "" || creds.Password == "" {
		metrics.LoginTotal.WithLabelValues("invalid").Inc()
		return nil, autherr.ErrInvalidCredentials
	}

	user, err := h.users.FindByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			// ответ не различает "нет пользователя" и "неверный пароль"
			_ = compareWithTimeout(ctx, dummyHash, creds.Password)
			h.recordFailure(ctx, creds.Username)
			return nil, autherr.ErrInvalidCredentials
		}
		metrics.LoginTotal.WithLabelValues("fail").Inc()
		return nil, fmt.Errorf("%w: credential store: %v", autherr.ErrDependencyUnavailable, err)
	}

	if err := compareWithTimeout(ctx, []byte(user.PasswordHash), creds.Password); err != nil {
		if errors.Is(err, autherr.ErrDependencyUnavailable) {
			// таймаут bcrypt — перегрузка инстанса, а не неверный пароль
			metrics.LoginTotal.WithLabelValues("fail").Inc()
			h.log.WithContext(ctx).Error("password check timed out", zap.String("user_id", user.ID))
			return nil, err
		}
		h.log.WithContext(ctx).Warn("invalid password", zap.String("user_id", user.ID))
		h.recordFailure(ctx, creds.Username)
		return nil, autherr.ErrInvalidCredentials
	}

	if user.Disabled() {
		metrics.LoginTotal.WithLabelValues("fail").Inc()
		h.log.WithContext(ctx).Warn("login of disabled account", zap.String("user_id", user.ID))
		return nil, autherr.ErrAccountDisabled
	}
	h.failures.reset(creds.Username)

	roles, err := h.rbac.RolesOf(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: policy store: %v", autherr.ErrDependencyUnavailable, err)
	}

	famID := uuid.NewString()
	if err := h.revocations.CreateFamily(ctx, famID, user.ID); err != nil {
		return nil, err
	}

	access, accessClaims, err := h.signer.SignAccess(user.ID, roles)
	if err != nil {
		return nil, fmt.Errorf("generate access: %w", err)
	}
	refresh, _, err := h.signer.SignRefresh(user.ID, famID, 0)
	if err != nil {
		return nil, fmt.Errorf("generate refresh: %w", err)
	}

	metrics.IssuedTokens.WithLabelValues("access").Inc()
	metrics.IssuedTokens.WithLabelValues("refresh").Inc()
	metrics.LoginTotal.WithLabelValues("ok").Inc()

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessClaims.ExpiresAt.Time).Seconds()),
	}, nil
}

func (h *loginHandler) recordFailure(ctx context.Context, username string) {
	metrics.LoginTotal.WithLabelValues("fail").Inc()
	metrics.LoginFailures.Inc()
	if h.failures.fail(username, time.Now()) {
		h.audit.Record(ctx, audit.Event{
			Kind:     audit.EventLoginFailureBurst,
			Username: username,
			Detail:   fmt.Sprintf("%d consecutive failures", failureBurstThreshold),
		})
	}
}

// compareWithTimeout выполняет bcrypt-сравнение в отдельной goroutine с
// жёстким таймаутом, чтобы дорогая проверка не держала запрос дольше
// бюджета. Истечение таймаута — недоступность (перегруженный CPU),
// а не ошибка учётных данных.
func compareWithTimeout(ctx context.Context, hash []byte, password string) error {
	ctxHash, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	hashCh := make(chan error, 1)
	go func() {
		hashCh <- bcrypt.CompareHashAndPassword(hash, []byte(password))
	}()

	select {
	case err := <-hashCh:
		return err
	case <-ctxHash.Done():
		return fmt.Errorf("%w: password check timed out", autherr.ErrDependencyUnavailable)
	}
}
