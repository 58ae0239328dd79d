// internal/auth/audit/audit.go
//
// Пакет audit публикует security-события в Kafka для внешнего
// observability-стека. Публикация идёт вне горячего пути и не влияет
// на исход запроса: ошибка доставки логируется, но не возвращается.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/kafka"
	"github.com/davidshare/ObservaShop/common/logger"
)

// Topic — единый топик security-событий.
const Topic = "auth.security-events"

// Event kinds.
const (
	EventTokenReuseDetected = "token_reuse_detected"
	EventFamilyRevoked      = "family_revoked"
	EventLoginFailureBurst  = "login_failure_burst"
	EventAccountDisabled    = "account_disabled"
)

// Event — сериализуемое security-событие.
type Event struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id,omitempty"`
	FamilyID  string    `json:"family_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Recorder публикует события. Nop-реализация используется в тестах и
// при выключенной Kafka.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type kafkaRecorder struct {
	producer kafka.Producer
	log      *logger.Logger
}

func NewKafkaRecorder(p kafka.Producer, log *logger.Logger) Recorder {
	return &kafkaRecorder{producer: p, log: log.Named("audit")}
}

func (r *kafkaRecorder) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("audit: marshal event", zap.Error(err))
		return
	}
	// ключ = user_id, чтобы события одного пользователя шли в один partition
	if err := r.producer.Publish(ctx, Topic, []byte(ev.UserID), payload); err != nil {
		r.log.Error("audit: publish failed",
			zap.String("kind", ev.Kind),
			zap.Error(err),
		)
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}

// Nop возвращает recorder, который ничего не делает.
func Nop() Recorder { return nopRecorder{} }
