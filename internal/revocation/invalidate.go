// internal/revocation/invalidate.go
package revocation

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// InvalidationEvent — сообщение канала policy-invalidate:{userId}.
// Доставка at-most-once: подписчики обязаны держать TTL на своих кешах
// и не считать доставку гарантированной.
type InvalidationEvent struct {
	UserID string
}

// PublishInvalidation шлёт событие инвалидации для userID. Вызывается
// ДО возврата успеха из мутации политики.
func (s *Store) PublishInvalidation(ctx context.Context, userID string) error {
	if err := s.rdb.Publish(ctx, invalidateChannel+userID, userID); err != nil {
		return s.unavailable("publish invalidation", err)
	}
	return nil
}

// SubscribeInvalidation подписывается на все события инвалидации и
// стримит их до отмены ctx.
func (s *Store) SubscribeInvalidation(ctx context.Context) <-chan InvalidationEvent {
	raw := s.rdb.Subscribe(ctx, invalidateChannel+"*")
	out := make(chan InvalidationEvent, 64)

	go func() {
		defer close(out)
		for msg := range raw {
			userID := msg.Payload
			if userID == "" {
				userID = strings.TrimPrefix(msg.Channel, invalidateChannel)
			}
			select {
			case out <- InvalidationEvent{UserID: userID}:
			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.Info("subscribed to policy invalidation channel", zap.String("pattern", invalidateChannel+"*"))
	return out
}
