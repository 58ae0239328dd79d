// common/redis/redis.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/backoff"
	"github.com/davidshare/ObservaShop/common/logger"
)

var (
	redisMetrics = struct {
		OpErrors         *prometheus.CounterVec
		OperationLatency prometheus.Histogram
	}{
		OpErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "common", Subsystem: "redis", Name: "op_errors_total",
			Help: "Total number of Redis command errors",
		}, []string{"op"}),
		OperationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "common", Subsystem: "redis", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	tracer = otel.Tracer("redis-client")
)

// ErrNotFound возвращается, если ключ отсутствует.
var ErrNotFound = fmt.Errorf("redis: key not found")

// Config хранит параметры подключения к Redis.
type Config struct {
	URL       string         `mapstructure:"url"`        // e.g. "redis://host:6379/0"
	OpTimeout time.Duration  `mapstructure:"op_timeout"` // per-command deadline; callers fail closed on expiry
	Backoff   backoff.Config `mapstructure:"backoff"`    // connect-time retry only
}

func (c *Config) ApplyDefaults() {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 250 * time.Millisecond
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis: URL required")
	}
	return nil
}

// Message — одно сообщение из pub/sub канала.
type Message struct {
	Channel string
	Payload string
}

// Client — обёртка над go-redis с метриками, трейсингом и коротким
// per-op таймаутом. Команды НЕ ретраятся: горячий путь enforcement
// должен отвалиться быстро и fail-closed, а не висеть в ретраях.
type Client struct {
	rdb       *redis.Client
	opTimeout time.Duration
	log       *logger.Logger
}

// New создает Client и проверяет соединение (retry только на connect).
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse URL: %w", err)
	}
	client := redis.NewClient(opts)

	op := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("url", cfg.URL)))
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, op); err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	span.End()
	log.Info("redis: connected", zap.String("url", cfg.URL))

	return &Client{rdb: client, opTimeout: cfg.OpTimeout, log: log}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get возвращает значение по ключу или ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		redisMetrics.OpErrors.WithLabelValues("get").Inc()
		span.RecordError(err)
		return nil, err
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return val, nil
}

// Set сохраняет значение по ключу с TTL (ttl <= 0 → без истечения).
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		redisMetrics.OpErrors.WithLabelValues("set").Inc()
		span.RecordError(err)
		return err
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return nil
}

// Del удаляет ключ.
func (c *Client) Del(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "Del", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		redisMetrics.OpErrors.WithLabelValues("del").Inc()
		span.RecordError(err)
		return err
	}
	return nil
}

// Exists сообщает, существует ли ключ.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Exists", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		redisMetrics.OpErrors.WithLabelValues("exists").Inc()
		span.RecordError(err)
		return false, err
	}
	return n > 0, nil
}

// HGetAll возвращает все поля хеша; пустой хеш → ErrNotFound.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, span := tracer.Start(ctx, "HGetAll", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		redisMetrics.OpErrors.WithLabelValues("hgetall").Inc()
		span.RecordError(err)
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return res, nil
}

// Eval выполняет Lua-скрипт. Единственный способ получить настоящий
// атомарный compare-and-set поверх нескольких ключей/полей.
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	ctx, span := tracer.Start(ctx, "Eval")
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := redis.NewScript(script).Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		redisMetrics.OpErrors.WithLabelValues("eval").Inc()
		span.RecordError(err)
		return nil, err
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return res, nil
}

// Publish отправляет payload в канал.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	ctx, span := tracer.Start(ctx, "Publish", trace.WithAttributes(attribute.String("channel", channel)))
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		redisMetrics.OpErrors.WithLabelValues("publish").Inc()
		span.RecordError(err)
		return err
	}
	return nil
}

// Subscribe подписывается на pattern (PSUBSCRIBE) и стримит сообщения в
// канал до отмены ctx. Закрытие выполняется внутри, получателю достаточно
// дочитать канал.
func (c *Client) Subscribe(ctx context.Context, pattern string) <-chan Message {
	sub := c.rdb.PSubscribe(ctx, pattern)
	out := make(chan Message, 64)

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
				default:
					// медленный подписчик: дропаем, TTL кеша подстрахует
					redisMetrics.OpErrors.WithLabelValues("subscribe_drop").Inc()
				}
			}
		}
	}()
	return out
}

// Ping проверяет соединение (для readyz).
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error { return c.rdb.Close() }

// IsUnavailable сообщает, является ли err ошибкой доступности Redis
// (таймаут/обрыв), а не доменным ответом.
func IsUnavailable(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
