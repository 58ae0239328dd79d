// gateway/internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	commoncfg "github.com/davidshare/ObservaShop/common/config"
	commonhttp "github.com/davidshare/ObservaShop/common/httpserver"
	commonlogger "github.com/davidshare/ObservaShop/common/logger"
	commonredis "github.com/davidshare/ObservaShop/common/redis"
	commontel "github.com/davidshare/ObservaShop/common/telemetry"
)

// Config описывает параметры запуска api-gateway.
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Logging   commonlogger.Config `mapstructure:"logging"`
	Telemetry commontel.Config    `mapstructure:"telemetry"`
	HTTP      commonhttp.Config   `mapstructure:"http"`
	JWT       JWTConfig           `mapstructure:"jwt"`
	Policy    PolicyConfig        `mapstructure:"policy"`
	Redis     commonredis.Config  `mapstructure:"redis"`
	AuthURL   string              `mapstructure:"auth_url"`
	Routes    []Route             `mapstructure:"routes"`
}

// JWTConfig — верификация access-токенов. Gateway держит ТОЛЬКО
// публичный ключ: он проверяет подписи, но не выпускает токены.
type JWTConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

func (c JWTConfig) Validate() error {
	if c.PublicKeyPath == "" {
		return fmt.Errorf("jwt: public_key_path is required")
	}
	if c.Issuer == "" || c.Audience == "" {
		return fmt.Errorf("jwt: issuer and audience are required")
	}
	return nil
}

// PolicyConfig — параметры локального кэша policy evaluator'а.
type PolicyConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func (c PolicyConfig) Validate() error {
	if c.CacheTTL <= 0 {
		return fmt.Errorf("policy: cache_ttl must be positive")
	}
	return nil
}

// Route привязывает префикс пути к upstream-сервису и требуемому
// permission. Public-маршруты проксируются без токена.
type Route struct {
	Prefix     string `mapstructure:"prefix"`
	Upstream   string `mapstructure:"upstream"`
	Permission string `mapstructure:"permission"`
	Public     bool   `mapstructure:"public"`
}

func (r Route) Validate() error {
	if !strings.HasPrefix(r.Prefix, "/") {
		return fmt.Errorf("route: prefix %q must start with /", r.Prefix)
	}
	if _, err := url.Parse(r.Upstream); err != nil || r.Upstream == "" {
		return fmt.Errorf("route %q: invalid upstream %q", r.Prefix, r.Upstream)
	}
	if !r.Public && r.Permission == "" {
		return fmt.Errorf("route %q: non-public route requires a permission", r.Prefix)
	}
	return nil
}

// Load читает конфиг и валидирует все вложенные поля.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := commoncfg.Load(commoncfg.Options{
		Path:      path,
		EnvPrefix: "GATEWAY",
		Out:       &cfg,
		Defaults: map[string]interface{}{
			"service_name":    "api-gateway",
			"service_version": "v1.0.0",

			"logging.level":    "info",
			"logging.dev_mode": false,

			"telemetry.endpoint":         "otel-collector:4317",
			"telemetry.insecure":         true,
			"telemetry.reconnect_period": "5s",
			"telemetry.timeout":          "5s",
			"telemetry.sampler_ratio":    1.0,

			"http.port":             8080,
			"http.read_timeout":     "10s",
			"http.write_timeout":    "15s",
			"http.idle_timeout":     "60s",
			"http.shutdown_timeout": "5s",
			"http.metrics_path":     "/metrics",
			"http.healthz_path":     "/healthz",
			"http.readyz_path":      "/readyz",

			"jwt.public_key_path": "/etc/gateway/keys/jwt_rsa.pub.pem",
			"jwt.issuer":          "observashop-auth",
			"jwt.audience":        "observashop",

			"policy.cache_ttl": "30s",

			"redis.url":        "redis://redis:6379/0",
			"redis.op_timeout": "250ms",

			"auth_url": "http://auth:8084",
		},
	}); err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	cfg.Logging.ApplyDefaults()
	cfg.Telemetry.ApplyDefaults()
	cfg.HTTP.ApplyDefaults()
	cfg.Redis.ApplyDefaults()

	if cfg.ServiceName == "" || cfg.ServiceVersion == "" {
		return nil, fmt.Errorf("service name/version required")
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if err := cfg.HTTP.Validate(); err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	if err := cfg.JWT.Validate(); err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if err := cfg.Redis.Validate(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("auth_url is required")
	}
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("at least one route is required")
	}
	for _, r := range cfg.Routes {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}
