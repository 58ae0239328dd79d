// gateway/internal/client/auth/client.go
package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/davidshare/ObservaShop/internal/autherr"
)

var tracer = otel.Tracer("gateway/authclient")

// Client — HTTP-клиент read-side auth-сервиса. Реализует policy.Store.
// Повторных попыток нет: evaluator кэширует результаты и fail-closed
// на ошибке, медленный retry здесь только задержал бы отказ.
type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type permissionsResponse struct {
	Permissions []string `json:"permissions"`
}

// PermissionsOf возвращает объединение разрешений всех ролей пользователя.
func (c *Client) PermissionsOf(ctx context.Context, userID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "PermissionsOf")
	defer span.End()

	url := fmt.Sprintf("%s/internal/users/%s/permissions", c.base, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("authclient: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: authclient: %v", autherr.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: authclient: status %d", autherr.ErrDependencyUnavailable, resp.StatusCode)
	}

	var body permissionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: authclient: decode: %v", autherr.ErrDependencyUnavailable, err)
	}
	return body.Permissions, nil
}

// Ping проверяет доступность auth-сервиса через healthz.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authclient: healthz status %d", resp.StatusCode)
	}
	return nil
}
