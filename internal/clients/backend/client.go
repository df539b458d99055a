// Package backend — HTTP-клиент бэкенда подписок: обмен и проверка токенов,
// каталог продуктов, проверка чеков и синхронизация статуса.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/magabrotheeeer/entitlement/internal/http/response"
)

var (
	// ErrUnavailable — бэкенд недоступен: сеть, таймаут, 5xx, 408, 429 или ответ не от бэкенда
	// (тело не разбирается как конверт API).
	ErrUnavailable = errors.New("backend unavailable")
	// ErrUnauthorized — бэкенд отклонил токен (401).
	ErrUnauthorized = errors.New("backend rejected token")
	// ErrRejected — бэкенд явно отклонил запрос: 4xx или status "Error" в конверте.
	ErrRejected = errors.New("backend rejected request")
)

// Client обращается к API бэкенда.
type Client struct {
	apiURL     string
	healthURL  string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient создаёт клиент для baseURL вида http://host/api/v1.
// Каждый запрос ограничен таймаутом timeout.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	const op = "backend.NewClient"

	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: base url %q must be absolute", op, baseURL)
	}
	health := *u
	health.Path = "/health"

	return &Client{
		apiURL:     u.String(),
		healthURL:  health.String(),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

type envelope struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do выполняет запрос и раскладывает поле data ответа в out.
// Возвращает HTTP-статус, чтобы вызывающий мог отличить 404 от прочих отказов.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var (
		env       envelope
		decodeErr error
	)
	if len(raw) > 0 {
		decodeErr = json.Unmarshal(raw, &env)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrUnauthorized, env.Error)
	case transient(resp.StatusCode):
		return resp.StatusCode, fmt.Errorf("%w: unexpected status %s", ErrUnavailable, resp.Status)
	case decodeErr != nil:
		// HTML страницы портала авторизации, прокси и т.п.
		return resp.StatusCode, fmt.Errorf("%w: %s: decode response: %w", ErrUnavailable, resp.Status, decodeErr)
	case resp.StatusCode >= 400:
		return resp.StatusCode, fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status, env.Error)
	case env.Status == response.StatusError:
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrRejected, env.Error)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err = json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode data: %w", ErrUnavailable, err)
		}
	}
	return resp.StatusCode, nil
}

func transient(status int) bool {
	return status >= 500 ||
		status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests
}

// Ping проверяет доступность бэкенда запросом к /health.
func (c *Client) Ping(ctx context.Context) error {
	const op = "backend.Ping"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: unexpected status %s", op, ErrUnavailable, resp.Status)
	}
	return nil
}
