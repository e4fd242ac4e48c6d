package alfacrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"kiberclub-bot/internal/tokencache"
	"kiberclub-bot/utils"
)

const (
	// Токен живёт в кеше 55 минут — меньше, чем срок жизни на стороне CRM.
	tokenTTL = 3300 * time.Second

	maxRetries     = 5
	baseRetryDelay = 2 * time.Second
	requestTimeout = 10 * time.Second
)

var baseHeaders = map[string]string{
	"Content-Type":    "application/json",
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.36",
	"Accept-Encoding": "gzip, deflate, br",
	"Accept":          "application/json, text/plain, */*",
}

// Client — HTTP-клиент AlfaCRM: авторизация, кешированный токен, повторы
// на 429. За границу клиента не выходит ни одна паника; все отказы — типовые
// ошибки из errors.go.
type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	apiKey     string
	branches   []int64
	tokens     tokencache.TokenStore
	retryDelay time.Duration
}

func NewClient(baseURL, email, apiKey string, branches []int64, tokens tokencache.TokenStore) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		baseURL:    baseURL,
		email:      email,
		apiKey:     apiKey,
		branches:   branches,
		tokens:     tokens,
		retryDelay: baseRetryDelay,
	}
}

// Authenticate выполняет логин в CRM и возвращает свежий токен, не трогая кеш.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":   c.email,
		"api_key": c.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	setBaseHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if auth.Token == "" {
		return "", fmt.Errorf("%w: empty token in response", ErrAuthFailed)
	}

	slog.Info("Authenticated in CRM", "token", utils.MaskHalf(auth.Token))
	return auth.Token, nil
}

// RefreshToken — принудительное обновление токена в кеше. Вызывается по
// расписанию, чтобы воркеры почти всегда заставали тёплый кеш.
func (c *Client) RefreshToken(ctx context.Context) error {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}
	if err := c.tokens.Set(ctx, token, tokenTTL); err != nil {
		return err
	}
	return nil
}

// token возвращает кешированный токен или авторизуется заново. Гонка двух
// воркеров за обновлением безопасна: оба получат рабочий токен, в кеше
// останется последний записанный.
func (c *Client) token(ctx context.Context) (string, error) {
	token, found, err := c.tokens.Get(ctx)
	if err != nil {
		slog.Warn("Token store unavailable, authenticating directly", "error", err)
	}
	if found {
		return token, nil
	}

	token, err = c.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	if err := c.tokens.Set(ctx, token, tokenTTL); err != nil {
		slog.Warn("Failed to cache CRM token", "error", err)
	}
	return token, nil
}

// Call выполняет POST к /v2api/{branch}/{resource}/{action} и возвращает
// сырое JSON-тело. Поведение по статусам: 200 — успех, 401 — отказ без
// повтора (протухший токен не обновляется внутри вызова), 429 — экспоненциальный
// повтор 2,4,8,16,32 с, прочее — немедленный отказ.
func (c *Client) Call(ctx context.Context, branch int64, resource, action string, body any, query url.Values) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v2api/%d/%s/%s", c.baseURL, branch, resource, action)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	delay := c.retryDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		setBaseHeaders(req)
		req.Header.Set("X-ALFACRM-TOKEN", token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &TransportError{Err: err}
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, &TransportError{Err: readErr}
		}

		switch resp.StatusCode {
		case http.StatusOK:
			if !json.Valid(raw) {
				return nil, &DecodeError{Err: fmt.Errorf("non-JSON body of %d bytes", len(raw))}
			}
			return raw, nil
		case http.StatusUnauthorized:
			return nil, ErrUnauthorized
		case http.StatusTooManyRequests:
			slog.Warn("CRM rate limited, retrying", "delay", delay, "attempt", attempt+1, "endpoint", endpoint)
			select {
			case <-ctx.Done():
				return nil, &TransportError{Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		default:
			return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
		}
	}

	return nil, ErrRateLimited
}

func setBaseHeaders(req *http.Request) {
	for k, v := range baseHeaders {
		req.Header.Set(k, v)
	}
}

// callInto декодирует ответ Call в типизированную структуру. Методы в Go не
// бывают generic, поэтому это функция пакета.
func callInto[T any](ctx context.Context, c *Client, branch int64, resource, action string, body any, query url.Values) (*T, error) {
	raw, err := c.Call(ctx, branch, resource, action, body, query)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &out, nil
}
