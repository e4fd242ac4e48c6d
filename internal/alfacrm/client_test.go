package alfacrm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"kiberclub-bot/internal/tokencache"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "admin@test", "secret", []int64{1}, tokencache.NewMemoryStore())
	client.retryDelay = time.Millisecond
	return client, server
}

// Токен запрашивается один раз и переиспользуется из кеша во всех
// последующих вызовах.
func TestCallReusesCachedToken(t *testing.T) {
	var authCalls, apiCalls int64

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2api/auth/login" {
			atomic.AddInt64(&authCalls, 1)
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
			return
		}
		if r.Header.Get("X-ALFACRM-TOKEN") != "tok-123" {
			t.Errorf("unexpected token header: %q", r.Header.Get("X-ALFACRM-TOKEN"))
		}
		atomic.AddInt64(&apiCalls, 1)
		json.NewEncoder(w).Encode(map[string]any{"total": 0, "count": 0, "items": []any{}})
	}))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := client.Call(ctx, 1, "customer", "index", nil, nil); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	if authCalls != 1 {
		t.Errorf("expected 1 auth call, got %d", authCalls)
	}
	if apiCalls != 5 {
		t.Errorf("expected 5 api calls, got %d", apiCalls)
	}
}

// 429 повторяется ровно maxRetries раз и завершается ErrRateLimited.
func TestCallRetriesOnRateLimit(t *testing.T) {
	var apiCalls int64

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2api/auth/login" {
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
			return
		}
		atomic.AddInt64(&apiCalls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.Call(context.Background(), 1, "lesson", "index", nil, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if apiCalls != maxRetries {
		t.Errorf("expected %d attempts, got %d", maxRetries, apiCalls)
	}
}

// 401 не повторяется: протухший токен не обновляется внутри вызова.
func TestCallDoesNotRetryOnUnauthorized(t *testing.T) {
	var apiCalls, authCalls int64

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2api/auth/login" {
			atomic.AddInt64(&authCalls, 1)
			json.NewEncoder(w).Encode(map[string]string{"token": "stale"})
			return
		}
		atomic.AddInt64(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Call(context.Background(), 1, "customer", "index", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if apiCalls != 1 {
		t.Errorf("expected single attempt, got %d", apiCalls)
	}
	if authCalls != 1 {
		t.Errorf("expected single auth, got %d", authCalls)
	}
}

func TestCallRejectsNonJSONBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2api/auth/login" {
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
			return
		}
		w.Write([]byte("<html>maintenance</html>"))
	}))

	_, err := client.Call(context.Background(), 1, "customer", "index", nil, nil)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestCallWrapsUnexpectedStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2api/auth/login" {
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))

	_, err := client.Call(context.Background(), 1, "customer", "index", nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Errorf("expected code 502, got %d", statusErr.Code)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestLastPage(t *testing.T) {
	cases := []struct {
		total, count, want int
	}{
		{0, 0, 1},
		{10, 0, 1},
		{25, 10, 2},
		{20, 10, 2},
		{5, 10, 0},
		{50, 50, 1},
	}
	for _, c := range cases {
		if got := LastPage(c.total, c.count); got != c.want {
			t.Errorf("LastPage(%d, %d) = %d, want %d", c.total, c.count, got, c.want)
		}
	}
}
