package tokencache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, found, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("empty store reported a token")
	}

	if err := store.Set(ctx, "abc123", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	token, found, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || token != "abc123" {
		t.Fatalf("expected cached token, got %q found=%v", token, found)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "short-lived", 10*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	_, found, _ := store.Get(ctx)
	if found {
		t.Fatal("token should have expired")
	}
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "first", time.Minute)
	_ = store.Set(ctx, "second", time.Minute)

	token, found, _ := store.Get(ctx)
	if !found || token != "second" {
		t.Fatalf("expected last written token, got %q", token)
	}
}
