package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testClient(url string) *Client {
	return NewClient(url, "",
		WithRetries(3, time.Millisecond, 5*time.Millisecond),
		WithTimeout(time.Second),
	)
}

func TestClient_GetEntityStatus(t *testing.T) {
	lastSeen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/presence/user-42" {
			t.Errorf("path = %s, want /v1/presence/user-42", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"is_online":true,"last_seen":"2025-06-01T12:00:00Z"}`))
	}))
	defer server.Close()

	status, err := testClient(server.URL).GetEntityStatus(context.Background(), "user-42")
	if err != nil {
		t.Fatalf("GetEntityStatus failed: %v", err)
	}
	if !status.IsOnline {
		t.Error("expected IsOnline true")
	}
	if status.LastSeen == nil || !status.LastSeen.Equal(lastSeen) {
		t.Errorf("LastSeen = %v, want %v", status.LastSeen, lastSeen)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"is_online":false}`))
	}))
	defer server.Close()

	status, err := testClient(server.URL).GetEntityStatus(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetEntityStatus failed: %v", err)
	}
	if status.IsOnline {
		t.Error("expected IsOnline false")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestClient_RetryBound(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := testClient(server.URL).GetEntityStatus(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	mu.Lock()
	defer mu.Unlock()
	// 1 initial attempt + at most 3 retries.
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient(server.URL).GetEntityStatus(context.Background(), "ghost")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.IsRetryable() {
		t.Error("404 must not be retryable")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
	}
}

func TestClient_FallbackEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users/user-7/status" {
			t.Errorf("path = %s, want /v1/users/user-7/status", r.URL.Path)
		}
		w.Write([]byte(`{"is_online":true}`))
	}))
	defer server.Close()

	status, err := testClient(server.URL).GetEntityStatusFallback(context.Background(), "user-7")
	if err != nil {
		t.Fatalf("GetEntityStatusFallback failed: %v", err)
	}
	if !status.IsOnline {
		t.Error("expected IsOnline true")
	}
}

func TestClient_FallbackIsSingleAttempt(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := testClient(server.URL).GetEntityStatusFallback(context.Background(), "user-7")
	if err == nil {
		t.Fatal("expected error")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (fallback does not retry)", attempts)
	}
}

func TestClient_AuthHeader(t *testing.T) {
	var gotAuth string
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		w.Write([]byte(`{"is_online":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-123")
	if _, err := client.GetEntityStatus(context.Background(), "user-1"); err != nil {
		t.Fatalf("GetEntityStatus failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-123")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetries(10, 50*time.Millisecond, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.GetEntityStatus(ctx, "user-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}
