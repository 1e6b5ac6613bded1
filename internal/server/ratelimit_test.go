package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatraw/chatraw/internal/logging"
)

func Test_RateLimiter_BurstThenReject(t *testing.T) {
	t.Parallel()
	rl, stop := newRateLimiter(1, 2, logging.New())
	defer stop()

	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 3)
	for i := range statuses {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses[i] = rec.Code
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("429 must carry Retry-After")
		}
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("burst of 2 must pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("third request must be limited, got %v", statuses)
	}
}

func Test_RateLimiter_PerIPIsolation(t *testing.T) {
	t.Parallel()
	rl, stop := newRateLimiter(1, 1, logging.New())
	defer stop()

	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("10.0.0.1") != http.StatusOK {
		t.Error("first request from first IP must pass")
	}
	if send("10.0.0.1") != http.StatusTooManyRequests {
		t.Error("second request from first IP must be limited")
	}
	if send("10.0.0.2") != http.StatusOK {
		t.Error("another IP must have its own bucket")
	}
}

func Test_RateLimiter_Evict(t *testing.T) {
	t.Parallel()
	rl, stop := newRateLimiter(1, 1, logging.New())
	defer stop()

	rl.getLimiter("10.0.0.1")
	rl.mu.Lock()
	rl.limiters["10.0.0.1"].lastSeen = time.Now().Add(-10 * time.Minute)
	rl.mu.Unlock()

	rl.evict()

	rl.mu.Lock()
	_, present := rl.limiters["10.0.0.1"]
	rl.mu.Unlock()
	if present {
		t.Error("stale entry must be evicted")
	}
}

func Test_clientIP(t *testing.T) {
	t.Parallel()
	cases := []struct{ addr, want string }{
		{"10.0.0.1:5000", "10.0.0.1"},
		{"[::1]:5000", "[::1]"},
		{"noport", "noport"},
	}
	for _, c := range cases {
		r := &http.Request{RemoteAddr: c.addr}
		if got := clientIP(r); got != c.want {
			t.Errorf("clientIP(%s) = %q, want %q", c.addr, got, c.want)
		}
	}
}
