package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	limiter := newRateLimiter(1, 1, time.Minute)

	if !limiter.allow("client") {
		t.Fatalf("expected first request to be allowed")
	}
	if limiter.allow("client") {
		t.Fatalf("expected second request to be rate limited")
	}
	if !limiter.allow("other") {
		t.Fatalf("expected other client to have its own budget")
	}

	time.Sleep(1100 * time.Millisecond)

	if !limiter.allow("client") {
		t.Fatalf("expected request after refill to be allowed")
	}
}

func TestRateLimitHandler(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRateLimitHandler(next, 1, 1, time.Minute, nil)

	codes := make([]int, 0, 3)
	for i, forwarded := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		req := httptest.NewRequest(http.MethodPost, "/gitlab/net/dev", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("expected first request to pass, got %d", rec.Code)
		}
	}
	if codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected rotated X-Forwarded-For to share the peer budget, got %v", codes)
	}
}

func TestClientIPTrustsOnlyConfiguredProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	cases := []struct {
		remote, forwarded, realIP, want string
	}{
		{"203.0.113.7:4000", "198.51.100.1", "", "203.0.113.7"},
		{"10.1.2.3:4000", "198.51.100.1, 10.9.9.9", "", "198.51.100.1"},
		{"192.0.2.1:4000", "spoofed, 198.51.100.2", "", "198.51.100.2"},
		{"10.1.2.3:4000", "", "198.51.100.3", "198.51.100.3"},
		{"10.1.2.3:4000", "", "", "10.1.2.3"},
		{"[::ffff:10.1.2.3]:4000", "198.51.100.4", "", "198.51.100.4"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if tc.realIP != "" {
			req.Header.Set("X-Real-Ip", tc.realIP)
		}
		if got := clientIP(req, proxies); got != tc.want {
			t.Fatalf("remote=%s xff=%q: expected %s, got %s", tc.remote, tc.forwarded, tc.want, got)
		}
	}
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected invalid proxy to be rejected")
	}
}

func TestRateLimitHandlerDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if handler := NewRateLimitHandler(next, 0, 0, 0, nil); handler == nil {
		t.Fatalf("expected passthrough handler")
	}
}
