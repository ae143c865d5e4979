package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestBackoffDoublesAndClamps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 20 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(2*time.Second, tc.attempt, 20*time.Second); got != tc.want {
			t.Fatalf("attempt %d: got %v want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryAfterParsesSecondsAndDates(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := http.Header{}
	h.Set("Retry-After", "3")
	if got := RetryAfter(h, now); got != 3*time.Second {
		t.Fatalf("seconds: got %v", got)
	}
	h.Set("Retry-After", now.Add(10*time.Second).Format(http.TimeFormat))
	if got := RetryAfter(h, now); got != 10*time.Second {
		t.Fatalf("date: got %v", got)
	}
	h.Set("Retry-After", "soon")
	if got := RetryAfter(h, now); got != 0 {
		t.Fatalf("garbage: got %v", got)
	}
}

func TestJitterStaysWithinBand(t *testing.T) {
	base := time.Second
	for i := 0; i < 50; i++ {
		got := Jitter(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("jitter out of band: %v", got)
		}
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	retry := []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable, 599}
	for _, code := range retry {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("%d should be retryable", code)
		}
	}
	for _, code := range []int{http.StatusOK, http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, 600} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("%d should not be retryable", code)
		}
	}
}

func TestIsTransportError(t *testing.T) {
	if IsTransportError(nil) {
		t.Fatalf("nil is not a transport error")
	}
	if !IsTransportError(fmt.Errorf("call: %w", context.DeadlineExceeded)) {
		t.Fatalf("deadline should count as transport")
	}
	if !IsTransportError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}) {
		t.Fatalf("dial error should count as transport")
	}
	if IsTransportError(errors.New("unsupported protocol scheme")) {
		t.Fatalf("plain error is not transport")
	}
}
