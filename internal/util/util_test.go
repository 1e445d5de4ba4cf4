package util

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), Backoff{MaxAttempts: 5}, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), Backoff{MaxAttempts: maxAttempts}, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, Backoff{MaxAttempts: 5, BaseDelay: time.Hour}, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times after cancel, want 1", attempts)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	// The first token is available immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	// The next one takes a second at 60/min, so the deadline wins.
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait error = %v, want DeadlineExceeded", err)
	}

	if err := NewRateLimiter(0, 0).Wait(context.Background()); err != nil {
		t.Errorf("unlimited Wait: %v", err)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait %d within burst: %v", i+1, err)
		}
	}
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait past burst error = %v, want DeadlineExceeded", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.n, 0.9); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	b.Jitter = 0.5
	if got := b.Delay(1, 0); got != 2*time.Second {
		t.Errorf("Delay with zero draw = %v, want 2s", got)
	}
	if got := b.Delay(1, 0.5); got != 1500*time.Millisecond {
		t.Errorf("Delay with jitter = %v, want 1.5s", got)
	}

	b.Jitter = 3
	if got := b.Delay(0, 0.5); got != 500*time.Millisecond {
		t.Errorf("Delay with jitter clamped to 1 = %v, want 500ms", got)
	}
}

func TestRetryPermanent(t *testing.T) {
	base := errors.New("bad symbol")
	attempts := 0
	err := Retry(context.Background(), Backoff{MaxAttempts: 5}, func() error {
		attempts++
		return Permanent(base)
	})
	if err != base {
		t.Errorf("Retry error = %v, want the unwrapped permanent error", err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "warn", "json").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %s", buf.String())
	}

	NewLoggerTo(&buf, "info", "json").Info("kept", "component", "engine")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json handler output not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["component"] != "engine" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	NewLoggerTo(&buf, "info", "text").Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text handler output = %q", buf.String())
	}
}
