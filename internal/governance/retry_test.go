package governance

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetryPolicyDisabledByDefault(t *testing.T) {
	rp := NewRetryPolicy(DefaultRetryConfig())

	calls := 0
	status, err := rp.ExecuteWithRetry(context.Background(), func() (int, error) {
		calls++
		return http.StatusServiceUnavailable, nil
	})
	if calls != 1 {
		t.Fatalf("made %d calls with retries disabled, want 1", calls)
	}
	if status != http.StatusServiceUnavailable || err == nil {
		t.Fatalf("got (%d, %v), want 503 with error", status, err)
	}
}

func TestRetryPolicyRetriesTransientStatus(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialBackoff = time.Millisecond
	cfg.Jitter = false
	rp := NewRetryPolicy(cfg)

	calls := 0
	status, err := rp.ExecuteWithRetry(context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return http.StatusBadGateway, nil
		}
		return http.StatusOK, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if calls != 3 {
		t.Fatalf("made %d calls, want 3", calls)
	}
}

func TestRetryPolicyDoesNotRetryClientErrors(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 3
	cfg.InitialBackoff = time.Millisecond
	rp := NewRetryPolicy(cfg)

	calls := 0
	status, err := rp.ExecuteWithRetry(context.Background(), func() (int, error) {
		calls++
		return http.StatusBadRequest, nil
	})
	if calls != 1 {
		t.Fatalf("made %d calls for 400, want 1", calls)
	}
	if status != http.StatusBadRequest || err == nil {
		t.Fatalf("got (%d, %v), want 400 with error", status, err)
	}
}

func TestRetryPolicyExhaustionWrapsError(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 1
	cfg.InitialBackoff = time.Millisecond
	cfg.Jitter = false
	rp := NewRetryPolicy(cfg)

	transient := errors.New("connection refused")
	_, err := rp.ExecuteWithRetry(context.Background(), func() (int, error) {
		return 0, transient
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("err = %v, want ErrMaxRetriesExceeded", err)
	}
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 5
	cfg.InitialBackoff = time.Second
	rp := NewRetryPolicy(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Cancel during the first backoff wait.
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := rp.ExecuteWithRetry(ctx, func() (int, error) {
		calls++
		return http.StatusServiceUnavailable, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("made %d calls before cancellation, want 1", calls)
	}
}

func TestCalculateBackoffCapsAtMax(t *testing.T) {
	rp := NewRetryPolicy(RetryConfig{
		MaxRetries:        10,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	})

	if got := rp.CalculateBackoff(0); got != 100*time.Millisecond {
		t.Errorf("backoff(0) = %v, want 100ms", got)
	}
	if got := rp.CalculateBackoff(2); got != 400*time.Millisecond {
		t.Errorf("backoff(2) = %v, want 400ms", got)
	}
	if got := rp.CalculateBackoff(8); got != time.Second {
		t.Errorf("backoff(8) = %v, want capped 1s", got)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"application", errors.New("invalid payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
