package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	errBusy := errors.New("busy")
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, 2*time.Millisecond,
		func(err error) bool { return errors.Is(err, errBusy) },
		func() error {
			calls++
			if calls < 3 {
				return errBusy
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	errFatal := errors.New("fatal")
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, time.Millisecond,
		func(error) bool { return false },
		func() error {
			calls++
			return errFatal
		})
	if !errors.Is(err, errFatal) || calls != 1 {
		t.Fatalf("Retry() = %v after %d calls, want errFatal after 1", err, calls)
	}
}
