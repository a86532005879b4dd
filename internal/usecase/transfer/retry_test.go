package transfer

import (
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 500 * time.Millisecond}, // capped
		{9, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}

	if policy.Exhausted(1) || policy.Exhausted(2) {
		t.Error("expected attempts below the limit not to be exhausted")
	}
	if !policy.Exhausted(3) {
		t.Error("expected the limit attempt to be exhausted")
	}
	if !policy.Exhausted(4) {
		t.Error("expected attempts past the limit to be exhausted")
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.MaxAttempts <= 1 {
		t.Fatalf("expected more than one attempt, got %d", policy.MaxAttempts)
	}
	if policy.Delay(2) <= 0 {
		t.Fatal("expected a positive backoff for the second attempt")
	}
	if policy.Delay(100) > policy.MaxDelay {
		t.Fatal("expected backoff capped at MaxDelay")
	}
}
