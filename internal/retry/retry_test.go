package retry

import (
	"context"
	"errors"
	"testing"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	res, err := Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res != "ok" || calls != 3 {
		t.Fatalf("res = %q after %d calls, want ok after 3", res, calls)
	}
}

func TestDoStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d, want nil and 1", err, calls)
	}
}

func TestDoAggregatesAllAttemptErrors(t *testing.T) {
	e1 := errors.New("first")
	e2 := errors.New("second")
	e3 := errors.New("third")
	seq := []error{e1, e2, e3}

	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		defer func() { calls++ }()
		return 0, seq[calls]
	})
	if err == nil {
		t.Fatal("Do should fail after exhausting attempts")
	}
	if calls != MaxAttempts {
		t.Fatalf("calls = %d, want %d", calls, MaxAttempts)
	}
	for _, underlying := range seq {
		if !errors.Is(err, underlying) {
			t.Fatalf("aggregate error does not carry %v: %v", underlying, err)
		}
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Cancel while Do sleeps between the first and second attempt.
		cancel()
	}()
	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("always")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls < 1 || calls >= MaxAttempts {
		t.Fatalf("calls = %d, want at least one attempt and early abort", calls)
	}
}
