package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
)

func TestWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), logger.Nop(), "op", 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestWithRetryReturnsLastError(t *testing.T) {
	err := WithRetry(context.Background(), logger.Nop(), "op", 2, time.Millisecond, func() error {
		return errors.New("boom")
	})
	if err == nil || err.Error() != "op: boom" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithRetry(ctx, logger.Nop(), "op", 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Fatalf("expected cancellation before any call, got %v after %d calls", err, calls)
	}
}

func TestWithRetryRejectsZeroAttempts(t *testing.T) {
	if err := WithRetry(context.Background(), logger.Nop(), "op", 0, time.Millisecond, func() error { return nil }); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}
