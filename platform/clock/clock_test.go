package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeSleepAdvancesAndRecords(t *testing.T) {
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	if err := fake.Sleep(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("Sleep returned error: %v", err)
	}
	if err := fake.Sleep(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatalf("Sleep returned error: %v", err)
	}

	if got := fake.Now(); !got.Equal(start.Add(250 * time.Millisecond)) {
		t.Fatalf("expected clock to advance by 250ms, got %s", got)
	}
	if sleeps := fake.Sleeps(); len(sleeps) != 2 || sleeps[1] != 200*time.Millisecond {
		t.Fatalf("unexpected recorded sleeps: %v", sleeps)
	}
}

func TestRealSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Real{}.Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
