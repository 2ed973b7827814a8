package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterBurstThenWait(t *testing.T) {
	rl := NewRateLimiter(100, 2)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	// третий токен появляется через ~10ms
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("third Wait returned too early: %v", elapsed)
	}
}

func TestRateLimiterBurstBelowRateKept(t *testing.T) {
	rl := NewRateLimiter(10, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
	}
	// третий токен через ~100ms, ведро не расширено до rate
	if err := rl.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded after burst of 2, got %v", err)
	}
}

func TestRateLimiterBurstClampedToOne(t *testing.T) {
	rl := NewRateLimiter(10, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait must pass with clamped burst: %v", err)
	}
	if err := rl.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRateLimiterPauseUntil(t *testing.T) {
	rl := NewRateLimiter(100, 10)
	rl.PauseUntil(time.Now().Add(30 * time.Millisecond))

	if rl.PausedFor() <= 0 {
		t.Fatal("expected active pause")
	}

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Wait ignored pause: %v", elapsed)
	}
}

func TestRateLimiterPauseNotShortened(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	rl.PauseUntil(time.Now().Add(time.Hour))
	rl.PauseUntil(time.Now().Add(time.Second))

	if rl.PausedFor() < 59*time.Minute {
		t.Errorf("earlier PauseUntil must not shorten pause, got %v", rl.PausedFor())
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	rl.PauseUntil(time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
