package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if tb.Allow() {
		t.Error("fourth request should be denied")
	}

	time.Sleep(60 * time.Millisecond)
	if !tb.Allow() {
		t.Error("request after refill should be allowed")
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(1, 30*time.Millisecond)
	tb.Allow()

	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait returned after %v, expected to block until refill", elapsed)
	}
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	tb.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestTokenBucketReset(t *testing.T) {
	tb := PerMinute(1)
	tb.Allow()
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}
	tb.Reset()
	if !tb.Allow() {
		t.Error("request after reset should be allowed")
	}
}
