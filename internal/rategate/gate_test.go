package rategate

import (
	"context"
	"testing"
	"time"
)

func TestGateEnforcesMinInterval(t *testing.T) {
	g := New(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 60*time.Millisecond {
		t.Errorf("expected at least 3 intervals (60ms) between 4 requests, got %s", elapsed)
	}
}

func TestGateDisabledWhenZero(t *testing.T) {
	g := New(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Errorf("zero interval gate should not sleep")
	}
}

func TestGateRespectsCancellation(t *testing.T) {
	g := New(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := g.Wait(ctx); err != nil {
		t.Fatalf("first wait should not block: %v", err)
	}
	if err := g.Wait(ctx); err == nil {
		t.Errorf("expected context deadline error on second wait")
	}
}
