package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestRamp_Limit(t *testing.T) {
	r := Ramp{Initial: 1, Step: 1, Interval: 30 * time.Minute, Ceiling: 10}
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 1},
		{29 * time.Minute, 1},
		{30 * time.Minute, 2},
		{95 * time.Minute, 4},
		{10 * time.Hour, 10},
	}
	for _, tc := range cases {
		if got := r.Limit(tc.elapsed); got != tc.want {
			t.Errorf("Limit(%v) = %d, want %d", tc.elapsed, got, tc.want)
		}
	}
}

func TestRampGate_WaitsForNextWindow(t *testing.T) {
	start := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	g := newRampGate(Ramp{Initial: 2, Ceiling: 2, Window: time.Minute}, clock, time.Time{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if got := clock.Now().Sub(start); got != time.Minute {
		t.Fatalf("expected third send to wait one window, waited %v", got)
	}
}

func TestRampGate_CancelledWait(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	g := newRampGate(Ramp{Initial: 1, Ceiling: 1, Window: time.Minute}, clock, time.Time{})
	ctx, cancel := context.WithCancel(context.Background())

	if err := g.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	cancel()
	if err := g.Wait(ctx); err == nil {
		t.Fatalf("expected cancelled wait to fail")
	}
}

func TestRampGate_ResumedJobKeepsReachedRate(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	ramp := Ramp{Initial: 1, Step: 1, Interval: 30 * time.Minute, Ceiling: 10, Window: time.Minute}
	g := newRampGate(ramp, clock, now.Add(-time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if !clock.Now().Equal(now) {
		t.Fatalf("expected three sends without waiting after an hour of ramp, waited %v", clock.Now().Sub(now))
	}
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("fourth wait: %v", err)
	}
	if got := clock.Now().Sub(now); got != time.Minute {
		t.Fatalf("expected fourth send to wait one window, waited %v", got)
	}
}
