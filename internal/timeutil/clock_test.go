package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("RealClock.Now() = %v, outside [%v, %v]", got, before, after)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	c.Advance(33 * time.Millisecond)
	want := start.Add(33 * time.Millisecond)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}

	if got := c.Since(start); got != 33*time.Millisecond {
		t.Errorf("Since(start) = %v, want 33ms", got)
	}
}

func TestFakeClockAfterDoesNotBlock(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	select {
	case tm := <-c.After(time.Hour):
		if !tm.Equal(time.Unix(0, 0).Add(time.Hour)) {
			t.Errorf("After delivered %v", tm)
		}
	case <-time.After(time.Second):
		t.Fatal("FakeClock.After blocked")
	}
}
