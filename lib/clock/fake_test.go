// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := Fake(start)

	if !clk.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clk.Now(), start)
	}

	clk.Advance(time.Minute)
	if !clk.Now().Equal(start.Add(time.Minute)) {
		t.Errorf("Now() after Advance = %v, want %v", clk.Now(), start.Add(time.Minute))
	}
}

func TestFakeAfter(t *testing.T) {
	clk := Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	ch := clk.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	clk.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	clk.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	clk := Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	select {
	case <-clk.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeSleepUnblocks(t *testing.T) {
	clk := Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	done := make(chan struct{})
	go func() {
		clk.Sleep(time.Second)
		close(done)
	}()

	clk.BlockUntil(1)
	clk.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not unblock after Advance")
	}
}
