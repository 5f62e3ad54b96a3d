package timeutil

import (
	"testing"
	"time"
)

func TestRealClockTicker(t *testing.T) {
	c := RealClock{}
	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now = %v, want %v", got, start)
	}

	c.Advance(50 * time.Millisecond)
	if got := c.Since(start); got != 50*time.Millisecond {
		t.Errorf("Since = %v", got)
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	ticker := c.NewTicker(50 * time.Millisecond)

	select {
	case <-ticker.C():
		t.Fatal("tick before any time passed")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("no tick after one period")
	}

	// Multiple periods coalesce into one pending tick.
	c.Advance(200 * time.Millisecond)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("coalesced ticks delivered twice")
	default:
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("tick after Stop")
	default:
	}
}
