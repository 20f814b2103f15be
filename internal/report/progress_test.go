package report

import (
	"testing"
	"time"
)

// fakeClock advances manually so the throttle can be tested without
// sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEmitter(lo, hi int) (*emitter, *fakeClock, *[]Progress) {
	var got []Progress
	e := newEmitter("r", func(p Progress) { got = append(got, p) }, lo, hi)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	e.now = clk.now
	return e, clk, &got
}

func TestEmitterThrottle(t *testing.T) {
	e, clk, got := newTestEmitter(30, 80)

	e.scanned("scan", 1, 100)
	for i := 2; i <= 50; i++ {
		clk.advance(10 * time.Millisecond)
		e.scanned("scan", i, 100)
	}

	// 490ms elapsed after the first emit: at most two more updates
	// can clear the 200ms bound.
	if len(*got) > 3 {
		t.Fatalf("%d updates for 490ms of scanning", len(*got))
	}
	last := -1
	for _, p := range *got {
		if p.Percent < last {
			t.Fatalf("non-monotonic updates: %+v", *got)
		}
		last = p.Percent
	}
}

func TestEmitterSubRange(t *testing.T) {
	e, clk, got := newTestEmitter(30, 80)

	e.scanned("scan", 0, 10)
	clk.advance(time.Second)
	e.scanned("scan", 5, 10)
	clk.advance(time.Second)
	e.scanned("scan", 10, 10)

	want := []int{30, 55, 80}
	if len(*got) != len(want) {
		t.Fatalf("got %d updates, want %d", len(*got), len(want))
	}
	for i, p := range *got {
		if p.Percent != want[i] {
			t.Errorf("update %d = %d, want %d", i, p.Percent, want[i])
		}
	}
}

func TestEmitterPhaseBypassesThrottle(t *testing.T) {
	e, _, got := newTestEmitter(30, 80)

	e.phase("start", 5)
	e.phase("extras", 30)
	e.phase("assemble", 80)

	if len(*got) != 3 {
		t.Fatalf("phase updates throttled: %+v", *got)
	}
}

func TestEmitterNeverRegresses(t *testing.T) {
	e, clk, got := newTestEmitter(30, 80)

	e.phase("late phase", 50)
	clk.advance(time.Second)
	// A scan fraction mapping below 50 must not move backwards.
	e.scanned("scan", 1, 10)
	clk.advance(time.Second)
	e.scanned("scan", 9, 10)

	last := -1
	for _, p := range *got {
		if p.Percent < last {
			t.Fatalf("regressed: %+v", *got)
		}
		last = p.Percent
	}
}

func TestEmitterUnknownTotalUsesSessions(t *testing.T) {
	e, clk, got := newTestEmitter(0, 0)
	e.lo, e.hi = 30, 80

	e.scanned("scan", 0, 0)
	clk.advance(time.Second)
	e.scanned("scan", 3, 0)

	for _, p := range *got {
		if p.Percent != 30 {
			t.Errorf("zero-total scan should pin to lo: %+v", p)
		}
	}
}
