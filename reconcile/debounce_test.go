package reconcile

import (
	"testing"
	"time"
)

func TestDebouncer_WaitRestartsWithinWindow(t *testing.T) {
	d := newDebouncer(300*time.Millisecond, 2*time.Second)
	defer d.stop()

	t0 := time.Unix(0, 0)
	d.add(t0)
	if got := d.wait(t0.Add(100 * time.Millisecond)); got != 300*time.Millisecond {
		t.Errorf("wait mid-burst: got %v, want 300ms", got)
	}
}

func TestDebouncer_WaitCappedByMaxDelay(t *testing.T) {
	d := newDebouncer(300*time.Millisecond, time.Second)
	defer d.stop()

	t0 := time.Unix(0, 0)
	d.add(t0)
	if got := d.wait(t0.Add(900 * time.Millisecond)); got != 100*time.Millisecond {
		t.Errorf("wait near deadline: got %v, want 100ms", got)
	}
	if got := d.wait(t0.Add(3 * time.Second)); got != 0 {
		t.Errorf("wait past deadline: got %v, want 0", got)
	}
}

func TestDebouncer_FireResetsBurst(t *testing.T) {
	d := newDebouncer(10*time.Millisecond, 10*time.Millisecond)
	defer d.stop()

	if d.fire() {
		t.Error("fire on idle debouncer: got true")
	}
	if d.timerC() != nil {
		t.Error("timerC on idle debouncer: want nil")
	}

	d.add(time.Now())
	<-d.timerC()
	if !d.fire() {
		t.Error("fire after burst: got false")
	}
	if d.fire() {
		t.Error("second fire: got true")
	}
}

func TestDebouncer_MaxDelayNotBelowWindow(t *testing.T) {
	d := newDebouncer(time.Second, 10*time.Millisecond)
	if d.maxDelay != time.Second {
		t.Errorf("maxDelay: got %v, want 1s", d.maxDelay)
	}
}
