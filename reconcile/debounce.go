package reconcile

import "time"

// debouncer coalesces a burst of mutation signals into a single trigger.
// The timer restarts on every signal but never runs past maxDelay from the
// first signal of the burst, so a page that never stops re-rendering still
// gets reconciled.
type debouncer struct {
	window   time.Duration
	maxDelay time.Duration

	pending bool
	first   time.Time
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newDebouncer(window, maxDelay time.Duration) *debouncer {
	if maxDelay < window {
		maxDelay = window
	}
	return &debouncer{window: window, maxDelay: maxDelay}
}

// add records a signal at now and (re)arms the timer.
func (d *debouncer) add(now time.Time) {
	if !d.pending {
		d.pending = true
		d.first = now
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.wait(now))
	d.timerCh = d.timer.C
}

// wait is the delay to arm after a signal at now.
func (d *debouncer) wait(now time.Time) time.Duration {
	w := d.window
	if deadline := d.first.Add(d.maxDelay); now.Add(w).After(deadline) {
		w = deadline.Sub(now)
	}
	if w < 0 {
		w = 0
	}
	return w
}

// timerC returns the channel that fires when the burst is over.
// Nil while idle, which blocks forever in a select.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// fire resets the burst. It reports whether a burst was pending.
func (d *debouncer) fire() bool {
	if !d.pending {
		return false
	}
	d.pending = false
	d.timer = nil
	d.timerCh = nil
	return true
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
	d.timer = nil
	d.timerCh = nil
}
