package device

import (
	"sync"
	"time"
)

// DefaultAutosaveInterval is how often the store checks for unsaved changes.
const DefaultAutosaveInterval = 60 * time.Second

// autosave runs tick on a fixed interval with at most one pending timer.
//
// Each armed timer carries the generation it was armed in. A timer whose
// generation is no longer current does nothing when it fires and does not
// re-arm, so a flush racing a running tick cannot leave two timers behind.
type autosave struct {
	mu       sync.Mutex
	interval time.Duration
	tick     func()
	timer    *time.Timer
	gen      uint64
	started  bool
	stopped  bool
}

func newAutosave(interval time.Duration, tick func()) *autosave {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	return &autosave{interval: interval, tick: tick}
}

func (a *autosave) start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true
	a.armLocked()
}

// stop cancels the pending timer. A tick that is already running finishes
// but does not re-arm.
func (a *autosave) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// flush cancels the pending timer, runs fn inline and arms a fresh timer.
func (a *autosave) flush(fn func() error) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
	a.mu.Unlock()

	err := fn()

	a.mu.Lock()
	a.armLocked()
	a.mu.Unlock()
	return err
}

// pending reports whether a timer is armed.
func (a *autosave) pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

func (a *autosave) armLocked() {
	if !a.started || a.stopped {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.interval, func() { a.fire(gen) })
}

func (a *autosave) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.stopped {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()

	a.tick()

	a.mu.Lock()
	if gen == a.gen {
		a.armLocked()
	}
	a.mu.Unlock()
}
