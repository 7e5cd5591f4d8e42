package client

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimerSync turns server-pushed timer snapshots into a smoothly ticking
// display value. It is purely cosmetic between snapshots: every authoritative
// snapshot re-seeds it (correcting drift), and reaching zero locally only
// freezes the display and reports the zero-crossing. It never declares the
// debate over; that decision belongs to the server alone.
type TimerSync struct {
	clock  clockwork.Clock
	onZero func()

	mu        sync.Mutex
	display   int
	active    bool
	zeroFired bool
}

// NewTimerSync creates a timer synchronizer. onZero is invoked at most once
// per seeded countdown when the local display reaches zero; it may be nil.
func NewTimerSync(clock clockwork.Clock, onZero func()) *TimerSync {
	return &TimerSync{clock: clock, onZero: onZero}
}

// Run ticks the display once per second until ctx is cancelled.
func (t *TimerSync) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.tick()
		}
	}
}

// Seed re-seeds the display from an authoritative snapshot. A fresh running
// countdown re-arms the zero-crossing detection.
func (t *TimerSync) Seed(timeLeft int, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timeLeft < 0 {
		timeLeft = 0
	}
	t.display = timeLeft
	t.active = active && timeLeft > 0
	if t.active {
		t.zeroFired = false
	}
}

// Display returns the current display value. Never negative; frozen at zero
// once a countdown runs out.
func (t *TimerSync) Display() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.display
}

func (t *TimerSync) tick() {
	t.mu.Lock()
	if !t.active || t.display <= 0 {
		t.mu.Unlock()
		return
	}
	t.display--
	fire := false
	if t.display == 0 {
		t.active = false
		if !t.zeroFired {
			t.zeroFired = true
			fire = t.onZero != nil
		}
	}
	t.mu.Unlock()

	if fire {
		t.onZero()
	}
}
