package client

import "sync"

// TriggerGuard is the client-side single-fire latch for the judging request.
// It is scoped to the current debate instance: armed when a timer start is
// observed (or a snapshot of a live debate), disarmed once a verdict exists.
// Two independent events can race to request judging (the local display
// reaching zero and the authoritative end event) and the guard guarantees
// at most one emit per instance regardless of which fires first or whether
// both fire. The server still deduplicates analyze requests; this latch only
// avoids redundant network calls.
type TriggerGuard struct {
	mu    sync.Mutex
	armed bool
}

// NewTriggerGuard creates a disarmed guard. Joining mid- or post-debate must
// not re-arm a judging call, so arming is always an explicit observation of
// a live debate.
func NewTriggerGuard() *TriggerGuard {
	return &TriggerGuard{}
}

// Arm makes the next TryFire succeed. Called on timer-started and on
// snapshots of a not-yet-ended debate.
func (g *TriggerGuard) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

// Disarm clears the latch without firing. Called when a verdict is observed
// or a snapshot shows an already-ended debate.
func (g *TriggerGuard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = false
}

// TryFire consumes the latch. Only the first call after an Arm returns true.
func (g *TriggerGuard) TryFire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return false
	}
	g.armed = false
	return true
}
