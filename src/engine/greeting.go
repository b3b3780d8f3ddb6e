package engine

import "sync"

// greetingGate makes the opening line exactly-once under the race between
// the carrier stream starting and the provider session becoming ready.
// Whichever side finishes last fires the greeting; neither side can fire it
// twice.
type greetingGate struct {
	mu     sync.Mutex
	ready  bool
	wanted bool
	// fired means the gate is spent, by dispatch or by invalidation;
	// dispatched means the greeting actually went out.
	fired      bool
	dispatched bool
	dispatch   func()
}

func newGreetingGate(dispatch func()) *greetingGate {
	return &greetingGate{dispatch: dispatch}
}

// Request asks for the greeting. Fires immediately if the provider is ready,
// otherwise defers until Ready.
func (g *greetingGate) Request() {
	g.mu.Lock()
	if g.fired {
		g.mu.Unlock()
		return
	}
	if !g.ready {
		g.wanted = true
		g.mu.Unlock()
		return
	}
	g.fired = true
	g.dispatched = true
	g.mu.Unlock()
	g.dispatch()
}

// Ready marks the provider session ready and fires a deferred greeting.
func (g *greetingGate) Ready() {
	g.mu.Lock()
	g.ready = true
	if !g.wanted || g.fired {
		g.mu.Unlock()
		return
	}
	g.fired = true
	g.dispatched = true
	g.wanted = false
	g.mu.Unlock()
	g.dispatch()
}

// Invalidate permanently disarms the gate: the user already spoke or a
// response is already playing, so a greeting now would duplicate or talk
// over them.
func (g *greetingGate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fired = true
	g.wanted = false
}

// Fired reports whether the greeting was actually dispatched. False when the
// gate was invalidated before it could fire.
func (g *greetingGate) Fired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dispatched
}
