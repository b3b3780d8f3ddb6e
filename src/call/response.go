package call

import (
	"errors"
	"sync"
	"time"
)

// ResponseUnit is one AI-generated turn: a provider response id plus its
// local completion state. Late audio tagged with a stale id is dropped by id
// comparison, never reordered into the current unit.
type ResponseUnit struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	cancelled bool
	completed bool
}

// NewResponseUnit wraps a provider-assigned response id.
func NewResponseUnit(id string) *ResponseUnit {
	return &ResponseUnit{
		ID:        id,
		CreatedAt: time.Now(),
	}
}

// Cancel marks the unit cancelled. Idempotent; a completed unit stays
// completed.
func (r *ResponseUnit) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled || r.completed {
		return
	}
	r.cancelled = true
}

// Complete marks the unit finished normally. Idempotent.
func (r *ResponseUnit) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled || r.completed {
		return
	}
	r.completed = true
}

// Finished reports whether the unit is no longer live.
func (r *ResponseUnit) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled || r.completed
}

// ActiveResponse holds the single live ResponseUnit for a call. At most one
// unit is active at a time; a new one may activate only after the previous
// finished. It is the one piece of mutable state shared across the provider
// reader, the barge-in engine, and the pacer, so every access locks.
type ActiveResponse struct {
	mu   sync.Mutex
	unit *ResponseUnit
}

// Activate installs a new unit. The previous unit must have finished;
// violations are rejected so the caller can log a defect.
func (a *ActiveResponse) Activate(unit *ResponseUnit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unit != nil && !a.unit.Finished() {
		return ErrResponseActive
	}
	a.unit = unit
	return nil
}

// ErrResponseActive is returned when a second unit tries to activate while
// one is still live.
var ErrResponseActive = errors.New("a response unit is already active")

// Current returns the live unit, or nil when none is active.
func (a *ActiveResponse) Current() *ResponseUnit {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unit == nil || a.unit.Finished() {
		return nil
	}
	return a.unit
}

// CurrentID returns the live unit's id, or "" when none is active.
func (a *ActiveResponse) CurrentID() string {
	if u := a.Current(); u != nil {
		return u.ID
	}
	return ""
}

// Accepts reports whether audio tagged with the given response id belongs to
// the live unit. Stale ids are dropped by the caller.
func (a *ActiveResponse) Accepts(responseID string) bool {
	id := a.CurrentID()
	return id != "" && id == responseID
}

// Finish marks the unit with the given id finished, if it is the live one.
// Used on response.done.
func (a *ActiveResponse) Finish(responseID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unit != nil && a.unit.ID == responseID {
		a.unit.Complete()
	}
}

// CancelCurrent cancels the live unit, if any, and returns its id.
func (a *ActiveResponse) CancelCurrent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unit == nil || a.unit.Finished() {
		return ""
	}
	a.unit.Cancel()
	return a.unit.ID
}
