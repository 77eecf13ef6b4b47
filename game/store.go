package game

import (
	"sync"
	"time"
)

// Effects holds the remaining time of transient visual effects.
type Effects struct {
	HitFlash  time.Duration
	FruitGlow time.Duration
}

// Store holds the latest snapshot and the screen state. The receive loop is
// its only writer and the presentation loop its only reader; the lock is held
// just long enough to copy or swap.
type Store struct {
	mu             sync.Mutex
	snapshot       Snapshot
	screen         ScreenState
	version        uint64
	hitFlashUntil  time.Time
	fruitGlowUntil time.Time
	cause          error
}

func NewStore() *Store {
	return &Store{snapshot: NewSnapshot(), screen: ScreenTitle}
}

// Publish swaps in a freshly decoded snapshot and evaluates the recovery
// heuristic against that same snapshot inside one critical section.
// The store takes ownership of s.
func (st *Store) Publish(s Snapshot) ScreenState {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snapshot = s
	st.version++
	st.screen = recoverScreen(st.screen, s)
	return st.screen
}

// Read returns a copy of the snapshot together with the screen state it was
// published with.
func (st *Store) Read() (Snapshot, ScreenState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot.Clone(), st.screen
}

func (st *Store) Screen() ScreenState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.screen
}

// Version counts publishes; renderers can skip work when it has not moved.
func (st *Store) Version() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.version
}

// ApplyEvent runs the event reactor against the current screen state.
func (st *Store) ApplyEvent(ev Event, now time.Time) Reaction {
	st.mu.Lock()
	defer st.mu.Unlock()
	r := React(st.screen, ev)
	st.screen = r.Next
	if r.HitFlash > 0 {
		st.hitFlashUntil = now.Add(r.HitFlash)
	}
	if r.FruitGlow > 0 {
		st.fruitGlowUntil = now.Add(r.FruitGlow)
	}
	return r
}

// SetScreen moves to s unless the store is already disconnected.
func (st *Store) SetScreen(s ScreenState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.screen == ScreenDisconnected {
		return
	}
	st.screen = s
}

// ForceDisconnected is used by the connection manager on a fatal error.
func (st *Store) ForceDisconnected(cause error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.screen = ScreenDisconnected
	if st.cause == nil {
		st.cause = cause
	}
}

// Cause returns the error recorded by ForceDisconnected, if any.
func (st *Store) Cause() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cause
}

func (st *Store) Effects(now time.Time) Effects {
	st.mu.Lock()
	defer st.mu.Unlock()
	var e Effects
	if d := st.hitFlashUntil.Sub(now); d > 0 {
		e.HitFlash = d
	}
	if d := st.fruitGlowUntil.Sub(now); d > 0 {
		e.FruitGlow = d
	}
	return e
}
