package game

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Action is a logical player input.
type Action int

const (
	ActionUp Action = iota
	ActionDown
	ActionLeft
	ActionRight
	ActionJump
	ActionGrab
	numActions
)

// Actions lists every action in emission order.
var Actions = [...]Action{ActionUp, ActionDown, ActionLeft, ActionRight, ActionJump, ActionGrab}

// Wire returns the action tag used in INPUT messages.
func (a Action) Wire() string {
	switch a {
	case ActionUp:
		return "MOVE_UP"
	case ActionDown:
		return "MOVE_DOWN"
	case ActionLeft:
		return "LEFT"
	case ActionRight:
		return "RIGHT"
	case ActionJump:
		return "JUMP"
	case ActionGrab:
		return "GRAB"
	}
	return ""
}

func (a Action) String() string { return a.Wire() }

// EdgeTriggered reports whether the action fires once per press rather than
// once per tick while held.
func (a Action) EdgeTriggered() bool {
	return a == ActionJump || a == ActionGrab
}

func (a Action) valid() bool { return a >= 0 && a < numActions }

// KeyMap binds physical keys to actions. Several keys may share an action.
type KeyMap[K comparable] map[K]Action

// Pressed reports which actions have at least one bound key down.
func (m KeyMap[K]) Pressed(down func(K) bool) ActionSet {
	var set ActionSet
	for k, a := range m {
		if a.valid() && down(k) {
			set[a] = true
		}
	}
	return set
}

// ActionSet records a boolean per action.
type ActionSet [numActions]bool

// Changes returns the actions that went down and came up between prev and
// cur, in emission order.
func Changes(prev, cur ActionSet) (down, up []Action) {
	for _, a := range Actions {
		switch {
		case cur[a] && !prev[a]:
			down = append(down, a)
		case !cur[a] && prev[a]:
			up = append(up, a)
		}
	}
	return down, up
}

// Coalescer turns key up/down notifications into at most one message per
// action per polling tick.
type Coalescer struct {
	mu    sync.Mutex
	held  [numActions]bool
	armed [numActions]bool // Edge action pressed, not yet emitted
	sent  [numActions]bool // Edge action emitted during the current hold
}

func NewCoalescer() *Coalescer {
	return &Coalescer{}
}

func (c *Coalescer) KeyDown(a Action) {
	if !a.valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held[a] = true
	if a.EdgeTriggered() && !c.sent[a] {
		c.armed[a] = true
	}
}

func (c *Coalescer) KeyUp(a Action) {
	if !a.valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held[a] = false
	c.sent[a] = false
}

// Tick returns the actions to send for this polling period. Movement repeats
// while held; jump and grab fire once per press, including a press that was
// released again before the tick ran.
func (c *Coalescer) Tick() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Action
	for _, a := range Actions {
		if !a.EdgeTriggered() {
			if c.held[a] {
				out = append(out, a)
			}
			continue
		}
		if c.armed[a] {
			out = append(out, a)
			c.armed[a] = false
			c.sent[a] = c.held[a]
		}
	}
	return out
}

// Held reports whether a is currently pressed.
func (c *Coalescer) Held(a Action) bool {
	if !a.valid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[a]
}

// Reset releases every key, e.g. after losing the connection.
func (c *Coalescer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = [numActions]bool{}
	c.armed = [numActions]bool{}
	c.sent = [numActions]bool{}
}

// NewPlayerID builds a display identifier: a readable prefix plus a short
// random suffix.
func NewPlayerID(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "Player"
	}
	return prefix + "_" + uuid.New().String()[:4]
}
