package game

import "time"

// ScreenState is the coarse client-local mode that drives which UI is shown.
type ScreenState int

const (
	ScreenTitle ScreenState = iota
	ScreenPlaying
	ScreenGameOver
	ScreenVictory
	ScreenDisconnected
)

func (s ScreenState) String() string {
	switch s {
	case ScreenTitle:
		return "title"
	case ScreenPlaying:
		return "playing"
	case ScreenGameOver:
		return "game-over"
	case ScreenVictory:
		return "victory"
	case ScreenDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event names pushed by the server.
const (
	EventPlayerHit        = "PLAYER_HIT"
	EventFruitTaken       = "FRUIT_TAKEN"
	EventPlayerEliminated = "PLAYER_ELIMINATED"
	EventPlayerWin        = "PLAYER_WIN"
	EventLevelUp          = "LEVEL_UP"
)

// Visual effect lengths exposed to the presentation layer.
const (
	HitFlashDuration  = 500 * time.Millisecond
	FruitGlowDuration = 330 * time.Millisecond
)

// Event is a discrete server notification. PlayerID and Points come from the
// optional payload and may be empty.
type Event struct {
	Name        string
	PlayerID    string
	CrocodileID string
	Points      int
}

// Reaction is the outcome of feeding one event to React.
type Reaction struct {
	Next      ScreenState
	HitFlash  time.Duration
	FruitGlow time.Duration
	Known     bool // False when the event name is not recognised
}

// React computes the next screen state and effect timers for an event.
// Disconnected is terminal: nothing the server says can leave it.
func React(cur ScreenState, ev Event) Reaction {
	r := Reaction{Next: cur, Known: true}
	switch ev.Name {
	case EventPlayerHit:
		r.HitFlash = HitFlashDuration
	case EventFruitTaken:
		r.FruitGlow = FruitGlowDuration
	case EventPlayerEliminated:
		if cur != ScreenDisconnected {
			r.Next = ScreenGameOver
		}
	case EventPlayerWin:
		if cur != ScreenDisconnected {
			r.Next = ScreenVictory
		}
	case EventLevelUp:
	default:
		r.Known = false
	}
	return r
}

// recoverScreen applies the round-reset heuristic: a live, non-celebrating
// player in a fresh snapshot while an end screen is up means the server has
// started over. This is inferred from data, there is no explicit signal, and
// a late snapshot arriving after PLAYER_WIN can flip the screen back early.
func recoverScreen(cur ScreenState, s Snapshot) ScreenState {
	if (cur == ScreenGameOver || cur == ScreenVictory) && s.HasLivePlayer() {
		return ScreenPlaying
	}
	return cur
}
