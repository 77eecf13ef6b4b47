package game

import (
	"strings"
)

const (
	MaxPlayers = 4  // Players kept per snapshot; extras are dropped
	MaxHazards = 50 // Crocodiles kept per snapshot
	MaxPickups = 20 // Fruits kept per snapshot

	NoColumn = -1 // Column/rope index when the entity is not on one

	Columns     = 5 // Ropes on the reference playfield
	WorldWidth  = 400.0
	WorldHeight = 500.0

	DefaultSpeedMultiplier = 1.0
	ServerTickRateMs       = 50 // Reference server runs at 20Hz
)

// --- Player ---

// PlayerState is the behavioural state tag the server sends for a player.
type PlayerState int

const (
	PlayerStateUnknown PlayerState = iota
	PlayerStateGrounded
	PlayerStateOnRope
	PlayerStateJumping
	PlayerStateCelebrating
	PlayerStateEliminated
)

// The reference server still emits its original tags, so both spellings map
// to the same state.
var playerStateTags = map[string]PlayerState{
	"GROUNDED":    PlayerStateGrounded,
	"ON_ROPE":     PlayerStateOnRope,
	"JUMPING":     PlayerStateJumping,
	"CELEBRATING": PlayerStateCelebrating,
	"ELIMINATED":  PlayerStateEliminated,
	"SUELO":       PlayerStateGrounded,
	"EN_LIANA":    PlayerStateOnRope,
	"SALTANDO":    PlayerStateJumping,
	"CELEBRANDO":  PlayerStateCelebrating,
	"MUERTO":      PlayerStateEliminated,
}

// ParsePlayerState maps a wire tag to a PlayerState. ok is false for tags
// outside the closed set.
func ParsePlayerState(tag string) (PlayerState, bool) {
	s, ok := playerStateTags[strings.ToUpper(strings.TrimSpace(tag))]
	return s, ok
}

func (s PlayerState) String() string {
	switch s {
	case PlayerStateGrounded:
		return "GROUNDED"
	case PlayerStateOnRope:
		return "ON_ROPE"
	case PlayerStateJumping:
		return "JUMPING"
	case PlayerStateCelebrating:
		return "CELEBRATING"
	case PlayerStateEliminated:
		return "ELIMINATED"
	}
	return "UNKNOWN"
}

// Facing is the direction a player sprite looks at.
type Facing int

const (
	FacingRight Facing = iota
	FacingLeft
)

func ParseFacing(tag string) (Facing, bool) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "RIGHT":
		return FacingRight, true
	case "LEFT":
		return FacingLeft, true
	}
	return FacingRight, false
}

func (f Facing) String() string {
	if f == FacingLeft {
		return "LEFT"
	}
	return "RIGHT"
}

// PlayerSnapshot is one player as seen in a single server snapshot.
type PlayerSnapshot struct {
	ID          string
	X, Y        float64 // Server coordinate space
	VX, VY      float64
	Column      int // Rope/column index, NoColumn if none
	RopeID      int // Attached rope, NoColumn if not attached
	Lives       int
	Score       int
	State       PlayerState
	Facing      Facing
	Active      bool
	Celebrating bool
}

// NewPlayerSnapshot returns a player with every field at its default.
func NewPlayerSnapshot() PlayerSnapshot {
	return PlayerSnapshot{Column: NoColumn, RopeID: NoColumn}
}

// --- Hazards & Pickups ---

type HazardKind int

const (
	HazardUnknown HazardKind = iota
	HazardRed
	HazardBlue
)

func ParseHazardKind(tag string) (HazardKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "RED", "ROJO":
		return HazardRed, true
	case "BLUE", "AZUL":
		return HazardBlue, true
	}
	return HazardUnknown, false
}

func (k HazardKind) String() string {
	switch k {
	case HazardRed:
		return "RED"
	case HazardBlue:
		return "BLUE"
	}
	return "UNKNOWN"
}

// HazardSnapshot is a crocodile.
type HazardSnapshot struct {
	ID     string
	Kind   HazardKind
	Column int
	Y      float64
}

func NewHazardSnapshot() HazardSnapshot {
	return HazardSnapshot{Column: NoColumn}
}

// PickupSnapshot is a fruit. The client only mirrors presence; collection is
// decided by the server.
type PickupSnapshot struct {
	ID     string
	Column int
	Y      float64
	Points int
}

func NewPickupSnapshot() PickupSnapshot {
	return PickupSnapshot{Column: NoColumn}
}

// --- Snapshot ---

// Snapshot is one complete, self-consistent description of server state.
// It is replaced wholesale, never patched.
type Snapshot struct {
	Tick               int64 // Opaque ordering hint, may wrap
	Level              int
	Paused             bool
	SpeedMultiplier    float64
	CelebrationPending bool
	CelebrationTimer   float64 // Seconds
	Players            []PlayerSnapshot
	Hazards            []HazardSnapshot
	Pickups            []PickupSnapshot
}

// NewSnapshot returns an empty snapshot with protocol defaults applied.
func NewSnapshot() Snapshot {
	return Snapshot{SpeedMultiplier: DefaultSpeedMultiplier}
}

// Clone returns a deep copy so callers can hold it outside the store lock.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.Players != nil {
		c.Players = append([]PlayerSnapshot(nil), s.Players...)
	}
	if s.Hazards != nil {
		c.Hazards = append([]HazardSnapshot(nil), s.Hazards...)
	}
	if s.Pickups != nil {
		c.Pickups = append([]PickupSnapshot(nil), s.Pickups...)
	}
	return c
}

// Player looks up a player by identifier.
func (s Snapshot) Player(id string) (PlayerSnapshot, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerSnapshot{}, false
}

// HasLivePlayer reports whether any player is active and not celebrating.
// Used to infer that the server has started a new round.
func (s Snapshot) HasLivePlayer() bool {
	for _, p := range s.Players {
		if p.Active && !p.Celebrating {
			return true
		}
	}
	return false
}
