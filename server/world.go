package server

import (
	"errors"
	"math/rand"

	"github.com/google/uuid"

	"github.com/irishsmurf/kongjr-client/game"
)

// Playfield geometry, in server coordinates.
const (
	NumColumns   = game.Columns
	ColumnWidth  = game.WorldWidth / game.Columns
	WorldHeight  = game.WorldHeight
	StartY       = 450.0
	GoalY        = 40.0
	StartLives   = 3
	jumpTicks    = 6
	moveStep     = 6.0
	contactRange = 14.0

	hazardEvery    = 40 // Ticks between crocodile spawns
	pickupEvery    = 60
	hazardSpeed    = 3.0
	celebrationLen = 3.0 // Seconds
)

var (
	errGameFull      = errors.New("game full")
	errUnknownPlayer = errors.New("unknown player")
	errUnknownAction = errors.New("unknown action")
)

type player struct {
	id          string
	column      int
	y           float64
	vy          float64
	lives       int
	score       int
	state       game.PlayerState
	facing      game.Facing
	active      bool
	celebrating bool
	jumpLeft    int
	onRope      bool
}

type hazard struct {
	id     string
	kind   game.HazardKind
	column int
	y      float64
}

type pickup struct {
	id     string
	column int
	y      float64
	points int
}

// serverEvent is an event produced by a world step, broadcast to everyone.
type serverEvent struct {
	Name        string
	PlayerID    string
	CrocodileID string
	Points      int
}

// World is a small stand-in for the real game rules: players climb columns,
// crocodiles slide down them and fruit waits to be picked. It is not safe for
// concurrent use; the hub goroutine owns it.
type World struct {
	rng   *rand.Rand
	tick  int64
	level int
	speed float64

	celebrationPending bool
	celebrationTimer   float64

	players []*player // Join order, capped at game.MaxPlayers
	hazards []*hazard
	pickups []*pickup
}

func NewWorld(seed int64) *World {
	return &World{rng: rand.New(rand.NewSource(seed)), level: 1, speed: game.DefaultSpeedMultiplier}
}

func (w *World) find(id string) *player {
	for _, p := range w.players {
		if p.id == id {
			return p
		}
	}
	return nil
}

// Join adds a player, or does nothing if id is already playing.
func (w *World) Join(id string) error {
	if w.find(id) != nil {
		return nil
	}
	if len(w.players) >= game.MaxPlayers {
		return errGameFull
	}
	p := &player{id: id}
	w.spawn(p, len(w.players)%NumColumns)
	w.players = append(w.players, p)
	return nil
}

func (w *World) spawn(p *player, column int) {
	p.column = column
	p.y = StartY
	p.vy = 0
	p.lives = StartLives
	p.state = game.PlayerStateGrounded
	p.active = true
	p.celebrating = false
	p.jumpLeft = 0
	p.onRope = false
}

func (w *World) Leave(id string) {
	for i, p := range w.players {
		if p.id == id {
			w.players = append(w.players[:i], w.players[i+1:]...)
			return
		}
	}
}

// Apply handles one INPUT action for player id.
func (w *World) Apply(id, action string, velocity float64) error {
	p := w.find(id)
	if p == nil {
		return errUnknownPlayer
	}
	if !p.active || p.celebrating {
		return nil
	}
	step := moveStep * velocity * w.speed
	switch action {
	case "MOVE_UP":
		if p.onRope {
			p.y -= step
			p.vy = -step
		}
	case "MOVE_DOWN":
		if p.onRope {
			p.y = min(p.y+step, StartY)
			p.vy = step
		}
	case "LEFT":
		p.facing = game.FacingLeft
		if p.column > 0 {
			p.column--
			p.onRope = false
		}
	case "RIGHT":
		p.facing = game.FacingRight
		if p.column < NumColumns-1 {
			p.column++
			p.onRope = false
		}
	case "JUMP":
		if p.jumpLeft == 0 {
			p.jumpLeft = jumpTicks
			p.onRope = false
		}
	case "GRAB":
		p.onRope = true
	default:
		return errUnknownAction
	}
	return nil
}

// Step advances the world by one tick of dt seconds.
func (w *World) Step(dt float64) []serverEvent {
	w.tick++
	var events []serverEvent

	if w.celebrationPending {
		w.celebrationTimer -= dt
		if w.celebrationTimer <= 0 {
			w.celebrationPending = false
			w.celebrationTimer = 0
			w.hazards = nil
			for i, p := range w.players {
				lives, score := p.lives, p.score
				w.spawn(p, i%NumColumns)
				p.lives, p.score = max(lives, 1), score
			}
		}
		return events
	}

	if w.tick%hazardEvery == 0 {
		kind := game.HazardRed
		if w.rng.Intn(2) == 1 {
			kind = game.HazardBlue
		}
		w.hazards = append(w.hazards, &hazard{id: uuid.New().String()[:8], kind: kind, column: w.rng.Intn(NumColumns), y: GoalY})
	}
	if w.tick%pickupEvery == 0 && len(w.pickups) < game.MaxPickups {
		w.pickups = append(w.pickups, &pickup{
			id:     uuid.New().String()[:8],
			column: w.rng.Intn(NumColumns),
			y:      GoalY + w.rng.Float64()*(StartY-GoalY),
			points: 100 * (1 + w.rng.Intn(3)),
		})
	}

	kept := w.hazards[:0]
	for _, h := range w.hazards {
		h.y += hazardSpeed * w.speed
		if h.y <= WorldHeight {
			kept = append(kept, h)
		}
	}
	w.hazards = kept

	for _, p := range w.players {
		if !p.active {
			continue
		}
		events = append(events, w.stepPlayer(p)...)
	}
	return events
}

func (w *World) stepPlayer(p *player) []serverEvent {
	var events []serverEvent
	switch {
	case p.jumpLeft > 0:
		p.jumpLeft--
		p.state = game.PlayerStateJumping
	case p.onRope:
		p.state = game.PlayerStateOnRope
	default:
		p.state = game.PlayerStateGrounded
		p.vy = 0
	}

	if p.jumpLeft == 0 {
		for _, h := range w.hazards {
			if h.column == p.column && abs(h.y-p.y) < contactRange {
				p.lives--
				events = append(events, serverEvent{Name: game.EventPlayerHit, PlayerID: p.id, CrocodileID: h.id})
				h.y = WorldHeight + 1
				if p.lives <= 0 {
					p.lives = 0
					p.active = false
					p.state = game.PlayerStateEliminated
					events = append(events, serverEvent{Name: game.EventPlayerEliminated, PlayerID: p.id})
					return events
				}
				break
			}
		}
	}

	for i, f := range w.pickups {
		if f.column == p.column && abs(f.y-p.y) < contactRange {
			p.score += f.points
			events = append(events, serverEvent{Name: game.EventFruitTaken, PlayerID: p.id, Points: f.points})
			w.pickups = append(w.pickups[:i], w.pickups[i+1:]...)
			break
		}
	}

	if p.y <= GoalY {
		p.celebrating = true
		p.state = game.PlayerStateCelebrating
		p.score += 1000
		w.level++
		w.speed = game.DefaultSpeedMultiplier + 0.1*float64(w.level-1)
		w.celebrationPending = true
		w.celebrationTimer = celebrationLen
		events = append(events,
			serverEvent{Name: game.EventPlayerWin, PlayerID: p.id},
			serverEvent{Name: game.EventLevelUp, PlayerID: p.id})
	}
	return events
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// --- Wire shapes ---

type wirePlayer struct {
	ID          string  `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	VX          float64 `json:"vx"`
	VY          float64 `json:"vy"`
	Liana       int     `json:"liana"`
	LianaID     *int    `json:"lianaId"`
	Lives       int     `json:"lives"`
	Score       int     `json:"score"`
	Active      bool    `json:"active"`
	Celebrating bool    `json:"celebrating"`
	State       string  `json:"state"`
	Facing      string  `json:"facing"`
}

type wireHazard struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	Liana int     `json:"liana"`
	Y     float64 `json:"y"`
}

type wirePickup struct {
	ID     string  `json:"id"`
	Liana  int     `json:"liana"`
	Y      float64 `json:"y"`
	Points int     `json:"points"`
}

type wireState struct {
	Tick               int64        `json:"tick"`
	Level              int          `json:"level"`
	Paused             bool         `json:"paused"`
	SpeedMultiplier    float64      `json:"speedMultiplier"`
	CelebrationPending bool         `json:"celebrationPending"`
	CelebrationTimer   float64      `json:"celebrationTimer"`
	Players            []wirePlayer `json:"players"`
	Crocodiles         []wireHazard `json:"crocodiles"`
	Fruits             []wirePickup `json:"fruits"`
}

// State renders the world in the STATE data shape.
func (w *World) State() wireState {
	s := wireState{
		Tick:               w.tick,
		Level:              w.level,
		Paused:             len(w.players) == 0,
		SpeedMultiplier:    w.speed,
		CelebrationPending: w.celebrationPending,
		CelebrationTimer:   w.celebrationTimer,
		Players:            make([]wirePlayer, 0, len(w.players)),
		Crocodiles:         make([]wireHazard, 0, len(w.hazards)),
		Fruits:             make([]wirePickup, 0, len(w.pickups)),
	}
	for _, p := range w.players {
		wp := wirePlayer{
			ID:          p.id,
			X:           float64(p.column)*ColumnWidth + ColumnWidth/2,
			Y:           p.y,
			VY:          p.vy,
			Liana:       p.column,
			Lives:       p.lives,
			Score:       p.score,
			Active:      p.active,
			Celebrating: p.celebrating,
			State:       p.state.String(),
			Facing:      p.facing.String(),
		}
		if p.onRope {
			rope := p.column
			wp.LianaID = &rope
		}
		s.Players = append(s.Players, wp)
	}
	for _, h := range w.hazards {
		s.Crocodiles = append(s.Crocodiles, wireHazard{ID: h.id, Kind: h.kind.String(), Liana: h.column, Y: h.y})
	}
	for _, f := range w.pickups {
		s.Fruits = append(s.Fruits, wirePickup{ID: f.id, Liana: f.column, Y: f.y, Points: f.points})
	}
	return s
}
