package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	stlog "log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/irishsmurf/kongjr-client/config"
	"github.com/irishsmurf/kongjr-client/game"
	"github.com/irishsmurf/kongjr-client/protocol"
	"github.com/irishsmurf/kongjr-client/session"
)

var quietLogger = stlog.New(stlog.NewTextHandler(io.Discard, nil))

func eventNames(evs []serverEvent) []string {
	var names []string
	for _, e := range evs {
		names = append(names, e.Name)
	}
	return names
}

func TestWorldJoinCap(t *testing.T) {
	w := NewWorld(1)
	for i := 0; i < game.MaxPlayers; i++ {
		if err := w.Join(string(rune('A' + i))); err != nil {
			t.Fatalf("Join %d: %v", i, err)
		}
	}
	if err := w.Join("A"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if err := w.Join("E"); !errors.Is(err, errGameFull) {
		t.Fatalf("fifth join = %v, want errGameFull", err)
	}
	w.Leave("B")
	if err := w.Join("E"); err != nil {
		t.Fatalf("join after leave: %v", err)
	}
}

func TestWorldMovement(t *testing.T) {
	w := NewWorld(1)
	w.Join("P")
	p := w.find("P")

	w.Apply("P", "LEFT", 1)
	if p.column != 0 || p.facing != game.FacingLeft {
		t.Fatalf("column = %d facing = %v", p.column, p.facing)
	}
	w.Apply("P", "RIGHT", 1)
	if p.column != 1 || p.facing != game.FacingRight {
		t.Fatalf("column = %d facing = %v", p.column, p.facing)
	}
	w.Apply("P", "MOVE_UP", 1)
	if p.y != StartY {
		t.Fatalf("climbed without a rope: y = %v", p.y)
	}
	w.Apply("P", "GRAB", 1)
	w.Apply("P", "MOVE_UP", 2)
	if p.y != StartY-2*moveStep {
		t.Fatalf("y = %v, want %v", p.y, StartY-2*moveStep)
	}
	if err := w.Apply("P", "DANCE", 1); !errors.Is(err, errUnknownAction) {
		t.Fatalf("unknown action = %v", err)
	}
	if err := w.Apply("nobody", "LEFT", 1); !errors.Is(err, errUnknownPlayer) {
		t.Fatalf("unknown player = %v", err)
	}
}

func TestWorldHitsAndElimination(t *testing.T) {
	w := NewWorld(1)
	w.Join("P")
	p := w.find("P")

	w.hazards = append(w.hazards, &hazard{id: "c1", kind: game.HazardRed, column: p.column, y: StartY - hazardSpeed})
	evs := w.Step(0.05)
	if names := eventNames(evs); len(names) != 1 || names[0] != game.EventPlayerHit {
		t.Fatalf("events = %v", names)
	}
	if evs[0].CrocodileID != "c1" || p.lives != StartLives-1 {
		t.Fatalf("event = %+v lives = %d", evs[0], p.lives)
	}

	p.lives = 1
	w.hazards = append(w.hazards, &hazard{id: "c2", column: p.column, y: StartY})
	evs = w.Step(0.05)
	if names := eventNames(evs); len(names) != 2 || names[1] != game.EventPlayerEliminated {
		t.Fatalf("events = %v", names)
	}
	if p.active || p.state != game.PlayerStateEliminated {
		t.Fatalf("player still active: %+v", p)
	}
}

func TestWorldJumpAvoidsHazard(t *testing.T) {
	w := NewWorld(1)
	w.Join("P")
	p := w.find("P")
	w.Apply("P", "JUMP", 1)
	w.hazards = append(w.hazards, &hazard{id: "c1", column: p.column, y: StartY})
	if evs := w.Step(0.05); len(evs) != 0 {
		t.Fatalf("jumping player was hit: %v", eventNames(evs))
	}
	if p.state != game.PlayerStateJumping {
		t.Fatalf("state = %v", p.state)
	}
}

func TestWorldFruit(t *testing.T) {
	w := NewWorld(1)
	w.Join("P")
	p := w.find("P")
	w.pickups = append(w.pickups, &pickup{id: "f1", column: p.column, y: StartY, points: 200})
	evs := w.Step(0.05)
	if len(evs) != 1 || evs[0].Name != game.EventFruitTaken || evs[0].Points != 200 {
		t.Fatalf("events = %+v", evs)
	}
	if p.score != 200 || len(w.pickups) != 0 {
		t.Fatalf("score = %d pickups = %d", p.score, len(w.pickups))
	}
}

func TestWorldWinAndReset(t *testing.T) {
	w := NewWorld(1)
	w.Join("P")
	p := w.find("P")
	w.Apply("P", "GRAB", 1)
	for p.y > GoalY {
		w.Apply("P", "MOVE_UP", 1)
	}
	evs := w.Step(0.05)
	if names := eventNames(evs); len(names) != 2 || names[0] != game.EventPlayerWin || names[1] != game.EventLevelUp {
		t.Fatalf("events = %v", names)
	}
	if !p.celebrating || w.level != 2 || !w.celebrationPending {
		t.Fatalf("after win: celebrating=%v level=%d pending=%v", p.celebrating, w.level, w.celebrationPending)
	}

	for i := 0; w.celebrationPending; i++ {
		if i > 100 {
			t.Fatal("celebration never ended")
		}
		w.Step(0.05)
	}
	if p.celebrating || !p.active || p.y != StartY {
		t.Fatalf("player not reset: %+v", p)
	}
	if p.score < 1000 {
		t.Fatalf("score = %d, want win bonus kept", p.score)
	}
}

func TestWorldStateDecodes(t *testing.T) {
	w := NewWorld(1)
	w.Join("P")
	w.Apply("P", "GRAB", 1)
	w.hazards = append(w.hazards, &hazard{id: "c1", kind: game.HazardBlue, column: 3, y: 100})
	w.pickups = append(w.pickups, &pickup{id: "f1", column: 2, y: 200, points: 300})
	w.Step(0.05)

	data, err := json.Marshal(stateMessage{Type: protocol.TypeState, Data: w.State()})
	if err != nil {
		t.Fatal(err)
	}
	m := protocol.Decode(data)
	if m.Kind != protocol.KindState || len(m.Diagnostics) != 0 {
		t.Fatalf("kind = %v diags = %v", m.Kind, m.Diagnostics)
	}
	s := m.State
	if s.Tick != 1 || s.Level != 1 || len(s.Players) != 1 || len(s.Hazards) != 1 || len(s.Pickups) != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	p := s.Players[0]
	if p.ID != "P" || p.Column != 0 || p.RopeID != 0 || p.State != game.PlayerStateOnRope || !p.Active {
		t.Fatalf("player = %+v", p)
	}
	if s.Hazards[0].Kind != game.HazardBlue || s.Pickups[0].Points != 300 {
		t.Fatalf("hazard = %+v pickup = %+v", s.Hazards[0], s.Pickups[0])
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(quietLogger, 7)
	hub.tickRate = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub, cancel
}

func startTCP(t *testing.T, hub *Hub) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go ServeTCP(ctx, hub, ln)
	t.Cleanup(cancel)
	return ln.Addr().String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ownPlayer(s *session.Session) (game.PlayerSnapshot, bool) {
	snap, _ := s.ReadLatestState()
	return snap.Player(s.PlayerID())
}

func TestSessionAgainstTCPServer(t *testing.T) {
	hub, _ := startHub(t)
	addr := startTCP(t, hub)

	cfg := config.Default()
	cfg.ServerAddr = addr
	s := session.New(cfg, quietLogger)
	if !s.RequestConnect(context.Background()) {
		t.Fatalf("connect failed: %v", s.Err())
	}
	defer s.RequestDisconnect()

	waitFor(t, "own player in snapshot", func() bool {
		_, ok := ownPlayer(s)
		return ok
	})
	p, _ := ownPlayer(s)
	if p.Column != 0 || p.Lives != StartLives || !p.Active {
		t.Fatalf("player = %+v", p)
	}
	if _, screen := s.ReadLatestState(); screen != game.ScreenPlaying {
		t.Fatalf("screen = %v", screen)
	}

	s.NotifyKeyDown(game.ActionRight)
	if sent := s.PollInput(); len(sent) != 1 {
		t.Fatalf("sent %v", sent)
	}
	s.NotifyKeyUp(game.ActionRight)
	waitFor(t, "move right", func() bool {
		p, _ := ownPlayer(s)
		return p.Column == 1
	})
}

func TestSessionAgainstWebSocketServer(t *testing.T) {
	hub, _ := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.ServerAddr = "ws://" + strings.TrimPrefix(srv.URL, "http://")
	cfg.ClientType = protocol.ClientSpectator
	s := session.New(cfg, quietLogger)
	if !s.RequestConnect(context.Background()) {
		t.Fatalf("connect failed: %v", s.Err())
	}
	defer s.RequestDisconnect()

	waitFor(t, "snapshots", func() bool {
		snap, _ := s.ReadLatestState()
		return snap.Tick > 2
	})
	if _, ok := ownPlayer(s); ok {
		t.Fatal("spectator appeared as a player")
	}
}

func TestInputBeforeConnectIsAnError(t *testing.T) {
	hub, _ := startHub(t)
	addr := startTCP(t, hub)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"type":"INPUT","action":"LEFT","velocity":1.0}` + "\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("no ERROR received: %v", err)
		}
		m := protocol.DecodeString(line)
		if m.Kind == protocol.KindError {
			if !strings.Contains(m.ErrorText, "CONNECT") {
				t.Fatalf("error text = %q", m.ErrorText)
			}
			return
		}
	}
}
