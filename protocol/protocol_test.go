package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	stlog "log/slog"
	"strings"
	"testing"

	"github.com/irishsmurf/kongjr-client/game"
)

var quietLogger = stlog.New(stlog.NewTextHandler(io.Discard, nil))

func TestDecodeStateExample(t *testing.T) {
	line := `{"type":"STATE","data":{"tick":42,"players":[{"id":"P1","x":10.0,"y":250.0,"liana":2,"lives":3,"score":100,"active":true}]}}`
	m := DecodeString(line)
	if m.Kind != KindState {
		t.Fatalf("kind = %v, want state (diags %v)", m.Kind, m.Diagnostics)
	}
	s := m.State
	if s.Tick != 42 {
		t.Errorf("tick = %d, want 42", s.Tick)
	}
	if s.Paused || s.CelebrationPending || s.SpeedMultiplier != 1.0 {
		t.Errorf("defaults wrong: paused=%v pending=%v speed=%v", s.Paused, s.CelebrationPending, s.SpeedMultiplier)
	}
	if len(s.Players) != 1 {
		t.Fatalf("players = %d, want 1", len(s.Players))
	}
	p := s.Players[0]
	want := game.PlayerSnapshot{
		ID: "P1", X: 10, Y: 250, Column: 2, RopeID: game.NoColumn,
		Lives: 3, Score: 100, Active: true,
	}
	if p != want {
		t.Errorf("player = %+v, want %+v", p, want)
	}
	if len(s.Hazards) != 0 || len(s.Pickups) != 0 {
		t.Errorf("unexpected entities: %+v", s)
	}
	if len(m.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v, want none", m.Diagnostics)
	}
}

func TestDecodeStateAllFields(t *testing.T) {
	line := `{"type":"STATE","data":{"tick":7,"level":2,"paused":true,"speedMultiplier":1.5,` +
		`"celebrationPending":true,"celebrationTimer":0.75,` +
		`"players":[{"id":"A","vx":1.5,"vy":-2,"lianaId":null,"state":"EN_LIANA","facing":"LEFT","celebrating":true,"lives":2.0}],` +
		`"crocodiles":[{"id":"c1","kind":"ROJO","liana":3,"y":120.5},{"id":"c2","kind":"BLUE","liana":1,"y":10}],` +
		`"fruits":[{"id":"f1","liana":4,"y":200,"points":50}]}}`
	m := DecodeString(line)
	s := m.State
	if m.Kind != KindState || s.Level != 2 || !s.Paused || s.SpeedMultiplier != 1.5 || !s.CelebrationPending || s.CelebrationTimer != 0.75 {
		t.Fatalf("scalars wrong: %+v (diags %v)", s, m.Diagnostics)
	}
	p := s.Players[0]
	if p.State != game.PlayerStateOnRope || p.Facing != game.FacingLeft || !p.Celebrating || p.RopeID != game.NoColumn || p.Lives != 2 || p.VY != -2 {
		t.Errorf("player = %+v", p)
	}
	if len(s.Hazards) != 2 || s.Hazards[0].Kind != game.HazardRed || s.Hazards[1].Kind != game.HazardBlue || s.Hazards[0].Y != 120.5 {
		t.Errorf("hazards = %+v", s.Hazards)
	}
	if len(s.Pickups) != 1 || s.Pickups[0].Points != 50 || s.Pickups[0].Column != 4 {
		t.Errorf("pickups = %+v", s.Pickups)
	}
}

func TestDecodeLegacyPayload(t *testing.T) {
	m := DecodeString(`{"tick":5,"players":[{"id":"P1"}]}`)
	if m.Kind != KindState || !m.Legacy || m.State.Tick != 5 || len(m.State.Players) != 1 {
		t.Fatalf("legacy decode = %+v", m)
	}
	m = DecodeString(`{"type":"STATE","tick":9}`)
	if m.Kind != KindState || m.Legacy || m.State.Tick != 9 {
		t.Fatalf("STATE without data wrapper = %+v", m)
	}
}

func TestDecodeMalformedFieldsDefault(t *testing.T) {
	line := `{"type":"STATE","data":{"tick":"soon","paused":"yes","speedMultiplier":null,` +
		`"players":[{"id":7,"x":"far","lives":3,"state":"FLYING"}],"crocodiles":{"id":"x"},"fruits":[1,{"id":"f"}]}}`
	m := DecodeString(line)
	if m.Kind != KindState {
		t.Fatalf("kind = %v", m.Kind)
	}
	s := m.State
	if s.Tick != 0 || s.Paused || s.SpeedMultiplier != 1.0 {
		t.Errorf("scalars = %+v", s)
	}
	if len(s.Players) != 1 || s.Players[0].ID != "" || s.Players[0].X != 0 || s.Players[0].Lives != 3 || s.Players[0].State != game.PlayerStateUnknown {
		t.Errorf("players = %+v", s.Players)
	}
	if len(s.Hazards) != 0 {
		t.Errorf("hazards = %+v", s.Hazards)
	}
	if len(s.Pickups) != 1 || s.Pickups[0].ID != "f" {
		t.Errorf("pickups = %+v", s.Pickups)
	}
	if len(m.Diagnostics) < 5 {
		t.Errorf("diagnostics = %v, want one per bad field", m.Diagnostics)
	}
}

func TestDecodeTruncatedArray(t *testing.T) {
	line := `{"type":"STATE","data":{"tick":3,"crocodiles":[{"id":"c1","liana":1,"y":5},{"id":"c2","liana":2,"y":6},{"id":"c3","lia`
	m := DecodeString(line)
	if m.Kind != KindState || !m.Truncated {
		t.Fatalf("kind=%v truncated=%v", m.Kind, m.Truncated)
	}
	if got := len(m.State.Hazards); got != 2 {
		t.Fatalf("hazards = %d, want 2", got)
	}
	if m.State.Hazards[1].ID != "c2" || m.State.Tick != 3 {
		t.Fatalf("state = %+v", m.State)
	}
}

func TestDecodeSyntaxErrorIsInvalid(t *testing.T) {
	for _, line := range []string{
		`{"type":"STATE","data":{"paused":yes,"tick":6,"players":[{"id":"P1","active":true}]}}`,
		`{"type":"STATE","data":{"players":[{"id":"P1","x":1.2.3},{"id":"P2"}]}}`,
		`{"type":"STATE","data":{"tick":1,,"level":2}}`,
	} {
		m := DecodeString(line)
		if m.Kind != KindInvalid || m.Truncated {
			t.Errorf("%s: kind=%v truncated=%v, want invalid", line, m.Kind, m.Truncated)
		}
		if len(m.State.Players) != 0 || len(m.Diagnostics) == 0 {
			t.Errorf("%s: state=%+v diags=%v", line, m.State, m.Diagnostics)
		}
	}
}

func TestDecodeIntegerOverflow(t *testing.T) {
	m := DecodeString(`{"type":"STATE","data":{"tick":9223372036854775808.0,"level":2}}`)
	if m.Kind != KindState || m.State.Tick != 0 || m.State.Level != 2 {
		t.Fatalf("kind=%v state=%+v", m.Kind, m.State)
	}
	if len(m.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v", m.Diagnostics)
	}
}

func TestDecodeCapsEntityArrays(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"type":"STATE","data":{"players":[`)
	for i := 0; i < game.MaxPlayers+3; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"id":"P%d"}`, i)
	}
	b.WriteString(`],"tick":11}}`)
	m := DecodeString(b.String())
	if len(m.State.Players) != game.MaxPlayers {
		t.Fatalf("players = %d, want %d", len(m.State.Players), game.MaxPlayers)
	}
	if m.State.Tick != 11 {
		t.Fatalf("fields after a capped array lost: tick = %d", m.State.Tick)
	}
	if len(m.Diagnostics) != 0 {
		t.Fatalf("overflow should be silent, got %v", m.Diagnostics)
	}
}

func TestDecodeEventsAndErrors(t *testing.T) {
	m := DecodeString(`{"type":"EVENT","name":"FRUIT_TAKEN","payload":{"playerId":"P1","points":50}}`)
	if m.Kind != KindEvent || m.Event.Name != game.EventFruitTaken || m.Event.PlayerID != "P1" || m.Event.Points != 50 {
		t.Fatalf("event = %+v", m)
	}
	m = DecodeString(`{"type":"EVENT"}`)
	if m.Kind != KindEvent || m.Event.Name != "" || len(m.Diagnostics) == 0 {
		t.Fatalf("nameless event = %+v", m)
	}
	m = DecodeString(`{"type":"ERROR","payload":{"error":"limit reached"}}`)
	if m.Kind != KindError || m.ErrorText != "limit reached" {
		t.Fatalf("error = %+v", m)
	}
	m = DecodeString(`{"type":"PING"}`)
	if m.Kind != KindUnknown || m.Type != "PING" {
		t.Fatalf("unknown = %+v", m)
	}
}

func TestDecodeInvalid(t *testing.T) {
	for _, line := range []string{``, `hello`, `[1,2]`, `{"foo":1}`, `{"type":5}`, `{"type":"STA`} {
		m := DecodeString(line)
		if m.Kind != KindInvalid {
			t.Errorf("%q: kind = %v, want invalid", line, m.Kind)
		}
		if len(m.Diagnostics) == 0 {
			t.Errorf("%q: no diagnostics", line)
		}
	}
}

func TestEncode(t *testing.T) {
	b, err := EncodeInput("Player_ab12", game.ActionJump, 1)
	if err != nil {
		t.Fatalf("EncodeInput: %v", err)
	}
	want := `{"type":"INPUT","id":"Player_ab12","playerId":"Player_ab12","action":"JUMP","velocity":1.0}` + "\n"
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}

	b, err = EncodeConnect("P", ClientSpectator)
	if err != nil {
		t.Fatalf("EncodeConnect: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("connect not JSON: %v", err)
	}
	if got["type"] != TypeConnect || got["playerId"] != "P" || got["clientType"] != ClientSpectator {
		t.Fatalf("connect = %v", got)
	}

	b, _ = EncodeDisconnect("P")
	if !strings.HasSuffix(string(b), "}\n") || strings.Contains(string(b), "action") {
		t.Fatalf("disconnect = %q", b)
	}

	if _, err := EncodeInput("", game.ActionUp, 1); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := EncodeInput("P", game.Action(99), 1); err == nil {
		t.Fatalf("expected error for bad action")
	}
}

func TestEncodeVelocityPrecision(t *testing.T) {
	b, _ := EncodeInput("P", game.ActionLeft, 2.345)
	if !strings.Contains(string(b), `"velocity":2.3`) {
		t.Fatalf("velocity not rounded to one decimal: %s", b)
	}
}

func TestFramerSplitsLines(t *testing.T) {
	f := NewFramer(0, quietLogger)
	got := f.Feed([]byte("{\"a\":1}\r\n\n  \n{\"b\":2}\n{\"c\""))
	if len(got) != 2 || got[0] != `{"a":1}` || got[1] != `{"b":2}` {
		t.Fatalf("lines = %q", got)
	}
	if f.Buffered() != len(`{"c"`) {
		t.Fatalf("buffered = %d", f.Buffered())
	}
	got = f.Feed([]byte(":3}\n"))
	if len(got) != 1 || got[0] != `{"c":3}` {
		t.Fatalf("carry-over lines = %q", got)
	}
}

func TestFramerChunkBoundaryIndependence(t *testing.T) {
	stream := []byte(`{"type":"STATE","data":{"tick":1}}` + "\n" +
		`{"type":"EVENT","name":"PLAYER_HIT"}` + "\r\n" +
		"\n" +
		`{"tick":3,"players":[{"id":"x"}]}` + "\n" +
		`{"partial":`)

	whole := NewFramer(0, quietLogger).Feed(stream)

	for size := 1; size <= len(stream); size++ {
		f := NewFramer(0, quietLogger)
		var got []string
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, f.Feed(stream[i:end])...)
		}
		if len(got) != len(whole) {
			t.Fatalf("chunk %d: %d lines, want %d", size, len(got), len(whole))
		}
		for i := range whole {
			if got[i] != whole[i] {
				t.Fatalf("chunk %d: line %d = %q, want %q", size, i, got[i], whole[i])
			}
		}
	}
}

func TestFramerOverflowDiscards(t *testing.T) {
	f := NewFramer(16, quietLogger)
	var discarded int
	f.OnOverflow = func(n int) { discarded += n }

	if got := f.Feed([]byte(strings.Repeat("x", 20))); len(got) != 0 {
		t.Fatalf("lines = %q", got)
	}
	if discarded != 20 || f.Buffered() != 0 {
		t.Fatalf("discarded=%d buffered=%d", discarded, f.Buffered())
	}
	if got := f.Feed([]byte("more")); len(got) != 0 || f.Buffered() != 0 {
		t.Fatalf("lines = %q buffered = %d", got, f.Buffered())
	}
	got := f.Feed([]byte("tail\n{\"ok\":1}\n"))
	if len(got) != 1 || got[0] != `{"ok":1}` {
		t.Fatalf("after overflow lines = %q, want only the next message", got)
	}
	if discarded != 29 {
		t.Fatalf("discarded = %d, want 29", discarded)
	}
}

func TestFramerResetClearsOverflowSkip(t *testing.T) {
	f := NewFramer(8, quietLogger)
	f.Feed([]byte(strings.Repeat("x", 10)))
	f.Reset()
	if got := f.Feed([]byte("ok\n")); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("lines = %q", got)
	}
}
