package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/irishsmurf/kongjr-client/game"
)

// Server message type tags.
const (
	TypeState = "STATE"
	TypeEvent = "EVENT"
	TypeError = "ERROR"
)

// Kind classifies a decoded inbound message.
type Kind int

const (
	KindInvalid Kind = iota // Not a usable message at all
	KindState
	KindEvent
	KindError
	KindUnknown // Well-formed but with a type tag we do not handle
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindEvent:
		return "event"
	case KindError:
		return "error"
	case KindUnknown:
		return "unknown"
	}
	return "invalid"
}

// Message is a decoded inbound line. Decoding never fails outright: problems
// are reported in Diagnostics and the affected fields keep their defaults.
type Message struct {
	Kind      Kind
	Type      string // Raw type tag, empty for legacy state payloads
	Legacy    bool   // State payload without a type tag
	Truncated bool   // Input ended before the message was complete
	State     game.Snapshot
	Event     game.Event
	ErrorText string

	Diagnostics []string
}

var errNotObject = errors.New("expected a JSON object")

// Decode parses one complete message line.
func Decode(line []byte) Message {
	d := &decoder{dec: json.NewDecoder(bytes.NewReader(line))}
	return d.message()
}

// DecodeString is Decode for framer output.
func DecodeString(line string) Message {
	return Decode([]byte(line))
}

type decoder struct {
	dec   *json.Decoder
	diags []string
}

func (d *decoder) diag(format string, args ...any) {
	d.diags = append(d.diags, fmt.Sprintf(format, args...))
}

func (d *decoder) message() Message {
	var m Message

	tok, err := d.dec.Token()
	if err != nil || tok != json.Delim('{') {
		m.Kind = KindInvalid
		d.diag("message is not a JSON object")
		m.Diagnostics = d.diags
		return m
	}

	var (
		top      = game.NewSnapshot()
		data     *game.Snapshot
		typ      string
		hasType  bool
		badType  bool
		sawState bool
	)
	err = d.object(func(key string) error {
		switch key {
		case "type":
			raw, err := d.value()
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &typ); err != nil {
				d.diag("type: %v", err)
				badType = true
				return nil
			}
			hasType = true
			return nil
		case "name":
			return d.field("name", &m.Event.Name)
		case "error":
			return d.field("error", &m.ErrorText)
		case "payload":
			return d.payload(&m)
		case "data":
			tok, err := d.dec.Token()
			if err != nil {
				return err
			}
			if tok == nil {
				return nil
			}
			if tok != json.Delim('{') {
				d.diag("data: %v", errNotObject)
				return d.skip(tok)
			}
			s := game.NewSnapshot()
			data = &s
			sawState = true
			return d.object(func(key string) error {
				return d.stateField(data, key)
			})
		}
		if isStateKey(key) {
			sawState = true
		}
		return d.stateField(&top, key)
	})
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			// Broken syntax mid-stream: nothing after it can be trusted.
			d.diag("malformed message: %v", err)
			m.Kind = KindInvalid
			m.Diagnostics = d.diags
			return m
		}
		m.Truncated = true
		d.diag("message truncated: %v", err)
	}

	state := top
	if data != nil {
		state = *data
	}

	switch {
	case badType:
		m.Kind = KindInvalid
	case !hasType:
		if sawState {
			m.Kind = KindState
			m.Legacy = true
			m.State = state
		} else {
			m.Kind = KindInvalid
			d.diag("message has neither a type nor state fields")
		}
	case typ == TypeState:
		m.Kind = KindState
		m.State = state
	case typ == TypeEvent:
		m.Kind = KindEvent
		if m.Event.Name == "" {
			d.diag("event without a name")
		}
	case typ == TypeError:
		m.Kind = KindError
	default:
		m.Kind = KindUnknown
		d.diag("unrecognized message type %q", typ)
	}
	m.Type = typ
	m.Diagnostics = d.diags
	return m
}

// object walks the members of an object whose opening brace has already been
// consumed, then consumes the closing brace.
func (d *decoder) object(member func(key string) error) error {
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		if err := member(key); err != nil {
			return err
		}
	}
	_, err := d.dec.Token()
	return err
}

// value reads the next complete value. An error means the stream itself is
// broken and the walk must stop.
func (d *decoder) value() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := d.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// skip consumes the remainder of a value whose first token was tok.
func (d *decoder) skip(tok json.Token) error {
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := d.dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
	return nil
}

// field reads the next value into dst, leaving dst untouched on a type
// mismatch.
func (d *decoder) field(key string, dst *string) error {
	raw, err := d.value()
	if err != nil {
		return err
	}
	setString(d, key, raw, dst)
	return nil
}

func (d *decoder) payload(m *Message) error {
	tok, err := d.dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return d.skip(tok)
	}
	return d.object(func(key string) error {
		raw, err := d.value()
		if err != nil {
			return err
		}
		switch key {
		case "playerId":
			setString(d, "payload.playerId", raw, &m.Event.PlayerID)
		case "crocodileId":
			setString(d, "payload.crocodileId", raw, &m.Event.CrocodileID)
		case "points":
			setInt(d, "payload.points", raw, &m.Event.Points)
		case "error":
			setString(d, "payload.error", raw, &m.ErrorText)
		}
		return nil
	})
}

func isStateKey(key string) bool {
	switch key {
	case "tick", "level", "paused", "speedMultiplier", "celebrationPending",
		"celebrationTimer", "players", "crocodiles", "fruits":
		return true
	}
	return false
}

// stateField decodes one snapshot member. Unknown members are skipped.
func (d *decoder) stateField(s *game.Snapshot, key string) error {
	switch key {
	case "players":
		return d.array(key, game.MaxPlayers, func(i int, f fields) {
			s.Players = append(s.Players, decodePlayer(d, i, f))
		})
	case "crocodiles":
		return d.array(key, game.MaxHazards, func(i int, f fields) {
			s.Hazards = append(s.Hazards, decodeHazard(d, i, f))
		})
	case "fruits":
		return d.array(key, game.MaxPickups, func(i int, f fields) {
			s.Pickups = append(s.Pickups, decodePickup(d, i, f))
		})
	}

	raw, err := d.value()
	if err != nil {
		return err
	}
	switch key {
	case "tick":
		setInt64(d, key, raw, &s.Tick)
	case "level":
		setInt(d, key, raw, &s.Level)
	case "paused":
		setBool(d, key, raw, &s.Paused)
	case "speedMultiplier":
		setFloat(d, key, raw, &s.SpeedMultiplier)
	case "celebrationPending":
		setBool(d, key, raw, &s.CelebrationPending)
	case "celebrationTimer":
		setFloat(d, key, raw, &s.CelebrationTimer)
	}
	return nil
}

type fields map[string]json.RawMessage

// array streams the elements of a named array, handing at most limit
// objects to elem. Elements past the limit are read and dropped. Elements
// decoded before a truncation are kept.
func (d *decoder) array(key string, limit int, elem func(i int, f fields)) error {
	tok, err := d.dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if tok != json.Delim('[') {
		d.diag("%s: expected an array", key)
		return d.skip(tok)
	}
	n := 0
	for i := 0; d.dec.More(); i++ {
		raw, err := d.value()
		if err != nil {
			return err
		}
		if n >= limit {
			continue
		}
		var f fields
		if err := json.Unmarshal(raw, &f); err != nil || f == nil {
			d.diag("%s[%d]: %v", key, i, errNotObject)
			continue
		}
		elem(i, f)
		n++
	}
	_, err = d.dec.Token()
	return err
}

func decodePlayer(d *decoder, i int, f fields) game.PlayerSnapshot {
	p := game.NewPlayerSnapshot()
	ctx := func(k string) string { return fmt.Sprintf("players[%d].%s", i, k) }
	setString(d, ctx("id"), f["id"], &p.ID)
	setFloat(d, ctx("x"), f["x"], &p.X)
	setFloat(d, ctx("y"), f["y"], &p.Y)
	setFloat(d, ctx("vx"), f["vx"], &p.VX)
	setFloat(d, ctx("vy"), f["vy"], &p.VY)
	setInt(d, ctx("liana"), f["liana"], &p.Column)
	setInt(d, ctx("lianaId"), f["lianaId"], &p.RopeID)
	setInt(d, ctx("lives"), f["lives"], &p.Lives)
	setInt(d, ctx("score"), f["score"], &p.Score)
	setBool(d, ctx("active"), f["active"], &p.Active)
	setBool(d, ctx("celebrating"), f["celebrating"], &p.Celebrating)

	var tag string
	if setString(d, ctx("state"), f["state"], &tag) {
		if s, ok := game.ParsePlayerState(tag); ok {
			p.State = s
		} else {
			d.diag("%s: unknown state %q", ctx("state"), tag)
		}
	}
	tag = ""
	if setString(d, ctx("facing"), f["facing"], &tag) {
		if dir, ok := game.ParseFacing(tag); ok {
			p.Facing = dir
		} else {
			d.diag("%s: unknown facing %q", ctx("facing"), tag)
		}
	}

	if p.Lives < 0 {
		d.diag("%s: negative lives %d", ctx("lives"), p.Lives)
		p.Lives = 0
	}
	if p.Score < 0 {
		d.diag("%s: negative score %d", ctx("score"), p.Score)
		p.Score = 0
	}
	return p
}

func decodeHazard(d *decoder, i int, f fields) game.HazardSnapshot {
	h := game.NewHazardSnapshot()
	ctx := func(k string) string { return fmt.Sprintf("crocodiles[%d].%s", i, k) }
	setString(d, ctx("id"), f["id"], &h.ID)
	setInt(d, ctx("liana"), f["liana"], &h.Column)
	setFloat(d, ctx("y"), f["y"], &h.Y)
	var kind string
	if setString(d, ctx("kind"), f["kind"], &kind) {
		if k, ok := game.ParseHazardKind(kind); ok {
			h.Kind = k
		} else {
			d.diag("%s: unknown kind %q", ctx("kind"), kind)
		}
	}
	return h
}

func decodePickup(d *decoder, i int, f fields) game.PickupSnapshot {
	p := game.NewPickupSnapshot()
	ctx := func(k string) string { return fmt.Sprintf("fruits[%d].%s", i, k) }
	setString(d, ctx("id"), f["id"], &p.ID)
	setInt(d, ctx("liana"), f["liana"], &p.Column)
	setFloat(d, ctx("y"), f["y"], &p.Y)
	setInt(d, ctx("points"), f["points"], &p.Points)
	return p
}

// --- tolerant scalar setters ---
// Each returns true when dst was written. Missing and null values leave dst
// at its default; mismatched types add a diagnostic.

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func setValue[T any](d *decoder, ctx string, raw json.RawMessage, dst *T) bool {
	if isNull(raw) {
		return false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		d.diag("%s: %v", ctx, err)
		return false
	}
	*dst = v
	return true
}

func setString(d *decoder, ctx string, raw json.RawMessage, dst *string) bool {
	return setValue(d, ctx, raw, dst)
}

func setBool(d *decoder, ctx string, raw json.RawMessage, dst *bool) bool {
	return setValue(d, ctx, raw, dst)
}

func setFloat(d *decoder, ctx string, raw json.RawMessage, dst *float64) bool {
	return setValue(d, ctx, raw, dst)
}

// setInt64 also accepts integral floats such as 3.0, which the server's JSON
// library emits for boxed numbers.
func setInt64(d *decoder, ctx string, raw json.RawMessage, dst *int64) bool {
	if isNull(raw) {
		return false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		*dst = n
		return true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		d.diag("%s: %v", ctx, err)
		return false
	}
	if f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		d.diag("%s: %v is not an integer", ctx, f)
		return false
	}
	*dst = int64(f)
	return true
}

func setInt(d *decoder, ctx string, raw json.RawMessage, dst *int) bool {
	var n int64
	if !setInt64(d, ctx, raw, &n) {
		return false
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		d.diag("%s: %d out of range", ctx, n)
		return false
	}
	*dst = int(n)
	return true
}
