package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/irishsmurf/kongjr-client/game"
)

// Client message type tags.
const (
	TypeConnect    = "CONNECT"
	TypeDisconnect = "DISCONNECT"
	TypeInput      = "INPUT"
)

// Client types accepted by the server on CONNECT.
const (
	ClientPlayer    = "PLAYER"
	ClientSpectator = "SPECTATOR"
)

// DefaultVelocity is the magnitude sent with every input.
const DefaultVelocity = 1.0

// velocity is written with one decimal place, as the server expects.
type velocity float64

func (v velocity) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid velocity %v", f)
	}
	return strconv.AppendFloat(nil, f, 'f', 1, 64), nil
}

// outbound is the shape of every client message. The identifier is sent as
// both id and playerId: server builds differ in which key they read.
type outbound struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	ClientType string    `json:"clientType,omitempty"`
	Action     string    `json:"action,omitempty"`
	Velocity   *velocity `json:"velocity,omitempty"`
}

func encode(msg outbound) ([]byte, error) {
	if msg.PlayerID == "" {
		return nil, fmt.Errorf("encode %s: empty player id", msg.Type)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return append(b, delimiter), nil
}

// EncodeConnect builds the CONNECT line. clientType may be empty.
func EncodeConnect(playerID, clientType string) ([]byte, error) {
	return encode(outbound{Type: TypeConnect, ID: playerID, PlayerID: playerID, ClientType: clientType})
}

func EncodeDisconnect(playerID string) ([]byte, error) {
	return encode(outbound{Type: TypeDisconnect, ID: playerID, PlayerID: playerID})
}

// EncodeInput builds an INPUT line for one action.
func EncodeInput(playerID string, a game.Action, v float64) ([]byte, error) {
	tag := a.Wire()
	if tag == "" {
		return nil, fmt.Errorf("encode %s: unknown action %d", TypeInput, int(a))
	}
	vel := velocity(v)
	return encode(outbound{Type: TypeInput, ID: playerID, PlayerID: playerID, Action: tag, Velocity: &vel})
}
