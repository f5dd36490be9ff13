package realtime

import (
	"encoding/json"
	"time"

	"github.com/puse45/auth-ms/cmd/account/ids"
)

const (
	Version = 1

	TypeHello = "hello"
	TypeEvent = "event"
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// Envelope is the frame format on /ws/events, in both directions.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HelloPayload struct {
	SessionID string `json:"session_id"`
	AccountID string `json:"account_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload any, ts time.Time) Envelope {
	env := Envelope{V: Version, Type: typ, TS: ts}
	if id, err := ids.NewULID(ts); err == nil {
		env.ID = id
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			env.Payload = b
		}
	}
	return env
}
