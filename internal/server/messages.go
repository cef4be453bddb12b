package server

import "encoding/json"

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Inbound message types.
const (
	TypePing   = "ping"
	TypeJoin   = "join"
	TypeChat   = "chat"
	TypeResult = "result"
	TypeLeave  = "leave"
)

// Outbound message types.
const (
	TypePong    = "pong"
	TypeHistory = "history"
	TypeMessage = "message"
	TypeError   = "error"
)
