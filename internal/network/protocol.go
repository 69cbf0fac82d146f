package network

import (
	"encoding/json"

	"github.com/gravitas-games/tactics-reach/internal/grid"
	"github.com/gravitas-games/tactics-reach/internal/reach"
	"github.com/gravitas-games/tactics-reach/pkg/models"
)

// Message types - Client → Server
const (
	MsgTypeJoin  = "join"
	MsgTypeLeave = "leave"
	MsgTypeReach = "reach"
	MsgTypeMove  = "move"
	MsgTypePing  = "ping"
)

// Message types - Server → Client
const (
	MsgTypeWelcome       = "welcome"
	MsgTypePlayerJoined  = "player_joined"
	MsgTypePlayerLeft    = "player_left"
	MsgTypeReachResult   = "reach_result"
	MsgTypeUnitMoved     = "unit_moved"
	MsgTypeSessionStatus = "session_status"
	MsgTypeError         = "error"
	MsgTypePong          = "pong"
)

// Error codes sent in ErrorPayload
const (
	ErrCodeInvalidMessage   = "invalid_message"
	ErrCodeUnknownType      = "unknown_message_type"
	ErrCodeNotAuthenticated = "not_authenticated"
	ErrCodeJoinFailed       = "join_failed"
	ErrCodeInvalidReach     = "invalid_reach"
	ErrCodeMoveRejected     = "move_rejected"
)

// ClientMessage represents any message from client to server
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage represents any message from server to client
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// --- Client Message Payloads ---

// ReachPayload asks which tiles can be reached. With UnitID set, the unit's
// position, movement and profile are used; any other field set alongside it
// overrides the unit's value.
type ReachPayload struct {
	UnitID          string      `json:"unit_id,omitempty"`
	Origin          *grid.Coord `json:"origin,omitempty"`
	Budget          *int        `json:"budget,omitempty"`
	Profile         string      `json:"profile,omitempty"`
	Affinity        map[int]int `json:"affinity,omitempty"` // terrain code -> cost delta
	IncludeFrontier bool        `json:"include_frontier"`
}

// MovePayload asks to move a unit to a reachable tile
type MovePayload struct {
	UnitID string     `json:"unit_id"`
	Target grid.Coord `json:"target"`
}

// --- Server Message Payloads ---

// WelcomePayload is sent to client after joining the session
type WelcomePayload struct {
	PlayerID      string         `json:"player_id"`
	Username      string         `json:"username"`
	SessionID     string         `json:"session_id"`
	Map           MapInfo        `json:"map"`
	Units         []*models.Unit `json:"units"`
	SessionStatus SessionStatus  `json:"session_status"`
}

// MapInfo summarises the session map for rendering
type MapInfo struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Tiles       int    `json:"tiles"`
	Fingerprint string `json:"fingerprint"`
}

// PlayerJoinedPayload notifies clients when a player joins
type PlayerJoinedPayload struct {
	PlayerID string         `json:"player_id"`
	Username string         `json:"username"`
	Units    []*models.Unit `json:"units"`
}

// PlayerLeftPayload notifies clients when a player leaves
type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

// ReachResultPayload carries the tiles of a reach query. Tiles with status 1
// can be moved to; status 0 tiles are the frontier, sent only when requested.
type ReachResultPayload struct {
	UnitID string       `json:"unit_id,omitempty"`
	Origin grid.Coord   `json:"origin"`
	Budget int          `json:"budget"`
	Cached bool         `json:"cached"`
	Tiles  []reach.Tile `json:"tiles"`
}

// UnitMovedPayload notifies clients that a unit changed position
type UnitMovedPayload struct {
	UnitID string     `json:"unit_id"`
	Owner  string     `json:"owner"`
	From   grid.Coord `json:"from"`
	To     grid.Coord `json:"to"`
	Cost   int        `json:"cost"`
}

// SessionStatus represents the current session state
type SessionStatus struct {
	State       string `json:"state"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
	UnitCount   int    `json:"unit_count"`
	Uptime      int64  `json:"uptime"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
