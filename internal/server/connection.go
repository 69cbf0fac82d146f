package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitas-games/tactics-reach/internal/network"
	"github.com/gravitas-games/tactics-reach/pkg/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

// Connection represents a WebSocket connection to a client
type Connection struct {
	ws     *websocket.Conn
	server *Server

	// Player information, set after authentication
	player *models.Player
	joined bool

	// Buffered channel for outbound messages
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection creates a new connection for an authenticated player
func NewConnection(ws *websocket.Conn, server *Server, player *models.Player) *Connection {
	return &Connection{
		ws:     ws,
		server: server,
		player: player,
		send:   make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

// Handle manages the connection lifecycle
func (c *Connection) Handle() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump()
	c.readPump() // Blocking
}

// readPump pumps messages from the WebSocket connection to the session
func (c *Connection) readPump() {
	defer c.Close()

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var clientMsg network.ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			log.Printf("Failed to parse client message: %v", err)
			c.SendError(network.ErrCodeInvalidMessage, "Failed to parse message")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-c.server.ctx.Done():
			return
		}
	}
}

// handleMessage routes messages to appropriate handlers
func (c *Connection) handleMessage(msg *network.ClientMessage) {
	switch msg.Type {
	case network.MsgTypeJoin:
		c.handleJoin()

	case network.MsgTypeLeave:
		c.handleLeave()

	case network.MsgTypeReach:
		c.handleReach(msg.Payload)

	case network.MsgTypeMove:
		c.handleMove(msg.Payload)

	case network.MsgTypePing:
		c.handlePing()

	default:
		log.Printf("Unknown message type: %s", msg.Type)
		c.SendError(network.ErrCodeUnknownType, "Unknown message type")
	}
}

// handleJoin adds the player to the session
func (c *Connection) handleJoin() {
	session := c.server.session

	c.player.Connected = true
	c.player.ConnectedAt = time.Now()
	c.player.SessionID = session.ID

	unit, err := session.AddPlayer(c.player, c)
	if err != nil {
		log.Printf("Failed to add player to session: %v", err)
		c.SendError(network.ErrCodeJoinFailed, err.Error())
		return
	}
	c.joined = true

	c.SendMessage(&network.ServerMessage{
		Type: network.MsgTypeWelcome,
		Payload: network.WelcomePayload{
			PlayerID:      c.player.ID,
			Username:      c.player.Username,
			SessionID:     session.ID,
			Map:           session.MapInfo(),
			Units:         session.Units(),
			SessionStatus: session.GetStatus(),
		},
	})

	session.BroadcastExcept(c, &network.ServerMessage{
		Type: network.MsgTypePlayerJoined,
		Payload: network.PlayerJoinedPayload{
			PlayerID: c.player.ID,
			Username: c.player.Username,
			Units:    []*models.Unit{unit},
		},
	})
	session.BroadcastExcept(c, &network.ServerMessage{Type: network.MsgTypeSessionStatus, Payload: session.GetStatus()})
}

// handleLeave removes the player from the session
func (c *Connection) handleLeave() {
	if !c.joined {
		return
	}
	c.joined = false
	session := c.server.session
	if !session.RemovePlayer(c.player.ID, c) {
		return
	}

	session.BroadcastMessage(&network.ServerMessage{
		Type: network.MsgTypePlayerLeft,
		Payload: network.PlayerLeftPayload{
			PlayerID: c.player.ID,
			Username: c.player.Username,
		},
	})
	session.BroadcastMessage(&network.ServerMessage{Type: network.MsgTypeSessionStatus, Payload: session.GetStatus()})
}

// handleReach answers a reach query for this client only
func (c *Connection) handleReach(payload json.RawMessage) {
	if !c.joined {
		c.SendError(network.ErrCodeNotAuthenticated, "Join the session before querying")
		return
	}

	var req network.ReachPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError(network.ErrCodeInvalidReach, "Invalid reach payload")
		return
	}

	result, err := c.server.session.Reach(c.server.ctx, req)
	if err != nil {
		c.SendError(network.ErrCodeInvalidReach, err.Error())
		return
	}
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeReachResult, Payload: result})
}

// handleMove moves one of the player's units and tells everyone
func (c *Connection) handleMove(payload json.RawMessage) {
	if !c.joined {
		c.SendError(network.ErrCodeNotAuthenticated, "Join the session before moving")
		return
	}

	var req network.MovePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError(network.ErrCodeMoveRejected, "Invalid move payload")
		return
	}

	moved, err := c.server.session.MoveUnit(c.server.ctx, c.player.ID, req)
	if err != nil {
		if !errors.Is(err, ErrUnreachable) {
			log.Printf("Move by %s rejected: %v", c.player.Username, err)
		}
		c.SendError(network.ErrCodeMoveRejected, err.Error())
		return
	}
	c.server.session.BroadcastMessage(&network.ServerMessage{Type: network.MsgTypeUnitMoved, Payload: moved})
}

// handlePing handles ping requests
func (c *Connection) handlePing() {
	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypePong,
		Payload: map[string]interface{}{"timestamp": time.Now().Unix()},
	})
}

// SendMessage queues a message for the client
func (c *Connection) SendMessage(msg *network.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	select {
	case <-c.closed:
	case c.send <- data:
	default:
		log.Printf("Send buffer full, dropping message")
	}
}

// SendError sends an error message to the client
func (c *Connection) SendError(code, message string) {
	c.SendMessage(&network.ServerMessage{
		Type: network.MsgTypeError,
		Payload: network.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Close leaves the session and stops the write pump. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.handleLeave()
		close(c.closed)
	})
}
