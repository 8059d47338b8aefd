package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DepressionHub/session-relay/internal/models"
	"github.com/DepressionHub/session-relay/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // enough for SDP payloads
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one websocket connection attached to a session room.
type Client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	room      *session.Room
	registry  *session.Registry
}

// ID implements session.Sender.
func (c *Client) ID() string { return c.id }

// Send implements session.Sender. Delivery over the single buffered
// channel preserves per-sender FIFO order; a full buffer drops the
// message rather than blocking the room actor.
func (c *Client) Send(env *models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("failed to marshal message: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("failed to send message to %s, buffer full", c.id)
	}
}

// HandleSignaling upgrades the connection and runs the signaling
// protocol for one participant. The sessionId is trusted as given;
// approval of the underlying session request is the caller's concern.
func HandleSignaling(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("failed to upgrade connection: %v", err)
			return
		}

		client := &Client{
			id:        uuid.New().String(),
			sessionID: sessionID,
			conn:      conn,
			send:      make(chan []byte, 256),
			registry:  registry,
		}

		log.Printf("connection %s attached to session %s", client.id, sessionID)

		client.Send(&models.Envelope{
			Type:      models.TypeConnected,
			SessionID: sessionID,
			Sender:    client.id,
		})

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		if c.room != nil {
			c.room.Leave(c.id)
		}
		c.conn.Close()
		log.Printf("connection %s detached from session %s", c.id, c.sessionID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("failed to parse message from %s: %v", c.id, err)
			continue
		}
		if err := env.Validate(); err != nil {
			// Malformed envelopes are logged and ignored; the
			// connection stays open.
			log.Printf("invalid message from %s: %v", c.id, err)
			continue
		}

		if env.Type == models.TypeJoinSession {
			c.room = c.registry.Join(c.sessionID, c, env.Role, env.DisplayName)
			continue
		}

		if c.room == nil {
			c.Send(models.ErrorEnvelope(c.sessionID, "join_session required"))
			continue
		}

		if !c.room.Deliver(c.id, &env) {
			// Room already ended. A duplicate end is an idempotent
			// no-op; anything else is rejected.
			if env.Type != models.TypeSessionEnded {
				c.Send(models.ErrorEnvelope(c.sessionID, "session not found"))
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
