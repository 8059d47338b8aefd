package peer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DepressionHub/session-relay/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	backoffBase = 500 * time.Millisecond
	backoffMax  = 30 * time.Second
)

// SignalingClient maintains the websocket connection to the relay for
// one session. On transport loss it reconnects with capped exponential
// backoff and re-announces the join for its previous role, which the
// relay treats as a same-role rejoin.
type SignalingClient struct {
	url      string
	join     models.Envelope
	incoming chan *models.Envelope
	outgoing chan *models.Envelope
}

func NewSignalingClient(serverURL, sessionID string, role models.Role, displayName string) *SignalingClient {
	return &SignalingClient{
		url: strings.TrimRight(serverURL, "/") + "/ws/session/" + sessionID,
		join: models.Envelope{
			Type:        models.TypeJoinSession,
			SessionID:   sessionID,
			Role:        role,
			DisplayName: displayName,
		},
		incoming: make(chan *models.Envelope, 64),
		outgoing: make(chan *models.Envelope, 64),
	}
}

// Incoming returns the channel of envelopes received from the relay.
func (c *SignalingClient) Incoming() <-chan *models.Envelope {
	return c.incoming
}

// Send queues an envelope for the relay. A full queue drops the message;
// signaling is only meaningful against a live transport anyway.
func (c *SignalingClient) Send(env *models.Envelope) {
	select {
	case c.outgoing <- env:
	default:
		log.Printf("signaling send buffer full, dropping %s", env.Type)
	}
}

// Run dials and pumps messages until ctx is cancelled, reconnecting on
// transport loss.
func (c *SignalingClient) Run(ctx context.Context) error {
	backoff := backoffBase
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("signaling dial failed: %v, retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		backoff = backoffBase

		// Re-announce our role on every new transport.
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(&c.join); err != nil {
			conn.Close()
			continue
		}

		if err := c.pump(ctx, conn); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("signaling connection lost, reconnecting")
	}
}

func (c *SignalingClient) pump(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	go c.writePump(conn, done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("signaling read: %w", err)
		}
		select {
		case c.incoming <- &env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *SignalingClient) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
