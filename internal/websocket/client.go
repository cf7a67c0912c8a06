package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"alumnet/internal/logging"
	"alumnet/internal/models"
)

// Client is one push connection. identified is owned by the hub loop.
type Client struct {
	ID          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	principal   models.Principal
	displayName string
	identified  bool
}

func NewClient(hub *Hub, conn *websocket.Conn, principal models.Principal, displayName string) *Client {
	return &Client{
		ID:          uuid.New().String(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, hub.cfg.SendBuffer),
		principal:   principal,
		displayName: displayName,
	}
}

// ReadPump feeds inbound frames to the hub until the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Str(logging.FieldConnID, c.ID).Msg("websocket read error")
			}
			return
		}

		if !c.hub.submit(c, message) {
			return
		}
	}
}

func (c *Client) extendReadDeadline() {
	if c.hub.cfg.PongWait > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	}
}

// WritePump writes queued frames and keepalive pings. It exits when the
// hub closes the send channel or a write fails.
func (c *Client) WritePump() {
	interval := c.hub.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.setWriteDeadline()
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) setWriteDeadline() {
	if c.hub.cfg.WriteWait > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
	}
}
