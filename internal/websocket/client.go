package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"streamchat/internal/chat"
	"streamchat/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 1024
)

// Message types exchanged with the browser
const (
	TypeWindow    = "window"
	TypeError     = "error"
	TypeRefresh   = "refresh"
	TypeSubscribe = "subscribe"
)

// Client is one websocket connection watching one room at a time through
// its own Poller
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	poller    *chat.Poller
	room      string
	send      chan []byte
	writeMu   sync.Mutex
	closed    atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
}

type ClientMessage struct {
	Type  string `json:"type"`
	Room  string `json:"room,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	*chat.Window
	Message string `json:"message,omitempty"`
}

func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, poller *chat.Poller) *Client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		id:        uuid.NewString(),
		hub:       hub,
		conn:      conn,
		poller:    poller,
		room:      poller.Room(),
		send:      make(chan []byte, 16),
		ctx:       clientCtx,
		ctxCancel: cancel,
	}
}

// ID returns the subscription id
func (c *Client) ID() string {
	return c.id
}

// Serve registers the client, starts its poller and pumps messages until the
// connection closes
func (c *Client) Serve() {
	c.hub.Register(c, c.room)
	c.poller.Start(c.ctx)
	go c.WritePump()
	c.ReadPump()
}

// ReadPump handles refresh and subscribe requests from the browser
func (c *Client) ReadPump() {
	defer func() {
		c.ctxCancel()
		c.hub.Unregister(c, c.room)
		c.poller.Stop()
		c.closeConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("client_id", c.id))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("client_id", c.id))
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			slog.Warn("invalid message format",
				slog.String("error", err.Error()),
				slog.String("client_id", c.id))
			continue
		}

		switch clientMsg.Type {
		case TypeRefresh:
			c.poller.Refresh()
		case TypeSubscribe:
			c.subscribe(clientMsg.Room, clientMsg.Limit)
		default:
			c.sendError("unknown message type")
		}
	}
}

func (c *Client) subscribe(room string, limit int) {
	if _, err := chat.NewRoomFilter(room); err != nil {
		c.sendError(err.Error())
		return
	}

	c.hub.Unregister(c, c.room)
	if err := c.poller.Retarget(room, limit); err != nil {
		c.sendError(err.Error())
	}
	c.room = c.poller.Room()
	c.hub.Register(c, c.room)
}

func (c *Client) sendError(text string) {
	data, err := json.Marshal(ServerMessage{Type: TypeError, Message: text})
	if err != nil {
		slog.Error("failed to marshal error message", slog.String("error", err.Error()))
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		slog.Warn("dropping error message for slow client", slog.String("client_id", c.id))
	}
}

// WritePump pushes every new window and queued message to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.writeMessage(websocket.CloseMessage, []byte{})
			return

		case window := <-c.poller.Updates():
			data, err := json.Marshal(ServerMessage{Type: TypeWindow, Window: &window})
			if err != nil {
				slog.Error("failed to marshal window",
					slog.String("error", err.Error()),
					slog.String("room", window.Room))
				continue
			}
			if err := c.writeMessage(websocket.TextMessage, data); err != nil {
				return
			}
			observability.WebSocketWindowsPushed.WithLabelValues(window.Room).Inc()

		case message := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close ends the client from outside; the pumps then shut down
func (c *Client) close() {
	c.ctxCancel()
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline",
			slog.String("error", err.Error()),
			slog.String("client_id", c.id))
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
