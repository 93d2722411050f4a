package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"medevent/internal/auth"
	"medevent/internal/chat"
	"medevent/internal/config"
	"medevent/internal/metrics"
	"medevent/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // 1MB
	sendBuffer     = 256
)

// Inbound event names.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
)

type Client struct {
	id    string
	hub   *Hub
	relay *chat.Relay
	conn  *websocket.Conn
	send  chan []byte

	userID string
	role   string
	authed bool

	closed atomic.Bool
	once   sync.Once
}

func (c *Client) ID() string { return c.id }

func (c *Client) closeSend() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

func (c *Client) isClosed() bool { return c.closed.Load() }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type errorPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Serve upgrades the request and runs the connection until it closes. A
// bearer token is verified when present and required when the config says so.
func Serve(h *Hub, relay *chat.Relay, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := &Client{id: uuid.NewString(), hub: h, relay: relay, send: make(chan []byte, sendBuffer)}

		if token := auth.BearerToken(c.Request); token != "" {
			claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			client.userID, client.role, client.authed = claims.UserID, claims.Role, true
		} else if cfg.WSAuthRequired {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		client.conn = conn
		metrics.WsConnections.Inc()
		log.Info().Str("conn_id", client.id).Str("user_id", client.userID).Msg("socket connected")

		go client.writePump()
		client.readPump(c.Request.Context())
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
		metrics.WsConnections.Dec()
		log.Info().Str("conn_id", c.id).Msg("socket disconnected")
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("socket read")
			}
			return
		}
		var in Envelope
		if err := json.Unmarshal(data, &in); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id).Msg("bad frame")
			continue
		}
		c.dispatch(ctx, in)
	}
}

func (c *Client) dispatch(ctx context.Context, in Envelope) {
	resolver := c.relay.Resolver()
	switch in.Event {
	case EventJoinRoom:
		room, err := chat.DecodeRoomRef(in.Data)
		if err != nil {
			return
		}
		c.hub.Join(c, resolver.Resolve(room))
	case EventLeaveRoom:
		room, err := chat.DecodeRoomRef(in.Data)
		if err != nil {
			return
		}
		c.hub.Leave(c, resolver.Resolve(room))
	case EventSendMessage:
		c.sendMessage(ctx, in.Data)
	case EventTyping:
		t, err := chat.DecodeTyping(in.Data)
		if err != nil {
			return
		}
		if c.authed && t.UserID == "" {
			t.UserID = c.userID
		}
		t.RoomID = resolver.Resolve(t.RoomID)
		c.hub.Broadcast(t.RoomID, chat.EventTyping, t, c.id)
	default:
		log.Debug().Str("conn_id", c.id).Str("event", in.Event).Msg("unknown event")
	}
}

func (c *Client) sendMessage(ctx context.Context, data json.RawMessage) {
	d, shape, err := chat.DecodeSend(data)
	if err == nil {
		metrics.PayloadShapesTotal.WithLabelValues(chat.TransportSocket, shape.String()).Inc()
		if c.authed && d.SenderID == "" {
			d.SenderID = c.userID
		}
		var res *chat.Result
		res, err = c.relay.Send(ctx, d, chat.Origin{
			Transport:     chat.TransportSocket,
			ConnID:        c.id,
			UserID:        c.userID,
			IsAdmin:       c.role == models.RoleAdmin,
			Authenticated: c.authed,
		})
		if err == nil {
			c.hub.Send(c, chat.EventConfirmed, res.Message)
			return
		}
	}
	if !errors.Is(err, chat.ErrPersistence) {
		log.Debug().Err(err).Str("conn_id", c.id).Msg("send rejected")
	}
	c.hub.Send(c, chat.EventError, errorPayload{Success: false, Message: chat.PublicError(err), Error: err.Error()})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
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
