package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/firdaus0729/casino-frontend/internal/models"
	"github.com/firdaus0729/casino-frontend/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 5 * time.Second

var errHubBusy = errors.New("websocket hub busy, event dropped")

// WebSocketHandler streams round lifecycle events to connected clients. It
// is also a services.Broadcaster so the engine can publish into it.
type WebSocketHandler struct {
	log *zap.Logger
	hub *WebSocketHub
}

type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
}

type Client struct {
	UserID int64
	Conn   *websocket.Conn

	mu    sync.Mutex
	games map[models.GameType]bool
}

type Message struct {
	Type   string          `json:"type"`
	UserID int64           `json:"user_id,omitempty"`
	Game   models.GameType `json:"game,omitempty"`
	Data   interface{}     `json:"data"`
}

func NewWebSocketHandler(log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		log: log,
		hub: &WebSocketHub{
			clients:    make(map[*Client]bool),
			register:   make(chan *Client),
			unregister: make(chan *Client),
			broadcast:  make(chan *Message, 100),
			done:       make(chan struct{}),
		},
	}
}

// Run pumps the hub until ctx is done, then closes every connection.
// Clients that cannot be written to are dropped.
func (h *WebSocketHandler) Run(ctx context.Context) error {
	hub := h.hub
	defer close(hub.done)
	for {
		select {
		case <-ctx.Done():
			for client := range hub.clients {
				client.Conn.Close()
				delete(hub.clients, client)
			}
			return nil

		case client := <-hub.register:
			hub.clients[client] = true
			h.log.Debug("client registered", zap.Int64("user_id", client.UserID))

		case client := <-hub.unregister:
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				h.log.Debug("client unregistered", zap.Int64("user_id", client.UserID))
			}

		case message := <-hub.broadcast:
			for client := range hub.clients {
				if client.wants(message) {
					if err := client.write(message); err != nil {
						h.log.Debug("websocket write failed, dropping client", zap.Int64("user_id", client.UserID), zap.Error(err))
						client.Conn.Close()
						delete(hub.clients, client)
					}
				}
			}
		}
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade to websocket", zap.Error(err))
		return
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
		games:  make(map[models.GameType]bool),
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	defer func() {
		select {
		case h.hub.unregister <- client:
		case <-h.hub.done:
		}
		conn.Close()
	}()

	for {
		var msg Message
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket error", zap.Error(err))
			}
			break
		}

		h.handleMessage(client, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case "PING":
		client.write(&Message{
			Type: "PONG",
			Data: gin.H{"timestamp": time.Now().Unix()},
		})
	case "SUBSCRIBE_GAME":
		if game, ok := msg.Data.(string); ok {
			if gt, err := models.ParseGameType(game); err == nil {
				client.subscribe(gt, true)
			}
		}
	case "UNSUBSCRIBE_GAME":
		if game, ok := msg.Data.(string); ok {
			client.subscribe(models.GameType(game), false)
		}
	}
}

func (c *Client) subscribe(game models.GameType, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.games[game] = true
	} else {
		delete(c.games, game)
	}
}

// wants reports whether a message is for this client. Private messages go
// to their user only; round events go to subscribers of the game, or to
// everyone who has not subscribed to anything.
func (c *Client) wants(m *Message) bool {
	if m.UserID != 0 {
		return m.UserID == c.UserID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.games) == 0 || c.games[m.Game]
}

func (c *Client) write(m *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(m)
}

// Broadcast queues an event for connected clients without waiting. Bet
// events are private to the bettor and resolved bet lists are never pushed.
// When the queue is full the event is dropped; after shutdown it is ignored.
func (h *WebSocketHandler) Broadcast(ctx context.Context, e services.Event) error {
	e.Bets = nil
	msg := &Message{
		Type: string(e.Type),
		Game: e.GameType,
		Data: e,
	}
	if e.Bet != nil {
		msg.UserID = e.Bet.UserID
	}

	select {
	case <-h.hub.done:
		return nil
	default:
	}

	select {
	case h.hub.broadcast <- msg:
		return nil
	default:
		return errHubBusy
	}
}
