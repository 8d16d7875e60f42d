package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"github.com/arenapay/backend/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler bridges the redis broadcast bus to websocket listeners. Clients
// subscribe to topics (tx_ref, room id or match id) and receive every event
// published on them; delivery is best-effort, pollers use the status routes.
type WSHandler struct {
	redis *redis.Client
}

func NewWSHandler(redisClient *redis.Client) *WSHandler {
	return &WSHandler{redis: redisClient}
}

type wsClientMessage struct {
	Type  string `json:"type"`  // PING, SUBSCRIBE, UNSUBSCRIBE
	Topic string `json:"topic"` // tx_ref, room id or match id
}

type wsServerMessage struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Event json.RawMessage `json:"event,omitempty"`
}

// HandleWS upgrades the connection and pumps broadcast events to the client.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		services.SendErrorResponse(w, "Event stream unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe with no channels yet; SUBSCRIBE messages add them.
	pubsub := h.redis.Subscribe(ctx)
	defer pubsub.Close()

	writes := make(chan wsServerMessage, 64)
	go h.forwardEvents(ctx, pubsub, writes)
	go h.writePump(ctx, conn, writes)

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			return
		}

		switch msg.Type {
		case "PING":
			select {
			case writes <- wsServerMessage{Type: "PONG"}:
			default:
			}
		case "SUBSCRIBE":
			if msg.Topic != "" {
				if err := pubsub.Subscribe(ctx, services.EventChannel(msg.Topic)); err != nil {
					log.Printf("[WS] Subscribe %s failed: %v", msg.Topic, err)
				}
			}
		case "UNSUBSCRIBE":
			if msg.Topic != "" {
				if err := pubsub.Unsubscribe(ctx, services.EventChannel(msg.Topic)); err != nil {
					log.Printf("[WS] Unsubscribe %s failed: %v", msg.Topic, err)
				}
			}
		}
	}
}

func (h *WSHandler) forwardEvents(ctx context.Context, pubsub *redis.PubSub, writes chan<- wsServerMessage) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			topic := strings.TrimPrefix(m.Channel, services.EventChannel(""))
			select {
			case writes <- wsServerMessage{Type: "EVENT", Topic: topic, Event: json.RawMessage(m.Payload)}:
			default:
				// Slow consumer; drop rather than block the bus.
			}
		}
	}
}

func (h *WSHandler) writePump(ctx context.Context, conn *websocket.Conn, writes <-chan wsServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-writes:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
