package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"ai-relay-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Hub struct {
	// Registered clients map: UserID -> List of Clients (multi-device)
	clients map[uuid.UUID][]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Lock for safe map access
	mu sync.RWMutex

	// Redis connection for cross-instance fan-out
	rdb *redis.Client

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uuid.UUID][]*Client),
		rdb:        rdb,
		logger:     log,
	}
}

func (h *Hub) Run() {
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": client.UserID})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.UserID]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.UserID]) == 0 {
					delete(h.clients, client.UserID)
					h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
				}
			}
			h.mu.Unlock()
		}
	}
}

// deliverLocal pushes data to every client in the list, returning the
// clients whose buffers are full. Stalled clients must be handed to the
// unregister channel only after the hub lock is released; Run is the
// sole owner of close(client.Send).
func (h *Hub) deliverLocal(clients []*Client, data []byte) []*Client {
	var stalled []*Client
	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			stalled = append(stalled, client)
		}
	}
	return stalled
}

func (h *Hub) dropStalled(stalled []*Client) {
	for _, client := range stalled {
		h.logger.Warn("Hub", "Client Send buffer full, dropping client", map[string]interface{}{"user_id": client.UserID})
		h.unregister <- client
	}
}

// Send pushes a serialized event to every device of one user, locally and
// through Redis for sibling instances.
func (h *Hub) Send(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	stalled := h.deliverLocal(h.clients[userID], data)
	h.mu.RUnlock()
	h.dropStalled(stalled)

	if h.rdb != nil {
		payload := map[string]interface{}{
			"target_user_id": userID.String(),
			"message":        data,
		}
		jsonPayload, _ := json.Marshal(payload)
		h.rdb.Publish(context.Background(), "cluster_events", jsonPayload)
	}
}

// Broadcast pushes a serialized event to ALL connected clients.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	var stalled []*Client
	for _, clients := range h.clients {
		stalled = append(stalled, h.deliverLocal(clients, data)...)
	}
	h.mu.RUnlock()
	h.dropStalled(stalled)

	if h.rdb != nil {
		payload := map[string]interface{}{
			"target_user_id": "*", // wildcard for broadcast
			"message":        data,
		}
		jsonPayload, _ := json.Marshal(payload)
		h.rdb.Publish(context.Background(), "cluster_events", jsonPayload)
	}
}

// subscribeToRedis delivers events published by sibling instances to
// locally connected clients. Every instance subscribes to the shared
// channel and filters by target user.
func (h *Hub) subscribeToRedis() {
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, "cluster_events")
	defer pubsub.Close()

	ch := pubsub.Channel()

	for msg := range ch {
		var payload struct {
			TargetUserID string          `json:"target_user_id"`
			Message      json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Printf("Redis msg parse error: %v", err)
			continue
		}

		if payload.TargetUserID == "*" {
			h.mu.RLock()
			var stalled []*Client
			for _, clients := range h.clients {
				stalled = append(stalled, h.deliverLocal(clients, payload.Message)...)
			}
			h.mu.RUnlock()
			h.dropStalled(stalled)
			continue
		}

		uid, err := uuid.Parse(payload.TargetUserID)
		if err != nil {
			continue
		}

		h.mu.RLock()
		stalled := h.deliverLocal(h.clients[uid], payload.Message)
		h.mu.RUnlock()
		h.dropStalled(stalled)
	}
}
