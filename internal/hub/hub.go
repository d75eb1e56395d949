package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is the envelope written to clients.
type Event struct {
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
}

// Hub maps players to their live connection and games to their subscribers.
// The lobby is every registered connection.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{}
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "hub"),
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// Register binds playerID to client. A previous connection of the same player
// is closed.
func (that *Hub) Register(playerID string, client *Client) {
	that.mu.Lock()
	previous, ok := that.clients[playerID]
	that.clients[playerID] = client
	that.mu.Unlock()

	if ok && previous != client {
		that.logger.Info("connection replaced", "playerID", playerID, "clientID", previous.ID)
		previous.Close()
	}
}

// Unregister removes the binding only if client is still the player's current
// connection, and reports whether it was.
func (that *Hub) Unregister(playerID string, client *Client) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.clients[playerID] != client {
		return false
	}

	delete(that.clients, playerID)

	return true
}

func (that *Hub) IsOnline(playerID string) bool {
	that.mu.RLock()
	defer that.mu.RUnlock()

	_, ok := that.clients[playerID]

	return ok
}

func (that *Hub) Subscribe(playerID, gameID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	room, ok := that.rooms[gameID]
	if !ok {
		room = make(map[string]struct{})
		that.rooms[gameID] = room
	}
	room[playerID] = struct{}{}
}

func (that *Hub) Unsubscribe(playerID, gameID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	room, ok := that.rooms[gameID]
	if !ok {
		return
	}

	delete(room, playerID)
	if len(room) == 0 {
		delete(that.rooms, gameID)
	}
}

func (that *Hub) SendToPlayer(playerID, event string, payload any) {
	message, ok := that.encode(event, payload)
	if !ok {
		return
	}

	that.mu.RLock()
	client, online := that.clients[playerID]
	that.mu.RUnlock()

	if online {
		that.deliver([]*Client{client}, message)
	}
}

func (that *Hub) SendToGame(gameID, event string, payload any) {
	message, ok := that.encode(event, payload)
	if !ok {
		return
	}

	that.mu.RLock()
	targets := make([]*Client, 0, len(that.rooms[gameID]))
	for playerID := range that.rooms[gameID] {
		if client, online := that.clients[playerID]; online {
			targets = append(targets, client)
		}
	}
	that.mu.RUnlock()

	that.deliver(targets, message)
}

func (that *Hub) SendToLobby(event string, payload any) {
	message, ok := that.encode(event, payload)
	if !ok {
		return
	}

	that.mu.RLock()
	targets := make([]*Client, 0, len(that.clients))
	for _, client := range that.clients {
		targets = append(targets, client)
	}
	that.mu.RUnlock()

	that.deliver(targets, message)
}

// deliver drops every client whose outbox is full.
func (that *Hub) deliver(targets []*Client, message []byte) {
	for _, client := range targets {
		if !client.Enqueue(message) {
			that.logger.Warn("dropping slow client", "clientID", client.ID)
			client.Close()
		}
	}
}

func (that *Hub) encode(event string, payload any) ([]byte, bool) {
	message, err := json.Marshal(Event{Action: event, Payload: payload})
	if err != nil {
		that.logger.Error("failed to marshal event", "event", event, "error", err)
		return nil, false
	}

	return message, true
}

// Reply queues an event for a single client that may not be registered yet.
func (that *Hub) Reply(client *Client, event string, payload any) {
	message, ok := that.encode(event, payload)
	if !ok {
		return
	}

	that.deliver([]*Client{client}, message)
}
