package realtime

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub is the process-wide connection registry, keyed by game ID. Empty
// entries are removed as the last connection for a game unregisters.
// Delivery is best-effort: a client whose buffer is full misses the
// message and reconciles from the store later.
type Hub struct {
	mu    sync.RWMutex
	games map[string]map[*Client]bool
}

// Client is one WebSocket connection attached to a game channel
type Client struct {
	hub    *Hub
	gameID string
	member Member
	conn   *websocket.Conn
	send   chan []byte
}

func NewHub() *Hub {
	return &Hub{
		games: make(map[string]map[*Client]bool),
	}
}

// NewClient wraps a websocket connection for a game channel. member
// identifies the participant in presence snapshots; a zero member attaches
// as an anonymous observer absent from presence.
func (h *Hub) NewClient(gameID string, member Member, conn *websocket.Conn) *Client {
	return &Client{
		hub:    h,
		gameID: gameID,
		member: member,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
}

// Register attaches a client and pushes a fresh presence snapshot to every
// connection on the game
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if h.games[client.gameID] == nil {
		h.games[client.gameID] = make(map[*Client]bool)
	}
	h.games[client.gameID][client] = true
	h.mu.Unlock()

	h.broadcastPresence(client.gameID)
}

// Unregister detaches a client, expiring the game's registry entry when it
// empties, and pushes a presence snapshot to whoever remains
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if clients, ok := h.games[client.gameID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
		}
		if len(clients) == 0 {
			delete(h.games, client.gameID)
		}
	}
	h.mu.Unlock()

	h.broadcastPresence(client.gameID)
}

// Presence returns the game's current presence set, one entry per user
// regardless of how many connections they hold, in stable order
func (h *Hub) Presence(gameID string) []Member {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presenceLocked(gameID)
}

func (h *Hub) presenceLocked(gameID string) []Member {
	seen := make(map[string]bool)
	var members []Member
	for client := range h.games[gameID] {
		if client.member.UserID == "" || seen[client.member.UserID] {
			continue
		}
		seen[client.member.UserID] = true
		members = append(members, client.member)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].UserID < members[j].UserID
	})
	return members
}

// Broadcast sends an event to every connection on a game
func (h *Hub) Broadcast(gameID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.games[gameID] {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// GameCount returns how many games currently have attached connections
func (h *Hub) GameCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.games)
}

func (h *Hub) broadcastPresence(gameID string) {
	h.mu.RLock()
	members := h.presenceLocked(gameID)
	h.mu.RUnlock()

	h.Broadcast(gameID, NewEvent(EventPresenceSync, PresenceSyncData{Members: members}))
}

// Send queues an event on this connection only
func (c *Client) Send(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) WritePump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Clients don't send application traffic over the socket; every
		// state change goes through the HTTP API so it can be validated
		// and persisted before anyone hears about it.
	}
}
