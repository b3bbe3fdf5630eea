// Package websocket pushes live bracket updates to clients watching a tournament.
// WebSockets are persistent two-way connections: once open, the server can send a
// message the moment a result is recorded instead of the app polling the bracket.
//
// The Hub owns every connection, grouped by tournament. A single goroutine (Run)
// owns the clients map; everything else talks to it over channels, so there are no
// locks around the map.
package websocket

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trentd187/puckdrop/internal/models"
)

// Client is one connected viewer of a tournament's bracket.
type Client struct {
	TournamentID uuid.UUID
	Send         chan []byte // Outgoing messages; closed by the Hub when the client is dropped
}

// NewClient makes a client with a small outgoing buffer.
func NewClient(tournamentID uuid.UUID) *Client {
	return &Client{TournamentID: tournamentID, Send: make(chan []byte, 32)}
}

// Message is one payload for everyone watching a tournament.
type Message struct {
	TournamentID uuid.UUID
	Data         []byte
}

type Hub struct {
	// tournament ID -> set of clients
	clients map[uuid.UUID]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{} // Closed when Run returns, so senders never block on a dead hub

	log *zap.Logger
}

// NewHub creates a Hub. The broadcast channel is buffered so a burst of bracket
// changes does not block the request that caused them.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		log:        log.With(zap.String("component", "live")),
	}
}

// Run is the Hub's event loop; start it with "go hub.Run(ctx)". When ctx is done
// every client is dropped and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.Send)
				}
			}
			h.clients = map[uuid.UUID]map[*Client]bool{}
			return

		case c := <-h.register:
			if h.clients[c.TournamentID] == nil {
				h.clients[c.TournamentID] = make(map[*Client]bool)
			}
			h.clients[c.TournamentID][c] = true

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients[msg.TournamentID] {
				select {
				case c.Send <- msg.Data:
				default:
					// Too slow to keep up: drop it rather than stall everyone else.
					h.log.Debug("dropping slow client", zap.String("tournament_id", msg.TournamentID.String()))
					h.drop(c)
				}
			}
		}
	}
}

// drop must only be called from Run.
func (h *Hub) drop(c *Client) {
	set, ok := h.clients[c.TournamentID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.Send)
	if len(set) == 0 {
		delete(h.clients, c.TournamentID)
	}
}

// Broadcast sends data to everyone watching the tournament.
func (h *Hub) Broadcast(tournamentID uuid.UUID, data []byte) {
	select {
	case h.broadcast <- &Message{TournamentID: tournamentID, Data: data}:
	case <-h.stopped:
	}
}

// Register starts sending the tournament's updates to c. It reports false once the
// hub has shut down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Update is the envelope every live message is wrapped in.
type Update struct {
	Type  string        `json:"type"`
	Match *MatchPayload `json:"match,omitempty"`
}

// MatchesChanged broadcasts one "match_updated" message per match. It lets the Hub
// stand in for services.MatchPublisher.
func (h *Hub) MatchesChanged(tournamentID uuid.UUID, matches []models.Match) {
	for _, m := range matches {
		data, err := json.Marshal(Update{Type: "match_updated", Match: NewMatchPayload(m)})
		if err != nil {
			h.log.Error("encode match update", zap.Error(err))
			continue
		}
		h.Broadcast(tournamentID, data)
	}
}
