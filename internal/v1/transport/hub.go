// Package transport owns the WebSocket surface of the signaling server: the
// upgrade path, per-connection read/write pumps, and the dispatcher that
// turns inbound envelopes into registry operations and fan-outs.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/internal/v1/logging"
	"github.com/huddlehq/huddle/internal/v1/metrics"
	"github.com/huddlehq/huddle/internal/v1/protocol"
	"github.com/huddlehq/huddle/internal/v1/ratelimit"
	"github.com/huddlehq/huddle/internal/v1/registry"
)

// Hub accepts signaling connections and routes their messages. Room state
// lives exclusively in the registry; the hub only maps connection ids to
// sockets so admissions and rejections can reach the right client.
type Hub struct {
	registry       *registry.Registry
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string

	mu      sync.Mutex
	clients map[string]*Client // connection id -> client, all open sockets
}

// NewHub wires the hub to its registry and rate limiter. allowedOrigins
// follows the CORS list; a "*" entry admits any browser origin.
func NewHub(reg *registry.Registry, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	return &Hub{
		registry:       reg,
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
		clients:        make(map[string]*Client),
	}
}

// ServeWs rate-limits, validates the origin, upgrades the connection and
// starts the message pumps. The socket starts unbound; a join envelope
// attaches it to a room.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	client := newClient(h, conn)
	h.addClient(client)
	metrics.IncConnection()

	logging.Info(c.Request.Context(), "Client connected",
		zap.String("clientId", client.id),
		zap.String("remoteAddr", c.ClientIP()))

	go client.writePump()
	go client.readPump()
}

// upgradeWebSocket performs the protocol upgrade with origin re-checked at
// the handshake layer.
func (h *Hub) upgradeWebSocket(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// validateOrigin checks if the request origin is in the allowed list.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil // Allow non-browser clients (e.g., for testing)
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			return nil
		}
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

func (h *Hub) lookupClient(id string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	return c, ok
}

// handleDisconnect runs once per socket when its readPump exits. Both the
// waiting and participant removals are attempted because the recorded state
// can lag a concurrent admit; each is a no-op when the binding moved on.
func (h *Hub) handleDisconnect(c *Client) {
	_, roomID := c.binding()
	h.removeClient(c)
	c.Close()

	if roomID == "" {
		logging.GetLogger().Debug("Unbound client disconnected", zap.String("clientId", c.id))
		return
	}

	if _, ok := h.registry.RejectFromWaitingRoom(roomID, c.id); ok {
		logging.Info(context.Background(), "Waiting candidate disconnected",
			zap.String("roomId", roomID), zap.String("clientId", c.id))
	}

	if result, ok := h.registry.RemoveParticipant(roomID, c.id); ok {
		h.announceDeparture(roomID, c.id, result)
	}

	c.clearBinding()
}

// announceDeparture broadcasts the participant-left and, when the host
// changed hands, the promotion state of the survivor.
func (h *Hub) announceDeparture(roomID, leaverID string, result registry.RemovalResult) {
	if result.RoomDeleted {
		return
	}

	left := protocol.MustEncode(protocol.NewParticipantLeft(roomID, leaverID))
	h.registry.Broadcast(roomID, left, leaverID)

	if p := result.Promoted; p != nil {
		promoted := protocol.MustEncode(protocol.NewParticipantUpdated(
			roomID, p.ID, p.IsMuted, p.IsVideoOff, p.IsHandRaised, p.IsModerator))
		h.registry.Broadcast(roomID, promoted, "")
	}
}

// Shutdown notifies every connected client and closes their sockets. Queued
// frames drain before the close frames go out.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub - closing all client connections...")

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_, roomID := c.binding()
		c.Send(protocol.MustEncode(protocol.NewError(roomID, "", "Server shutting down", "")))
		c.Close()
	}

	logging.Info(ctx, "All connections closed", zap.Int("count", len(clients)))
	return nil
}
