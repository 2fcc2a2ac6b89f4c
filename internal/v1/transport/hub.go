// Package transport owns the client boundary: WebSocket upgrades, the
// per-connection read/write pumps, and the router that dispatches each
// inbound event to the room registry.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/bus"
	"github.com/huddlekit/signaling/internal/v1/config"
	"github.com/huddlekit/signaling/internal/v1/logging"
	"github.com/huddlekit/signaling/internal/v1/metrics"
	"github.com/huddlekit/signaling/internal/v1/ratelimit"
	"github.com/huddlekit/signaling/internal/v1/registry"
)

// Hub accepts connections and wires them to the room registry. Rooms are
// created and joined through wire messages, not through the accept path; a
// freshly upgraded connection has no room binding.
type Hub struct {
	reg     *registry.Registry
	cfg     *config.Config
	limiter *ratelimit.RateLimiter
	bus     *bus.Service

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]context.CancelFunc // active bus subscriptions per room
}

// NewHub creates a Hub and registers itself for room-closed notifications so
// bus subscriptions die with their rooms.
func NewHub(reg *registry.Registry, cfg *config.Config, limiter *ratelimit.RateLimiter, busService *bus.Service) *Hub {
	h := &Hub{
		reg:     reg,
		cfg:     cfg,
		limiter: limiter,
		bus:     busService,
		subs:    make(map[string]context.CancelFunc),
	}

	allowedOrigins := cfg.Origins()
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	reg.SetRoomClosedHook(h.onRoomClosed)

	return h
}

// originAllowed checks an Origin header against the whitelist by scheme and
// host. An absent header (non-browser client) is allowed.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeWs upgrades an HTTP request to a WebSocket connection and starts the
// connection's pumps. The connection id is transport-assigned and doubles as
// the participant id for the connection's eventual room membership.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return // response already written
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection takes an established WebSocket connection and starts its
// pumps. Split from ServeWs so tests can drive mock connections.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	connID := uuid.New().String()
	client := newClient(h, conn, connID, h.cfg.PingInterval, h.cfg.PongTimeout)

	metrics.IncConnection()
	logging.Info(logging.WithConn(context.Background(), connID), "Client connected")

	go client.writePump()
	go client.readPump()

	return client
}

// handleDisconnect runs the departure path when a connection's reader exits.
// Safe to call for connections that never joined a room.
func (h *Hub) handleDisconnect(c *Client) {
	ctx := logging.WithConn(context.Background(), c.id)

	if c.roomCode == "" {
		logging.Debug(ctx, "Client disconnected without room membership")
		return
	}

	ctx = logging.WithRoom(ctx, c.roomCode)
	h.departRoom(ctx, c)
	logging.Info(ctx, "Client disconnected")
}

// onRoomClosed tears down the bus subscription for a deleted room.
func (h *Hub) onRoomClosed(code string) {
	h.mu.Lock()
	cancel, ok := h.subs[code]
	if ok {
		delete(h.subs, code)
	}
	h.mu.Unlock()

	if ok {
		cancel()
	}
}

// ensureSubscribed starts mirroring a room's broadcasts from other instances.
// No-op without a bus or when already subscribed.
func (h *Hub) ensureSubscribed(code string) {
	if h.bus == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[code]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.subs[code] = cancel

	h.bus.Subscribe(ctx, code, func(p bus.Payload) {
		// Frames from other instances are delivered verbatim. The sender's
		// own instance already delivered locally; skipping its conn id
		// suppresses any echo.
		for _, s := range h.reg.Recipients(p.RoomCode, p.SenderConnID) {
			s.Send(p.Data)
		}
	})
}

// Shutdown gracefully closes all rooms and connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub")

	count := h.reg.DrainAll("server shutting down")

	h.mu.Lock()
	for code, cancel := range h.subs {
		cancel()
		delete(h.subs, code)
	}
	h.mu.Unlock()

	logging.Info(ctx, "All rooms closed", zap.Int("count", count))
	return nil
}
