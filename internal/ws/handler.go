// Package ws streams tracker events to WebSocket clients.
package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/HerbHall/apwatch/internal/auth"
	"github.com/HerbHall/apwatch/pkg/plugin"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// sendBuffer is the per-client queue length.
const sendBuffer = 256

// Handler provides the WebSocket endpoint for real-time tracker events.
type Handler struct {
	hub         *Hub
	logger      *zap.Logger
	unsubscribe func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to tracker events.
// Authentication is enforced by the server's auth middleware, which accepts
// the token in the access_token query parameter on /api/v1/ws/ paths.
func NewHandler(bus plugin.EventBus, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		logger: logger,
	}
	if bus != nil {
		h.unsubscribe = bus.SubscribeAll(h.forward)
		h.logger.Info("subscribed to tracker events for WebSocket broadcasting")
	}
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEventStream)
}

// Close stops forwarding bus events.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	return h.hub.ClientCount()
}

func (h *Handler) forward(_ context.Context, event plugin.Event) {
	if !strings.HasPrefix(event.Topic, "tracker.") {
		return
	}
	if msg, ok := messageFor(event.Topic, event.Timestamp, event.Payload); ok {
		h.hub.Broadcast(msg)
	}
}

// handleEventStream upgrades the connection and streams tracker events,
// optionally limited to one scope with ?scope=.
//
//	@Summary		Event stream
//	@Description	WebSocket stream of tracker events. Pass the token as access_token.
//	@Tags			events
//	@Param			scope			query	string	false	"Only events of this alias scope"
//	@Param			access_token	query	string	false	"Bearer token when auth is enabled"
//	@Success		101
//	@Router			/ws/events [get]
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	subject := "anonymous"
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browsers on other origins are allowed; the bearer token is the gate.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:    conn,
		subject: subject,
		scope:   r.URL.Query().Get("scope"),
		send:    make(chan Message, sendBuffer),
		logger:  h.logger,
	}
	h.hub.Register(client)

	// Run read and write pumps. When either exits, clean up.
	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		cancel()
		close(done)
	}()

	// readPump blocks until the client disconnects or the writer gives up.
	client.readPump(ctx)

	cancel()
	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}
