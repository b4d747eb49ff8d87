package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

// SSE event types pushed to connected clients. Frontends key their reload
// behavior on these names, so they are part of the API contract.
const (
	EventRefreshSource           = "REFRESH_SOURCE"
	EventRefreshFollowupRequests = "REFRESH_FOLLOWUP_REQUESTS"
	EventShowNotification        = "SHOW_NOTIFICATION"
)

const (
	// sseSendTimeout bounds how long a broadcast waits on one client
	// before treating it as stalled and dropping it.
	sseSendTimeout = 3 * time.Second

	sseHeartbeatInterval = 30 * time.Second
	sseClientBuffer      = 16

	sseEndpoint = "/api/v2/events/stream"
)

// SSEEvent is one message on the event stream.
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// sseClient is one connected event stream consumer.
type sseClient struct {
	id        string
	userID    uint
	events    chan SSEEvent
	done      chan struct{}
	connected time.Time
}

// SSEManager tracks connected event stream clients and fans events out to
// them. Safe for concurrent use.
type SSEManager struct {
	mu      sync.RWMutex
	clients map[string]*sseClient
	logger  *slog.Logger
	metrics *metrics.HTTPMetrics
	closed  bool
}

// NewSSEManager returns an empty manager.
func NewSSEManager(logger *slog.Logger, m *metrics.HTTPMetrics) *SSEManager {
	return &SSEManager{
		clients: make(map[string]*sseClient),
		logger:  logger,
		metrics: m,
	}
}

func (m *SSEManager) addClient(userID uint) *sseClient {
	client := &sseClient{
		id:        uuid.NewString(),
		userID:    userID,
		events:    make(chan SSEEvent, sseClientBuffer),
		done:      make(chan struct{}),
		connected: time.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(client.done)
		return client
	}
	m.clients[client.id] = client
	count := len(m.clients)
	m.mu.Unlock()

	m.logger.Debug("SSE client connected", "client", client.id, "total", count)
	if m.metrics != nil {
		m.metrics.SSEConnectionStarted(sseEndpoint)
	}
	return client
}

func (m *SSEManager) removeClient(id, reason string) {
	m.mu.Lock()
	client, ok := m.clients[id]
	if ok {
		delete(m.clients, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	select {
	case <-client.done:
	default:
		close(client.done)
	}

	m.logger.Debug("SSE client disconnected", "client", id, "reason", reason)
	if m.metrics != nil {
		m.metrics.SSEConnectionClosed(sseEndpoint, time.Since(client.connected).Seconds(), reason)
	}
}

// Broadcast sends the event to every connected client. Targeted events
// (userID != 0) reach only that user's connections. Clients that cannot
// accept the event within the send timeout are dropped.
func (m *SSEManager) Broadcast(event SSEEvent, userID uint) {
	m.mu.RLock()
	targets := make([]*sseClient, 0, len(m.clients))
	for _, client := range m.clients {
		if userID != 0 && client.userID != userID {
			continue
		}
		targets = append(targets, client)
	}
	m.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.events <- event:
			if m.metrics != nil {
				m.metrics.RecordSSEMessageSent(sseEndpoint, event.Type)
			}
		case <-client.done:
		case <-time.After(sseSendTimeout):
			m.logger.Warn("SSE client stalled, dropping", "client", client.id, "event", event.Type)
			if m.metrics != nil {
				m.metrics.RecordSSEError(sseEndpoint, "send_timeout")
			}
			m.removeClient(client.id, "send_timeout")
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *SSEManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Close disconnects every client and rejects new connections.
func (m *SSEManager) Close() {
	m.mu.Lock()
	m.closed = true
	clients := make([]*sseClient, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clients = make(map[string]*sseClient)
	m.mu.Unlock()

	for _, client := range clients {
		select {
		case <-client.done:
		default:
			close(client.done)
		}
	}
}

func (c *Controller) initEventRoutes() {
	c.Group.GET("/events/stream", c.StreamEvents, c.AuthMiddleware)
}

// StreamEvents handles GET /api/v2/events/stream. It holds the connection
// open, forwarding broadcast events and periodic heartbeats until the
// client disconnects.
func (c *Controller) StreamEvents(ctx echo.Context) error {
	actor := Actor(ctx)
	if actor == nil {
		return ctx.JSON(http.StatusUnauthorized,
			NewErrorResponse(nil, "authentication required", http.StatusUnauthorized))
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	client := c.sse.addClient(actor.User.ID)
	defer c.sse.removeClient(client.id, "disconnect")

	if err := sendSSEMessage(res, "connected", map[string]string{"clientId": client.id}); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	reqCtx := ctx.Request().Context()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-client.done:
			return nil
		case event := <-client.events:
			if err := sendSSEMessage(res, event.Type, event.Data); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if err := sendSSEMessage(res, "heartbeat", map[string]int64{"ts": time.Now().Unix()}); err != nil {
				return nil
			}
		}
	}
}

// sendSSEMessage writes one event in SSE wire format and flushes it.
func sendSSEMessage(res *echo.Response, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	res.Flush()
	return nil
}
