// Package realtime pushes change events to connected buyers and sellers over websockets.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/events"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/httpx"
)

const (
	defaultSendBuffer   = 32
	defaultWriteTimeout = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = (pongWait * 9) / 10
	tokenQueryParam     = "access_token"
)

// IdentityVerifier turns a raw Firebase ID token into an identity.
type IdentityVerifier interface {
	Authenticate(ctx context.Context, rawToken string) (*auth.Identity, error)
}

// Source feeds events published by other replicas into the hub.
type Source interface {
	Subscribe(ctx context.Context, deliver func(domain.OutboxEvent), onError func(error)) error
}

// Config wires a Hub.
type Config struct {
	Verifier       IdentityVerifier
	AllowedOrigins []string
	SendBuffer     int
	WriteTimeout   time.Duration
	Logger         *zap.Logger
}

// Hub tracks open connections and delivers each event to the connections whose identity is in
// the event's audience. A connection that cannot keep up is dropped; clients reconnect and refetch.
type Hub struct {
	verifier     IdentityVerifier
	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	actors []domain.Actor
	send   chan []byte
	once   sync.Once
	done   chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) wants(event domain.OutboxEvent) bool {
	for _, actor := range c.actors {
		if event.Audience(actor) {
			return true
		}
	}
	return false
}

// NewHub validates the configuration.
func NewHub(cfg Config) (*Hub, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("realtime: identity verifier is required")
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins[strings.ToLower(origin)] = struct{}{}
		}
	}
	return &Hub{
		verifier: cfg.Verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := strings.ToLower(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				if !ok {
					_, ok = origins["*"]
				}
				return ok
			},
		},
		sendBuffer:   buffer,
		writeTimeout: writeTimeout,
		logger:       logger,
		clients:      make(map[*client]struct{}),
	}, nil
}

// Name implements events.Sink.
func (h *Hub) Name() string { return "hub" }

// Publish implements events.Sink by delivering to local connections. It never fails: a slow
// connection is dropped rather than holding up the relay.
func (h *Hub) Publish(_ context.Context, event domain.OutboxEvent) error {
	h.Broadcast(event)
	return nil
}

// Broadcast encodes event once and queues it on every interested connection.
func (h *Hub) Broadcast(event domain.OutboxEvent) {
	data, err := events.Encode(event)
	if err != nil {
		h.logger.Warn("realtime: encode event", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Info("realtime: dropping slow connection", zap.String("event_id", event.ID))
		h.unregister(c)
	}
}

// Run feeds events from source into the hub until ctx ends.
func (h *Hub) Run(ctx context.Context, source Source) error {
	if source == nil {
		<-ctx.Done()
		return nil
	}
	err := source.Subscribe(ctx, h.Broadcast, func(err error) {
		h.logger.Warn("realtime: undecodable event", zap.Error(err))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ClientCount reports the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// ServeHTTP authenticates the request and upgrades it to a websocket. The token comes from the
// Authorization header or, for browsers, the access_token query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := bearerToken(r)
	identity, err := h.verifier.Authenticate(ctx, token)
	if err != nil || identity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "a valid firebase id token is required", http.StatusUnauthorized))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("realtime: upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		actors: identity.Actors(),
		send:   make(chan []byte, h.sendBuffer),
		done:   make(chan struct{}),
	}
	h.register(c)
	h.logger.Debug("realtime: connected", zap.String("uid", identity.UID))

	go h.readLoop(conn, c)
	h.writeLoop(conn, c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop only services control frames; clients never send data on this channel.
func (h *Hub) readLoop(conn *websocket.Conn, c *client) {
	defer h.unregister(c)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unregister(c)
		_ = conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(h.writeTimeout))
			return
		case data := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("realtime: write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get(tokenQueryParam))
}
