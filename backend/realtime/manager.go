// Package realtime is the WebSocket fan-out layer: it authenticates
// connections, tracks presence and topic subscriptions in the shared bus,
// enforces per-IP/per-connection rate limits, and broadcasts execution and
// risk events to every subscribed client across all process instances.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/alexherrero/sherwood/backend/auth"
	"github.com/alexherrero/sherwood/backend/bus"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 90 * time.Second
	tokenRevalidation = 5 * time.Minute
)

// Application-defined WebSocket close codes (the 4000-4999 range is
// reserved for private use by RFC 6455).
const (
	closeUnauthorized   = 4001 // bad topic; a missing or invalid token gets HTTP 401 before the upgrade
	closeRateLimit      = 4002 // connection/message/subscription rate exceeded
	closeSessionRevoked = 4003 // periodic revalidation failed
)

// Message is the envelope every inbound/outbound frame uses.
type Message struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type connection struct {
	id       string
	userID   string
	conn     *websocket.Conn
	send     chan Message
	topics   map[string]bool
	mu       sync.Mutex
	lastSeen time.Time
}

// Manager upgrades, authenticates, and multiplexes WebSocket connections.
// Presence and subscriptions are mirrored into bus.Client so a broadcast
// issued from any process instance reaches every connection, regardless of
// which instance accepted it.
type Manager struct {
	verifier *auth.Verifier
	bus      *bus.Client
	limiter  *bus.SlidingWindowLimiter
	log      zerolog.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*connection
}

// NewManager builds a Manager.
func NewManager(verifier *auth.Verifier, busClient *bus.Client, limiter *bus.SlidingWindowLimiter, log zerolog.Logger) *Manager {
	return &Manager{
		verifier: verifier,
		bus:      busClient,
		limiter:  limiter,
		log:      log,
		conns:    make(map[string]*connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket authenticates the connection (token query parameter),
// upgrades, and begins the per-connection read/write pumps.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ip := clientIP(r)
	if m.limiter != nil {
		allowed, err := m.limiter.AllowConnection(ctx, ip)
		if err != nil {
			m.log.Error().Err(err).Msg("connection rate limit check failed")
		} else if !allowed {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	token := r.URL.Query().Get("token")
	claims, err := m.verifier.Verify(ctx, token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !auth.MatchesFingerprint(r, claims.FingerprintHash) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &connection{
		id:       uuid.New().String(),
		userID:   claims.Subject,
		conn:     wsConn,
		send:     make(chan Message, 32),
		topics:   make(map[string]bool),
		lastSeen: time.Now(),
	}

	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()

	presence, _ := json.Marshal(map[string]interface{}{
		"connection_id": c.id,
		"user_id":       c.userID,
		"connected_at":  time.Now(),
	})
	if err := m.bus.SavePresence(ctx, c.id, c.userID, presence, heartbeatTimeout); err != nil {
		m.log.Warn().Err(err).Msg("failed to record connection presence")
	}

	go m.writePump(c)
	m.readPump(ctx, c, claims.ExpiresAt.Time, claims.FingerprintHash)
}

// closeCode sends a close frame carrying code/text, then closes the
// underlying connection. Used for every server-initiated disconnect so
// clients see the spec-mandated close codes instead of a bare reset.
func (m *Manager) closeCode(c *connection, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	c.conn.Close()
}

func (m *Manager) readPump(ctx context.Context, c *connection, tokenExpiry time.Time, fingerprintHash string) {
	defer m.disconnect(c)

	watchdog := time.NewTicker(heartbeatInterval)
	defer watchdog.Stop()
	revalidate := time.NewTicker(tokenRevalidation)
	defer revalidate.Stop()

	go func() {
		for {
			select {
			case <-watchdog.C:
				c.mu.Lock()
				stale := time.Since(c.lastSeen) > heartbeatTimeout
				c.mu.Unlock()
				if stale {
					m.closeCode(c, websocket.CloseGoingAway, "idle: presence lost")
					return
				}
			case <-revalidate.C:
				if time.Now().After(tokenExpiry) {
					m.closeCode(c, closeSessionRevoked, "session revoked: token expired")
					return
				}
			}
		}
	}()

	for {
		var msg struct {
			Type  string `json:"type"`
			Topic string `json:"topic"`
		}
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		c.mu.Lock()
		c.lastSeen = time.Now()
		c.mu.Unlock()

		if m.limiter != nil {
			allowed, err := m.limiter.AllowMessage(ctx, c.id)
			if err == nil && !allowed {
				m.closeCode(c, closeRateLimit, "message rate limit exceeded")
				return
			}
		}

		switch msg.Type {
		case "subscribe":
			if !Authorized(msg.Topic, c.userID) {
				m.closeCode(c, closeUnauthorized, "unauthorized topic")
				return
			}
			if m.limiter != nil {
				allowed, err := m.limiter.AllowSubscription(ctx, c.userID)
				if err == nil && !allowed {
					m.closeCode(c, closeRateLimit, "subscription rate limit exceeded")
					return
				}
			}
			c.mu.Lock()
			c.topics[msg.Topic] = true
			c.mu.Unlock()
			_ = m.bus.AddSubscription(ctx, c.userID, msg.Topic)
		case "unsubscribe":
			c.mu.Lock()
			delete(c.topics, msg.Topic)
			c.mu.Unlock()
			_ = m.bus.RemoveSubscription(ctx, c.userID, msg.Topic)
		case "ping":
			c.send <- Message{Type: "pong", Timestamp: time.Now()}
		}
	}
}

func (m *Manager) writePump(c *connection) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (m *Manager) disconnect(c *connection) {
	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()
	close(c.send)
	c.conn.Close()
	_ = m.bus.DropPresence(context.Background(), c.id, c.userID)
}

// Broadcast publishes payload under topic to the shared bus. Every process
// instance, including this one, receives it back through its own
// RelayRemote listener and delivers it only to the locally-held
// connections subscribed to topic — so Broadcast never touches local
// connections directly, avoiding a double delivery on this instance.
func (m *Manager) Broadcast(ctx context.Context, topic string, payload interface{}) {
	msg := Message{Type: "event", Topic: topic, Timestamp: time.Now(), Payload: payload}
	raw, err := json.Marshal(msg)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to marshal broadcast payload")
		return
	}
	if err := m.bus.Publish(ctx, topic, raw); err != nil {
		m.log.Error().Err(err).Str("topic", topic).Msg("failed to publish broadcast")
	}
}

func (m *Manager) broadcastLocal(topic string, payload interface{}) {
	msg := Message{Type: "event", Topic: topic, Timestamp: time.Now(), Payload: payload}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conns {
		c.mu.Lock()
		subscribed := c.topics[topic]
		c.mu.Unlock()
		if !subscribed {
			continue
		}
		select {
		case c.send <- msg:
		default:
			m.log.Warn().Str("connection_id", c.id).Msg("send buffer full, dropping broadcast")
		}
	}
}

// RelayRemote subscribes once to every broadcast channel on the shared bus
// and forwards each message to this instance's locally-held connections.
// Run it exactly once per Manager, in its own goroutine, for the process
// lifetime; it exits when ctx is canceled. Because the subscription is
// pattern-based (`ws:broadcast:*`) rather than per-topic, one instance's
// Broadcast call reaches every other instance's locally-owned sockets
// regardless of which topics this instance's own connections subscribed to.
func (m *Manager) RelayRemote(ctx context.Context) {
	pubsub := m.bus.SubscribeAll(ctx)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var envelope Message
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				continue
			}
			m.broadcastLocal(envelope.Topic, envelope.Payload)
		}
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
