// internal/realtime/client.go
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/27willir/Botifex-sub002/internal/token"
)

// Client frame types: the closed protocol vocabulary. Anything else gets an
// error frame back.
const (
	frameJoin        = "join"
	frameLeave       = "leave"
	frameTyping      = "typing"
	frameSendMessage = "send_message"
	framePing        = "ping"
)

// Server frame types.
const (
	framePresenceSnapshot = "presence_snapshot"
	framePresenceDelta    = "presence_delta"
	frameTypingUpdate     = "typing_update"
	frameMessage          = "message"
	frameSlowModeRejected = "slow_mode_rejected"
	frameError            = "error"
	framePong             = "pong"
)

type clientFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type serverFrame struct {
	Type      string                 `json:"type"`
	Channel   string                 `json:"channel,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Client représente une connexion WebSocket authentifiée: une Session au
// sens du protocole, détenue exclusivement par le gateway qui l'a acceptée.
type Client struct {
	SessionID string

	gateway *Gateway
	conn    *websocket.Conn
	claims  *token.Claims
	send    chan []byte
	done    chan struct{}

	mu       sync.Mutex
	channels map[string]func() // joined channel -> bus unsubscribe

	closeOnce   sync.Once
	expiryTimer *time.Timer
}

func newClient(g *Gateway, conn *websocket.Conn, claims *token.Claims) *Client {
	return &Client{
		SessionID: newSessionID(),
		gateway:   g,
		conn:      conn,
		claims:    claims,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		channels:  make(map[string]func()),
	}
}

// armExpiry schedules the proactive disconnect at the token's expiry, so the
// client gets a clean TOKEN_EXPIRED signal instead of a failing request.
func (c *Client) armExpiry() {
	if c.claims.ExpiresAt == nil {
		return
	}
	until := time.Until(c.claims.ExpiresAt.Time)
	if until <= 0 {
		c.disconnect(ReasonTokenExpired)
		return
	}
	c.mu.Lock()
	c.expiryTimer = time.AfterFunc(until, func() {
		c.disconnect(ReasonTokenExpired)
	})
	c.mu.Unlock()
}

// Send queues a frame for delivery; a saturated client is dropped rather
// than allowed to block the fan-out path.
func (c *Client) Send(frame *serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.gateway.logger.Error("Failed to marshal frame", "type", frame.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.gateway.logger.Warn("Dropping slow client", "session_id", c.SessionID)
		c.disconnect("")
	}
}

func (c *Client) sendError(channel, message string) {
	c.Send(&serverFrame{
		Type:      frameError,
		Channel:   channel,
		Data:      map[string]interface{}{"error": message},
		Timestamp: time.Now(),
	})
}

// disconnect sends a close frame carrying the reason (when set) and tears
// the connection down. WriteControl is safe alongside the write pump.
// Cleanup of presence and subscriptions happens in teardown, via the
// gateway's unregister path.
func (c *Client) disconnect(reason string) {
	c.closeOnce.Do(func() {
		if reason != "" {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		}
		close(c.done)
		c.conn.Close()
	})
}

// readPump gère la lecture des messages WebSocket
func (c *Client) readPump() {
	defer func() {
		c.disconnect("")
		select {
		case c.gateway.unregister <- c:
		case <-c.gateway.done:
		}
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.logger.Error("WebSocket error", "session_id", c.SessionID, "error", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

// writePump gère l'écriture des messages WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// heartbeatLoop refreshes presence for every joined channel at half the
// presence TTL, so entries stay live while the connection does.
func (c *Client) heartbeatLoop() {
	interval := c.gateway.presence.TTL() / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, channelID := range c.joinedChannels() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := c.gateway.presence.Heartbeat(ctx, channelID, c.claims.UserID, c.SessionID); err != nil {
					c.gateway.logger.Error("Heartbeat failed", "channel", channelID, "session_id", c.SessionID, "error", err)
				}
				cancel()
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) joinedChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := make([]string, 0, len(c.channels))
	for channelID := range c.channels {
		channels = append(channels, channelID)
	}
	return channels
}

func (c *Client) handleFrame(data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError("", "invalid frame format")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch frame.Type {
	case frameJoin:
		c.handleJoin(ctx, frame.Channel)
	case frameLeave:
		c.handleLeave(ctx, frame.Channel)
	case frameTyping:
		c.handleTyping(ctx, frame.Channel)
	case frameSendMessage:
		c.handleSendMessage(ctx, frame.Channel, frame.Payload)
	case framePing:
		c.Send(&serverFrame{Type: framePong, Timestamp: time.Now()})
	default:
		c.sendError(frame.Channel, "unknown frame type: "+frame.Type)
	}
}

// handleJoin runs the capability check, registers presence, subscribes the
// session to the channel's events and seeds it with the current presence
// snapshot and typing aggregate.
func (c *Client) handleJoin(ctx context.Context, channelID string) {
	if channelID == "" {
		c.sendError("", "channel required")
		return
	}

	// Capability check: la connexion reste ouverte pour les autres channels
	if !c.claims.CanJoin(channelID) {
		c.sendError(channelID, "FORBIDDEN_CHANNEL")
		return
	}

	c.mu.Lock()
	_, already := c.channels[channelID]
	c.mu.Unlock()
	if already {
		c.sendSeed(ctx, channelID) // idempotent re-join: just refresh the view
		return
	}

	unsubscribe, err := c.gateway.bus.Subscribe(ctx, channelID, c.forwardEvent)
	if err != nil {
		c.gateway.logger.Error("Failed to subscribe to channel", "channel", channelID, "error", err)
		c.sendError(channelID, "subscription failed")
		return
	}

	if err := c.gateway.presence.Join(ctx, channelID, c.claims.UserID, c.SessionID); err != nil {
		unsubscribe()
		c.gateway.logger.Error("Failed to join presence", "channel", channelID, "error", err)
		c.sendError(channelID, "join failed")
		return
	}

	c.mu.Lock()
	c.channels[channelID] = unsubscribe
	c.mu.Unlock()

	c.sendSeed(ctx, channelID)

	c.gateway.logger.Info("Client joined channel",
		"session_id", c.SessionID,
		"user_id", c.claims.UserID,
		"channel", channelID)
}

// sendSeed gives a subscriber its correct initial state.
func (c *Client) sendSeed(ctx context.Context, channelID string) {
	if snapshot, err := c.gateway.presence.Snapshot(ctx, channelID); err == nil {
		c.Send(&serverFrame{
			Type:      framePresenceSnapshot,
			Channel:   channelID,
			Data:      map[string]interface{}{"user_ids": snapshot},
			Timestamp: time.Now(),
		})
	} else {
		c.gateway.logger.Error("Failed to load presence snapshot", "channel", channelID, "error", err)
	}

	if typing, err := c.gateway.typing.Aggregate(ctx, channelID); err == nil {
		c.Send(&serverFrame{
			Type:      frameTypingUpdate,
			Channel:   channelID,
			Data:      map[string]interface{}{"user_ids": typing},
			Timestamp: time.Now(),
		})
	}
}

func (c *Client) handleLeave(ctx context.Context, channelID string) {
	c.mu.Lock()
	unsubscribe, ok := c.channels[channelID]
	if ok {
		delete(c.channels, channelID)
	}
	c.mu.Unlock()

	if !ok {
		return // leaving a channel never joined is a no-op
	}

	unsubscribe()
	if err := c.gateway.presence.Leave(ctx, channelID, c.claims.UserID, c.SessionID); err != nil {
		c.gateway.logger.Error("Failed to leave presence", "channel", channelID, "error", err)
	}
}

func (c *Client) handleTyping(ctx context.Context, channelID string) {
	if !c.isJoined(channelID) {
		c.sendError(channelID, "not joined")
		return
	}
	if err := c.gateway.typing.StartTyping(ctx, channelID, c.claims.UserID); err != nil {
		c.gateway.logger.Error("Failed to set typing marker", "channel", channelID, "error", err)
	}
}

// handleSendMessage is the admission control point: reserve before accept.
// A denial is an expected result pushed back to the sender, never an error.
func (c *Client) handleSendMessage(ctx context.Context, channelID string, payload json.RawMessage) {
	if !c.isJoined(channelID) {
		c.sendError(channelID, "not joined")
		return
	}

	decision, err := c.gateway.slowMode.Reserve(ctx, channelID, c.claims.UserID)
	if err != nil {
		c.gateway.logger.Error("Slow mode reservation failed", "channel", channelID, "error", err)
		c.sendError(channelID, "send failed")
		return
	}

	if !decision.Allowed {
		c.Send(&serverFrame{
			Type:      frameSlowModeRejected,
			Channel:   channelID,
			Data:      map[string]interface{}{"retry_after_seconds": decision.RetryAfterSeconds()},
			Timestamp: time.Now(),
		})
		return
	}

	msg := MessagePayload{UserID: c.claims.UserID, Body: payload}
	if err := c.gateway.bus.Publish(ctx, channelID, EventMessage, msg); err != nil {
		c.gateway.logger.Error("Failed to publish message event", "channel", channelID, "error", err)
		c.sendError(channelID, "send failed")
	}
}

func (c *Client) isJoined(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channelID]
	return ok
}

// forwardEvent traduit un événement du bus en frame client. Le switch est
// exhaustif sur les variantes connues; le bus filtre déjà le reste.
func (c *Client) forwardEvent(event Event) {
	switch event.Kind {
	case EventPresenceDelta:
		var delta PresenceDelta
		if err := json.Unmarshal(event.Payload, &delta); err != nil {
			return
		}
		c.Send(&serverFrame{
			Type:      framePresenceDelta,
			Channel:   event.Channel,
			Data:      map[string]interface{}{"user_id": delta.UserID, "action": delta.Action},
			Timestamp: event.Timestamp,
		})

	case EventTypingUpdate:
		var update TypingUpdate
		if err := json.Unmarshal(event.Payload, &update); err != nil {
			return
		}
		c.Send(&serverFrame{
			Type:      frameTypingUpdate,
			Channel:   event.Channel,
			Data:      map[string]interface{}{"user_ids": update.UserIDs},
			Timestamp: event.Timestamp,
		})

	case EventMessage:
		var msg MessagePayload
		if err := json.Unmarshal(event.Payload, &msg); err != nil {
			return
		}
		c.Send(&serverFrame{
			Type:      frameMessage,
			Channel:   event.Channel,
			Data:      map[string]interface{}{"user_id": msg.UserID, "body": msg.Body},
			Timestamp: event.Timestamp,
		})
	}
}

// teardown runs the best-effort cleanup on full disconnect: every joined
// channel is left and unsubscribed. Not required to be synchronous with the
// disconnect notice reaching the client.
func (c *Client) teardown() {
	c.mu.Lock()
	channels := c.channels
	c.channels = make(map[string]func())
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for channelID, unsubscribe := range channels {
		unsubscribe()
		if err := c.gateway.presence.Leave(ctx, channelID, c.claims.UserID, c.SessionID); err != nil {
			c.gateway.logger.Error("Cleanup leave failed", "channel", channelID, "session_id", c.SessionID, "error", err)
		}
	}
}
