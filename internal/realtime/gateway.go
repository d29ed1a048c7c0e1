// internal/realtime/gateway.go
package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/27willir/Botifex-sub002/internal/token"
)

// Disconnect reasons sent to clients so they know whether to reauthenticate.
const (
	ReasonTokenExpired   = "TOKEN_EXPIRED"
	ReasonServerShutdown = "SERVER_SHUTDOWN"
)

// Gateway gère toutes les connexions poussées d'un worker et compose
// présence, typing, slow-mode et bus d'événements dans le protocole visible
// des clients. Le registre de connexions est propriété de l'instance, jamais
// global.
type Gateway struct {
	tokens   *token.Service
	presence *PresenceTracker
	typing   *TypingCoordinator
	slowMode *SlowModeController
	bus      *Bus
	workerID string
	logger   Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	upgrader websocket.Upgrader
	mu       sync.RWMutex
}

func NewGateway(tokens *token.Service, presence *PresenceTracker, typing *TypingCoordinator,
	slowMode *SlowModeController, bus *Bus, workerID string, logger Logger) *Gateway {

	return &Gateway{
		tokens:     tokens,
		presence:   presence,
		typing:     typing,
		slowMode:   slowMode,
		bus:        bus,
		workerID:   workerID,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // En production, vérifier l'origine
			},
		},
	}
}

// Run démarre la boucle principale du gateway
func (g *Gateway) Run() {
	for {
		select {
		case client := <-g.register:
			g.handleRegister(client)

		case client := <-g.unregister:
			g.handleUnregister(client)

		case <-g.done:
			return
		}
	}
}

func (g *Gateway) handleRegister(client *Client) {
	g.mu.Lock()
	g.clients[client] = true
	total := len(g.clients)
	g.mu.Unlock()

	g.logger.Info("Client connected",
		"session_id", client.SessionID,
		"user_id", client.claims.UserID,
		"total_clients", total)
}

func (g *Gateway) handleUnregister(client *Client) {
	g.mu.Lock()
	_, exists := g.clients[client]
	if exists {
		delete(g.clients, client)
	}
	total := len(g.clients)
	g.mu.Unlock()

	if !exists {
		return
	}

	client.teardown()

	g.logger.Info("Client disconnected",
		"session_id", client.SessionID,
		"total_clients", total)
}

// HandleConnection upgrades the HTTP request and runs the handshake: no
// channel operation is accepted before token verification succeeds. A bad
// token closes the connection with the specific auth error as close reason;
// the core never retries; the client must reconnect with a fresh token.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	claims, err := g.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		g.logger.Info("Handshake rejected", "reason", authReason(err), "remote", r.RemoteAddr)
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, authReason(err))
		conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	client := newClient(g, conn, claims)

	select {
	case g.register <- client:
	case <-g.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
	go client.heartbeatLoop()
	client.armExpiry()
}

// ClientCount returns the number of connected clients on this worker.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Shutdown disconnects every client with a SERVER_SHUTDOWN notice and stops
// the gateway loop.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	clients := make([]*Client, 0, len(g.clients))
	for client := range g.clients {
		clients = append(clients, client)
	}
	g.mu.RUnlock()

	for _, client := range clients {
		client.disconnect(ReasonServerShutdown)
		client.teardown()
	}

	close(g.done)
}

func authReason(err error) string {
	switch err {
	case token.ErrMissingToken:
		return "MISSING_TOKEN"
	case token.ErrExpiredToken:
		return "EXPIRED_TOKEN"
	case token.ErrAudienceMismatch:
		return "AUDIENCE_MISMATCH"
	default:
		return "INVALID_SIGNATURE"
	}
}

func newSessionID() string {
	return uuid.NewString()
}
