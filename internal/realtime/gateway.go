package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lirancohen/workhub/internal/config"
)

// Membership answers subscribe authorization questions.
type Membership interface {
	IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error)
	IsProjectMember(ctx context.Context, userID, projectID string) (bool, error)
}

// Gateway upgrades HTTP requests to authenticated realtime connections.
type Gateway struct {
	registry  *Registry
	validator TokenValidator
	members   Membership
	cfg       config.RealtimeConfig
	upgrader  websocket.Upgrader
	log       zerolog.Logger
	metrics   *Metrics

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// NewGateway wires a gateway. metrics may be nil.
func NewGateway(registry *Registry, validator TokenValidator, members Membership, cfg config.RealtimeConfig, logger zerolog.Logger, metrics *Metrics) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		registry:  registry,
		validator: validator,
		members:   members,
		cfg:       cfg,
		log:       logger.With().Str("component", "gateway").Logger(),
		metrics:   metrics,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (g *Gateway) limits() connLimits {
	return connLimits{
		writeTimeout:   g.cfg.WriteTimeout,
		pingInterval:   g.cfg.PingInterval,
		idleTimeout:    g.cfg.IdleTimeout,
		maxMessageSize: g.cfg.MaxMessageSize,
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	g.active.Add(1)
	g.mu.Unlock()
	defer g.active.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	user, ok := g.authenticate(r, ws)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(g.baseCtx)
	defer cancel()

	conn := newConn(ws, user.ID, g.cfg.SendBuffer, g.limits(), g.log, func(c *Conn) {
		g.registry.Deregister(c.ID())
		g.metrics.connClosed()
	})
	conn.state.Store(int32(StateAuthenticated))
	g.registry.Register(conn)
	g.metrics.connOpened()
	conn.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive))
	conn.log.Debug().Msg("connection active")

	g.mu.Lock()
	closing := g.closing
	g.mu.Unlock()
	if closing {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
	}

	go conn.writePump()
	conn.readLoop(g.dispatcher(ctx, conn))
}

// authenticate resolves the credential from the request, or from a first
// auth frame when the request carries none. Failures close with 1008.
func (g *Gateway) authenticate(r *http.Request, ws *websocket.Conn) (*UserInfo, bool) {
	token := TokenFromRequest(r)
	if token == "" {
		_ = ws.SetReadDeadline(time.Now().Add(g.cfg.AuthTimeout))
		_, data, err := ws.ReadMessage()
		if err != nil {
			g.reject(ws, "authentication timeout")
			return nil, false
		}
		f, err := parseFrame(data)
		if err != nil || f.Type != FrameAuth || f.Token == "" {
			g.reject(ws, "authentication required")
			return nil, false
		}
		token = f.Token
	}

	user, err := g.validator.ValidateToken(r.Context(), token)
	if err != nil || user == nil || user.ID == "" {
		g.reject(ws, "invalid token")
		return nil, false
	}
	return user, true
}

func (g *Gateway) reject(ws *websocket.Conn, reason string) {
	g.metrics.authFailed()
	g.log.Debug().Str("reason", reason).Str("remote", ws.RemoteAddr().String()).Msg("rejecting connection")
	deadline := time.Now().Add(g.cfg.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = ws.Close()
}

// Shutdown refuses new upgrades, closes every live connection with 1001 and
// waits for their handlers to return or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()
	g.cancel()

	clients := g.registry.All()
	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	g.log.Info().Int("connections", len(clients)).Msg("realtime gateway shut down")

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
