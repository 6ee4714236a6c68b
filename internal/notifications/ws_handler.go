package notifications

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/darkden-lab/casedesk/internal/auth"
)

// maxInboundMessageSize caps client frames. Clients never send data on this
// socket; reads exist only to notice disconnects and pongs.
const maxInboundMessageSize = 512

// wsTransport pushes events as WebSocket text messages.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) deadline() time.Time {
	if t.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(t.writeTimeout)
}

func (t *wsTransport) Send(payload []byte) error {
	if err := t.conn.SetWriteDeadline(t.deadline()); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, t.deadline())
}

// Close sends a close frame on a best-effort basis and drops the connection.
func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and browser requests from one of the allowed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}

// WSHandler serves the WebSocket subscription endpoint. Sessions share the
// registry with the SSE endpoint, so a recipient has one reachable session
// whichever transport it used.
type WSHandler struct {
	admitter
	registry *Registry
	cfg      StreamConfig
	upgrader websocket.Upgrader
}

// NewWSHandler creates the WebSocket endpoint.
func NewWSHandler(jwtService *auth.JWTService, directory RecipientDirectory, registry *Registry, cfg StreamConfig, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		admitter: admitter{jwtService: jwtService, directory: directory},
		registry: registry,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// RegisterRoutes wires the WebSocket endpoint onto the public router.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/notifications", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS handles GET /ws/notifications?userId=<id>&token=<jwt>.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.admit(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Printf("notifications: websocket upgrade for user %s: %v", recipientID, err)
		return
	}
	transport := &wsTransport{conn: conn, writeTimeout: h.cfg.WriteTimeout}

	// The request context is detached from a hijacked connection; the read
	// pump cancels this one when the peer goes away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := NewSession(recipientID, transport, h.registry, h.cfg.HeartbeatInterval)
	previous, err := session.Open(h.cfg.WelcomeMessage)
	applySupersede(h.cfg.SupersedePolicy, previous)
	if err != nil {
		log.Printf("notifications: opening websocket for user %s: %v", recipientID, err)
		return
	}
	log.Printf("notifications: user %s connected via websocket (session %s)", recipientID, session.ID)

	go h.readPump(conn, recipientID, cancel)
	session.Serve(ctx)
}

// readPump discards inbound frames and cancels the session once the
// connection fails or the peer closes it.
func (h *WSHandler) readPump(conn *websocket.Conn, recipientID string, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxInboundMessageSize)
	if h.cfg.HeartbeatInterval > 0 {
		pongWait := 2*h.cfg.HeartbeatInterval + h.cfg.WriteTimeout
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("notifications: websocket read error for user %s: %v", recipientID, err)
			}
			return
		}
	}
}
