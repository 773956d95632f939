// Package ws implements core.Transport over a gorilla/websocket server: one
// connection per worker, upgraded from an HTTP handler, feeding
// Controller.Attached/Detached as the socket opens and closes.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/giantswarm/latentworker/internal/core"
)

const closeWriteTimeout = 2 * time.Second

// deadlineFromContext returns a write deadline honoring ctx's own deadline
// when it is sooner than the default close-write timeout.
func deadlineFromContext(ctx context.Context) time.Time {
	def := time.Now().Add(closeWriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(def) {
		return dl
	}
	return def
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// conn adapts a *websocket.Conn to core.Connection.
type conn struct {
	ws         *websocket.Conn
	remoteName string
}

func (c *conn) RemoteName() string { return c.remoteName }

// Handler is an http.Handler that upgrades one worker's connection and
// drives attach/detach calls against a Controller.
//
// Construction is two-step because the Controller and its Transport refer
// to each other: build the Handler first (it implements core.Transport
// immediately), pass it to core.NewController, then call SetController with
// the result so incoming connections have somewhere to deliver
// Attached/Detached.
type Handler struct {
	log *slog.Logger

	mu         sync.Mutex
	controller *core.Controller
	current    *conn
}

// NewHandler returns a Handler with no Controller attached yet; call
// SetController before serving any requests.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = core.Logger()
	}
	return &Handler{log: logger}
}

// SetController attaches the Controller this Handler drives. Must be called
// before ServeHTTP handles its first request.
func (h *Handler) SetController(controller *core.Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controller = controller
}

func (h *Handler) getController() *core.Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controller
}

// ServeHTTP upgrades the request, expects the worker name as the
// "X-Worker-Name" header, and runs the read loop until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remoteName := r.Header.Get("X-Worker-Name")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{ws: ws, remoteName: remoteName}
	controller := h.getController()

	if err := controller.Attached(r.Context(), c); err != nil {
		// Controller.Attached already rejected c via RejectUnsolicited (or
		// any other failure) before returning; just close the local socket
		// handle.
		_ = ws.Close()
		return
	}

	h.mu.Lock()
	h.current = c
	h.mu.Unlock()

	h.readLoop(ws)

	h.mu.Lock()
	if h.current == c {
		h.current = nil
	}
	h.mu.Unlock()
	controller.Detached(context.Background())
}

func (h *Handler) readLoop(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Disconnect implements core.Transport: it closes the current connection, if
// any, with a normal-closure control frame.
func (h *Handler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	c := h.current
	h.mu.Unlock()
	if c == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "insubstantiating")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadlineFromContext(ctx))
	return c.ws.Close()
}

// RejectUnsolicited implements core.Transport: it closes conn with a
// policy-violation close code.
func (h *Handler) RejectUnsolicited(ctx context.Context, connection core.Connection) error {
	return h.rejectUnsolicited(ctx, connection)
}

func (h *Handler) rejectUnsolicited(ctx context.Context, connection core.Connection) error {
	c, ok := connection.(*conn)
	if !ok {
		return fmt.Errorf("unsupported connection type %T", connection)
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unsolicited connection")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadlineFromContext(ctx))
	return c.ws.Close()
}
