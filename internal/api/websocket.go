package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/benmeehan/fleet-monitor/internal/projection"
	"github.com/benmeehan/fleet-monitor/pkg/mqtt"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// pushMessage is the frame sent to WebSocket clients on every tick.
type pushMessage struct {
	Type    string              `json:"type"`
	Time    time.Time           `json:"time"`
	MQTT    mqtt.Status         `json:"mqtt"`
	Devices []models.DeviceView `json:"devices"`
}

// socketHub pushes the filtered device list to every connected client on a
// fixed interval. Clients choose their filter with the same query
// parameters as GET /api/devices.
type socketHub struct {
	server *Server
	logger zerolog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

func newSocketHub(server *Server, logger zerolog.Logger) *socketHub {
	return &socketHub{
		server: server,
		logger: logger,
		conns:  make(map[*websocket.Conn]context.CancelFunc),
	}
}

func (h *socketHub) handle(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if !h.add(conn, cancel) {
		cancel()
		conn.Close()
		return
	}
	defer h.remove(conn)

	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket client connected")

	go h.readLoop(conn, cancel)
	h.writeLoop(ctx, conn, filter)
}

func (h *socketHub) add(conn *websocket.Conn, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.conns[conn] = cancel
	h.wg.Add(1)
	return true
}

func (h *socketHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	cancel, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	if !ok {
		return
	}
	cancel()
	conn.Close()
	h.wg.Done()
	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket client disconnected")
}

// closeAll ends every session and waits for the handlers to return.
func (h *socketHub) closeAll() {
	h.mu.Lock()
	h.closed = true
	for _, cancel := range h.conns {
		cancel()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// readLoop discards client frames and notices disconnects.
func (h *socketHub) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *socketHub) writeLoop(ctx context.Context, conn *websocket.Conn, filter projection.Filter) {
	ticker := time.NewTicker(h.server.opts.PushInterval)
	defer ticker.Stop()

	for {
		if err := h.push(ctx, conn, filter); err != nil {
			h.logger.Debug().Err(err).Msg("WebSocket push failed")
			return
		}

		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
		}
	}
}

func (h *socketHub) push(ctx context.Context, conn *websocket.Conn, filter projection.Filter) error {
	queryCtx, cancel := context.WithTimeout(ctx, h.server.opts.PushInterval)
	defer cancel()

	snap, err := h.server.deps.Fleet.Snapshot(queryCtx)
	if err != nil {
		return err
	}

	msg := pushMessage{
		Type:    "devices",
		Time:    time.Now().UTC(),
		MQTT:    h.server.deps.Transport.Status(),
		Devices: projection.WithoutHistory(projection.List(snap, h.server.deps.Assignments.Assignments(), filter)),
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
