package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/events"
)

const (
	spectatorBuffer = 64
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

// SpectatorHub streams bus events to websocket clients as JSON.
type SpectatorHub struct {
	mu       sync.Mutex
	clients  map[*spectator]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

type spectator struct {
	conn *websocket.Conn
	send chan events.Event
	once sync.Once
}

func (sp *spectator) stop() {
	sp.once.Do(func() { close(sp.send) })
}

// NewSpectatorHub creates an empty hub. Origins are checked by the CORS
// middleware, so the upgrader accepts any origin.
func NewSpectatorHub() *SpectatorHub {
	return &SpectatorHub{
		clients: make(map[*spectator]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With().Str("component", "spectators").Logger(),
	}
}

// Attach subscribes the hub to every bus event, in publication order.
func (h *SpectatorHub) Attach(bus *events.EventBus) {
	bus.SubscribeAllOrdered("spectators", 0, func(_ context.Context, event events.Event) error {
		h.Broadcast(event)
		return nil
	})
}

// Broadcast queues an event for every spectator. Spectators whose queue is
// full are disconnected.
func (h *SpectatorHub) Broadcast(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sp := range h.clients {
		select {
		case sp.send <- event:
		default:
			h.logger.Warn().Str("remote_addr", sp.conn.RemoteAddr().String()).Msg("spectator too slow, disconnecting")
			delete(h.clients, sp)
			sp.stop()
		}
	}
}

// Count returns the number of connected spectators.
func (h *SpectatorHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every spectator and refuses new ones.
func (h *SpectatorHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sp := range h.clients {
		delete(h.clients, sp)
		sp.stop()
	}
}

// Handle upgrades the request and streams events until the client leaves.
func (h *SpectatorHub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sp := &spectator{conn: conn, send: make(chan events.Event, spectatorBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[sp] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug().Str("remote_addr", conn.RemoteAddr().String()).Msg("spectator connected")

	go h.writePump(sp)
	h.readPump(sp)
}

func (h *SpectatorHub) remove(sp *spectator) {
	h.mu.Lock()
	delete(h.clients, sp)
	h.mu.Unlock()
	sp.stop()
}

// readPump discards client messages and notices when the client goes away.
func (h *SpectatorHub) readPump(sp *spectator) {
	defer h.remove(sp)

	sp.conn.SetReadLimit(512)
	sp.conn.SetReadDeadline(time.Now().Add(pongWait))
	sp.conn.SetPongHandler(func(string) error {
		return sp.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sp.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SpectatorHub) writePump(sp *spectator) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sp.conn.Close()
	}()

	for {
		select {
		case event, ok := <-sp.send:
			sp.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sp.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := sp.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			sp.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sp.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
