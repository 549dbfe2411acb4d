package live

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 4096
	sendBufferSize = 64
)

// Handler upgrades GET /ws to a feed connection.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler accepts browser connections from origins only. A "*" entry
// allows any origin.
func NewHandler(hub *Hub, origins []string, logger zerolog.Logger) *Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allowed["*"]; ok {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// RegisterPublicRoutes mounts the feed. Availability is public data, so the
// socket needs no token.
func (h *Handler) RegisterPublicRoutes(api *echo.Group) {
	api.GET("/ws", h.Connect)
}

func (h *Handler) RegisterRoutes(*echo.Group) {}

func (h *Handler) Connect(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		return nil
	}

	s := NewSubscriber(uuid.NewString(), sendBufferSize)
	h.hub.Register(s)
	if topics := c.QueryParams()["topic"]; len(topics) > 0 {
		h.hub.Subscribe(s, topics)
	}
	h.logger.Debug().Str("subscriber", s.ID).Msg("feed connected")

	go h.writeLoop(s, conn)
	go h.readLoop(s, conn)
	return nil
}

func (h *Handler) readLoop(s *Subscriber, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(s)
		conn.Close()
		h.logger.Debug().Str("subscriber", s.ID).Msg("feed disconnected")
	}()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("subscriber", s.ID).Msg("feed read failed")
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(frame, &cmd); err != nil {
			continue
		}
		h.hub.Handle(s, cmd)
	}
}

func (h *Handler) writeLoop(s *Subscriber, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
