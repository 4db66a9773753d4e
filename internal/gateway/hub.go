package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/onno/internal/orchestrator"
)

// Inbound event names.
const (
	EventJoinMeeting  = "join_meeting"
	EventAudioChunk   = "audio_chunk"
	EventLeaveMeeting = "leave_meeting"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20
	sendBuffer     = 256
)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// App is the meeting logic a connection drives.
type App interface {
	Join(ctx context.Context, senderID string, req orchestrator.JoinRequest) (*orchestrator.JoinResult, error)
	SubmitFragment(f orchestrator.AudioFragment) error
	Leave(ctx context.Context, senderID string, req orchestrator.LeaveRequest) error
}

type Config struct {
	WriteTimeout time.Duration
}

// Hub tracks WebSocket connections and the meeting rooms they joined. It
// implements orchestrator.Broadcaster.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]*conn

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		conns: make(map[string]*conn),
		rooms: make(map[string]map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
	}
}

var _ orchestrator.Broadcaster = (*Hub)(nil)

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

func (h *Hub) Broadcast(room, event string, data any) {
	h.BroadcastExcept(room, "", event, data)
}

func (h *Hub) BroadcastExcept(room, senderID, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != senderID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(msg)
	}
}

func (h *Hub) SendTo(senderID, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	c, ok := h.conns[senderID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(msg)
	}
}

// Connections counts open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomSize counts the connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
	for room, members := range h.rooms {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) joinRoom(room string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*conn)
		h.rooms[room] = members
	}
	members[c.id] = c
}

func (h *Hub) leaveRoom(room string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}

// ServeWS upgrades the request and drives app from the connection's
// frames until it closes.
func (h *Hub) ServeWS(app App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		c := &conn{
			id:     uuid.NewString(),
			ws:     ws,
			send:   make(chan []byte, sendBuffer),
			done:   make(chan struct{}),
			cancel: cancel,
		}
		h.register(c)
		h.logger.Debug("client connected", "conn_id", c.id)

		go h.writePump(c)
		h.readPump(ctx, c, app)
	}
}

func (h *Hub) readPump(ctx context.Context, c *conn, app App) {
	defer func() {
		h.unregister(c)
		c.close()
		h.logger.Debug("client disconnected", "conn_id", c.id)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		h.dispatch(ctx, c, app, msg)
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

type audioPayload struct {
	Token    string `json:"meetingId"`
	UserID   string `json:"userId,omitempty"`
	Audio    []byte `json:"audioData"`
	Filename string `json:"filename,omitempty"`
}

func (h *Hub) dispatch(ctx context.Context, c *conn, app App, msg []byte) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		h.SendTo(c.id, orchestrator.EventError, orchestrator.ErrorEvent{Type: orchestrator.ErrorTypeInvalidMessage, Message: "malformed frame"})
		return
	}

	switch f.Event {
	case EventJoinMeeting:
		var p orchestrator.JoinRequest
		if err := json.Unmarshal(f.Data, &p); err != nil {
			h.invalid(c, f.Event, err)
			return
		}
		if _, err := app.Join(ctx, c.id, p); err != nil {
			h.SendTo(c.id, orchestrator.EventError, orchestrator.ErrorEvent{Type: orchestrator.ErrorTypeJoin, Message: err.Error()})
			return
		}
		h.joinRoom(strings.TrimSpace(p.Token), c)

	case EventAudioChunk:
		var p audioPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			h.invalid(c, f.Event, err)
			return
		}
		if err := app.SubmitFragment(orchestrator.AudioFragment{
			Token:    p.Token,
			SenderID: c.id,
			UserID:   p.UserID,
			Audio:    p.Audio,
			Filename: p.Filename,
		}); err != nil {
			h.SendTo(c.id, orchestrator.EventError, orchestrator.ErrorEvent{Type: orchestrator.ErrorTypeAudioProcessing, Message: err.Error()})
		}

	case EventLeaveMeeting:
		var p orchestrator.LeaveRequest
		if err := json.Unmarshal(f.Data, &p); err != nil {
			h.invalid(c, f.Event, err)
			return
		}
		if !p.EndMeeting {
			if err := app.Leave(ctx, c.id, p); err != nil {
				h.SendTo(c.id, orchestrator.EventError, orchestrator.ErrorEvent{Type: orchestrator.ErrorTypeLeave, Message: err.Error()})
			}
			h.leaveRoom(p.Token, c)
			return
		}
		// Teardown can take as long as the summary call; keep reading
		// frames meanwhile. The leaver stays in the room for the summary.
		go func() {
			err := app.Leave(ctx, c.id, p)
			if err != nil && !errors.Is(err, context.Canceled) {
				h.SendTo(c.id, orchestrator.EventError, orchestrator.ErrorEvent{Type: orchestrator.ErrorTypeLeave, Message: err.Error()})
			}
			h.leaveRoom(p.Token, c)
		}()

	default:
		h.SendTo(c.id, orchestrator.EventError, orchestrator.ErrorEvent{Type: orchestrator.ErrorTypeInvalidMessage, Message: "unknown event " + f.Event})
	}
}

func (h *Hub) invalid(c *conn, event string, err error) {
	h.logger.Debug("invalid payload", "conn_id", c.id, "event", event, "error", err)
	h.SendTo(c.id, orchestrator.EventError, orchestrator.ErrorEvent{Type: orchestrator.ErrorTypeInvalidMessage, Message: "invalid " + event + " payload"})
}
