package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	chatService "github.com/zhouzirui/shopmate/backend/internal/service/chat"
	"github.com/zhouzirui/shopmate/backend/internal/service/composer"
	"github.com/zhouzirui/shopmate/backend/pkg/utils"
)

const (
	heartbeatInterval = 15 * time.Second
	pingInterval      = 54 * time.Second
	readTimeout       = 60 * time.Second
	writeTimeout      = 10 * time.Second
)

// Handler pushes conversation events to renderers over SSE or WebSocket.
type Handler struct {
	chatSvc   *chatService.Service
	log       logrus.FieldLogger
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		chatSvc: chatSvc,
		log:     logger.WithField("component", "stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		heartbeat: heartbeatInterval,
	}
}

// RegisterRoutes mounts the event stream routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

// Snapshot is the first frame of every stream: the log as it is when the renderer attaches.
type Snapshot struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	State     chatService.State `json:"state"`
	Messages  []chat.Message    `json:"messages"`
}

func snapshotOf(thread *chatService.Thread) Snapshot {
	return Snapshot{
		Type:      "snapshot",
		SessionID: thread.ID(),
		State:     thread.State(),
		Messages:  thread.Messages(),
	}
}

// handleEvents streams conversation events as Server-Sent Events.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	thread, err := h.openThread(w, r)
	if err != nil {
		return
	}

	events, unsubscribe := thread.Subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	log := h.log.WithField("session", thread.ID())
	log.Debug("sse stream opened")
	defer log.Debug("sse stream closed")

	if err := utils.SendSSEEvent(w, flusher, "snapshot", snapshotOf(thread)); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "closed", map[string]string{"sessionId": thread.ID()})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(evt.Type), evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// handleWebSocket streams conversation events and accepts text submissions.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	thread, err := h.openThread(w, r)
	if err != nil {
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	log := h.log.WithField("session", thread.ID())
	log.Debug("websocket connected")

	events, unsubscribe := thread.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, raw)
	go func() {
		defer cancel()
		h.readLoop(conn, thread, log)
	}()

	if err := conn.send(snapshotOf(thread)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.send(map[string]string{"type": "closed", "sessionId": thread.ID()})
				return
			}
			if err := conn.send(evt); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}

func (h *Handler) readLoop(conn *wsConn, thread *chatService.Thread, log logrus.FieldLogger) {
	for {
		var msg inboundMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("websocket read error")
			}
			return
		}
		conn.conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "message":
			_, err := thread.Composer.SubmitDraft(context.Background(), msg.Text, nil)
			switch {
			case errors.Is(err, composer.ErrSubmitPending):
				_ = conn.send(outgoingError{Type: "rejected", Message: err.Error()})
			case err != nil:
				_ = conn.send(outgoingError{Type: "error", Message: err.Error()})
			}
		default:
			_ = conn.send(outgoingError{Type: "error", Message: "unsupported message type: " + msg.Type})
		}
	}
}

// pingLoop keeps the connection alive until ctx ends.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) openThread(w http.ResponseWriter, r *http.Request) (*chatService.Thread, error) {
	thread, err := h.chatSvc.Open(r.Context(), chi.URLParam(r, "sessionID"))
	if err == nil {
		return thread, nil
	}
	switch {
	case errors.Is(err, chatService.ErrSessionRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		h.log.WithError(err).Warn("open conversation failed")
		utils.RespondError(w, http.StatusBadGateway, "could not load the conversation")
	}
	return nil, err
}
