package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/realtime"
	"conversation-service/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// MembershipChecker reports the caller's active membership row.
type MembershipChecker interface {
	GetActive(ctx context.Context, conversationID, userID int) (models.Participant, error)
}

// Handler serves GET /ws: one socket per client carrying the caller's user
// channel plus any requested conversation channels.
type Handler struct {
	hub          *Hub
	bus          *realtime.Bus
	participants MembershipChecker
	log          *zap.Logger
	upgrader     websocket.Upgrader
}

func NewHandler(hub *Hub, bus *realtime.Bus, participants MembershipChecker, log *zap.Logger) *Handler {
	return &Handler{
		hub:          hub,
		bus:          bus,
		participants: participants,
		log:          log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authorizes the requested channels, upgrades the connection and pumps
// bus events to the client until either side goes away.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := observability.Tracer().Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	userID := c.GetInt("userID")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}
	convIDs, ok := conversationIDs(c.QueryArray("conversation"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	channels := []string{realtime.UserChannel(userID)}
	for _, id := range convIDs {
		if _, err := h.participants.GetActive(ctx, id, userID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of the conversation"})
				return
			}
			h.log.Error("ws membership check failed", zap.Int("conversation_id", id), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		channels = append(channels, realtime.ConversationChannel(id))
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Int("user_id", userID), zap.Error(err))
		return
	}

	client := observability.ClientFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		Channels:    channels,
		DeviceID:    client.DeviceID,
		IP:          client.IP,
		RequestID:   telemetry.RequestIDFrom(c.Request.Context()),
		TraceID:     observability.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	sub := h.bus.Subscribe(channels...)
	h.hub.Add(info)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.log.Info("websocket connected", info.fields()...)

	go h.serve(conn, sub, info)
}

func (h *Handler) serve(conn *websocket.Conn, sub *realtime.Subscription, info ConnInfo) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readPump(conn, info)
	}()

	reason := h.writePump(conn, sub, info, done)

	sub.Close()
	_ = conn.Close()
	<-done
	h.hub.Remove(info.ConnID)
	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	h.log.Info("websocket disconnected", append(info.fields(),
		zap.Duration("duration", time.Since(info.ConnectedAt)),
		zap.String("reason", reason))...)
}

// readPump discards client frames and keeps the read deadline fresh on pong.
func (h *Handler) readPump(conn *websocket.Conn, info ConnInfo) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.log.Warn("websocket read failed", append(info.fields(), zap.Error(err))...)
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *realtime.Subscription, info ConnInfo, done <-chan struct{}) string {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return "client closed"
		case ev, ok := <-sub.C:
			if !ok {
				return "subscription closed"
			}
			if !h.deliverable(sub, info, ev) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				observability.IncWSEvent("ws_error")
				return err.Error()
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err.Error()
			}
		}
	}
}

// deliverable reports whether ev may reach this socket. Conversation channel
// events require a current membership; once it is gone the channel is dropped.
// The caller's own participant.left event is delivered before the drop.
func (h *Handler) deliverable(sub *realtime.Subscription, info ConnInfo, ev realtime.Event) bool {
	channel := realtime.ConversationChannel(ev.ConversationID)
	if ev.Kind == realtime.ParticipantLeft && ev.UserID != nil && *ev.UserID == info.UserID {
		h.revoke(sub, info, channel, "left conversation")
		return true
	}
	if ev.Channel != channel {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	_, err := h.participants.GetActive(ctx, ev.ConversationID, info.UserID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errs.ErrNotFound):
		h.revoke(sub, info, channel, "no longer a participant")
	default:
		h.log.Warn("ws membership recheck failed, event withheld",
			append(info.fields(), zap.Int("conversation_id", ev.ConversationID), zap.Error(err))...)
	}
	return false
}

func (h *Handler) revoke(sub *realtime.Subscription, info ConnInfo, channel, reason string) {
	if !sub.Drop(channel) {
		return
	}
	observability.IncWSEvent("ws_revoke")
	h.log.Info("websocket channel revoked",
		append(info.fields(), zap.String("channel", channel), zap.String("reason", reason))...)
}
