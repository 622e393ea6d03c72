package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"conversation-service/internal/models"
	"conversation-service/internal/services"
)

// ConversationHandler serves conversation, membership and receipt endpoints.
type ConversationHandler struct {
	resolver   *services.ConversationResolver
	membership *services.MembershipManager
	feed       *services.FeedAssembler
	receipts   *services.ReceiptTracker
	log        *zap.Logger
}

func NewConversationHandler(resolver *services.ConversationResolver, membership *services.MembershipManager, feed *services.FeedAssembler, receipts *services.ReceiptTracker, log *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		resolver:   resolver,
		membership: membership,
		feed:       feed,
		receipts:   receipts,
		log:        log,
	}
}

// StartDirect returns the caller's direct conversation with another user,
// creating it on first contact.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id"`
		UserA  int `json:"user_a"`
		UserB  int `json:"user_b"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	caller := callerID(c)
	other := req.UserID
	if req.UserA != 0 || req.UserB != 0 {
		switch caller {
		case req.UserA:
			other = req.UserB
		case req.UserB:
			other = req.UserA
		default:
			c.JSON(http.StatusForbidden, gin.H{"error": "caller must be one of the pair"})
			return
		}
	}

	conv, created, err := h.resolver.ResolveDirect(c.Request.Context(), caller, other)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation_id": conv.ID, "created": created})
}

// ListConversations returns the caller's feed.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	caller := callerID(c)
	if raw := c.Query("user_id"); raw != "" {
		if id, err := strconv.Atoi(raw); err != nil || id != caller {
			c.JSON(http.StatusForbidden, gin.H{"error": "conversations can only be listed for the caller"})
			return
		}
	}
	includeArchived := false
	if raw := c.Query("include_archived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid include_archived")
			return
		}
		includeArchived = v
	}

	list, err := h.feed.ListConversations(c.Request.Context(), caller, includeArchived)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	stale := false
	for _, s := range list {
		stale = stale || s.Stale
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list, "stale": stale})
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.feed.GetConversation(c.Request.Context(), callerID(c), convID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateConversation toggles the pinned and archived flags.
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsPinned   *bool `json:"is_pinned"`
		IsArchived *bool `json:"is_archived"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.IsPinned == nil && req.IsArchived == nil {
		badRequest(c, "nothing to update")
		return
	}

	conv, err := h.membership.UpdateFlags(c.Request.Context(), callerID(c), convID,
		models.ConversationFlags{Pinned: req.IsPinned, Archived: req.IsArchived})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID int                    `json:"user_id" binding:"required"`
		Role   models.ParticipantRole `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := h.membership.Join(c.Request.Context(), callerID(c), convID, req.UserID, req.Role)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"participant": p})
}

func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	if err := h.membership.Leave(c.Request.Context(), callerID(c), convID, userID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateParticipant changes the caller's own notification settings.
func (h *ConversationHandler) UpdateParticipant(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Muted == nil {
		badRequest(c, "nothing to update")
		return
	}

	p, err := h.membership.SetMuted(c.Request.Context(), callerID(c), convID, userID, *req.Muted)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant": p})
}

// MarkRead advances the caller's read cursor, to now when upto is omitted.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Upto *time.Time `json:"upto"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	p, err := h.receipts.MarkRead(c.Request.Context(), callerID(c), convID, req.Upto)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_read_at": p.LastReadAt})
}

func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := h.receipts.UnreadCount(c.Request.Context(), callerID(c), convID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": convID, "unread_count": n})
}

func (h *ConversationHandler) MarkDelivered(c *gin.Context) {
	var req struct {
		MessageIDs []int `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	n, err := h.receipts.MarkDelivered(c.Request.Context(), callerID(c), req.MessageIDs)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
