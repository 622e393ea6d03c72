package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"conversation-service/internal/models"
	"conversation-service/internal/services"
)

// MessageHandler serves message endpoints inside a conversation.
type MessageHandler struct {
	messages *services.MessageService
	receipts *services.ReceiptTracker
	log      *zap.Logger
}

func NewMessageHandler(messages *services.MessageService, receipts *services.ReceiptTracker, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, receipts: receipts, log: log}
}

// ListMessages returns a page of messages, newest last. Fetching marks them
// delivered and moves the caller's read cursor.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		limit = v
	}
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		v, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			badRequest(c, "invalid before, expected RFC3339")
			return
		}
		before = &v
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), callerID(c), convID, limit, before)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *MessageHandler) PostMessage(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		SenderID      int                `json:"sender_id"`
		Content       string             `json:"content"`
		Type          models.MessageType `json:"type"`
		Media         *models.Media      `json:"media"`
		ReplyTo       *int               `json:"reply_to"`
		Mentions      []int              `json:"mentions"`
		ForwardedFrom *int               `json:"forwarded_from"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	caller := callerID(c)
	if req.SenderID != 0 && req.SenderID != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot send as another user"})
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), services.SendInput{
		ConversationID: convID,
		SenderID:       caller,
		Content:        req.Content,
		Type:           req.Type,
		Media:          req.Media,
		ReplyToID:      req.ReplyTo,
		Mentions:       req.Mentions,
		ForwardedFrom:  req.ForwardedFrom,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), callerID(c), convID, msgID, req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	msg, err := h.messages.Delete(c.Request.Context(), callerID(c), convID, msgID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *MessageHandler) AddReaction(c *gin.Context) {
	h.reaction(c, h.messages.React)
}

func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	h.reaction(c, h.messages.Unreact)
}

func (h *MessageHandler) reaction(c *gin.Context, apply func(ctx context.Context, actorID, conversationID, messageID int, kind string) error) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	var req struct {
		Kind string `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := apply(c.Request.Context(), callerID(c), convID, msgID, req.Kind); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Receipts lists per-recipient delivery state. Only the sender may ask.
func (h *MessageHandler) Receipts(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	receipts, err := h.receipts.Receipts(c.Request.Context(), callerID(c), convID, msgID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}
