package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the conversation API behind auth.
func RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc, conv *ConversationHandler, msg *MessageHandler) {
	api := router.Group("", auth)

	api.POST("/conversations/direct", conv.StartDirect)
	api.GET("/conversations", conv.ListConversations)
	api.GET("/conversations/:id", conv.GetConversation)
	api.PATCH("/conversations/:id", conv.UpdateConversation)
	api.POST("/conversations/:id/participants", conv.AddParticipant)
	api.PATCH("/conversations/:id/participants/:user_id", conv.UpdateParticipant)
	api.DELETE("/conversations/:id/participants/:user_id", conv.RemoveParticipant)
	api.POST("/conversations/:id/read", conv.MarkRead)
	api.GET("/conversations/:id/unread", conv.UnreadCount)
	api.POST("/messages/delivered", conv.MarkDelivered)

	api.GET("/conversations/:id/messages", msg.ListMessages)
	api.POST("/conversations/:id/messages", msg.PostMessage)
	api.PATCH("/conversations/:id/messages/:message_id", msg.EditMessage)
	api.DELETE("/conversations/:id/messages/:message_id", msg.DeleteMessage)
	api.POST("/conversations/:id/messages/:message_id/reactions", msg.AddReaction)
	api.DELETE("/conversations/:id/messages/:message_id/reactions", msg.RemoveReaction)
	api.GET("/conversations/:id/messages/:message_id/receipts", msg.Receipts)
}
