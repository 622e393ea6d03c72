package realtime

import (
	"fmt"
	"strings"
	"time"
)

// Kind names a change notification.
type Kind string

const (
	MessageCreated      Kind = "message.created"
	MessageUpdated      Kind = "message.updated"
	ConversationUpdated Kind = "conversation.updated"
	ParticipantJoined   Kind = "participant.joined"
	ParticipantLeft     Kind = "participant.left"
	ReceiptUpdated      Kind = "receipt.updated"
)

// Event is a hint that state behind Channel changed. Receivers re-fetch
// instead of trusting the payload.
type Event struct {
	Kind           Kind      `json:"kind"`
	Channel        string    `json:"channel"`
	ConversationID int       `json:"conversation_id"`
	UserID         *int      `json:"user_id,omitempty"`
	MessageID      *int      `json:"message_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	Origin         string    `json:"origin,omitempty"`
}

func ConversationChannel(conversationID int) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

func UserChannel(userID int) string {
	return fmt.Sprintf("user:%d", userID)
}

// RoutingKey maps a channel key onto an AMQP topic routing key.
func RoutingKey(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}
