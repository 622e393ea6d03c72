package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter publishes audit envelopes for moderation-relevant actions.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id,omitempty"`
	UserID        *int         `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// AuditPayload names the action and the records it touched.
type AuditPayload struct {
	Action         string `json:"action"`
	ConversationID int    `json:"conversation_id"`
	MessageID      *int   `json:"message_id,omitempty"`
	TargetUserID   *int   `json:"target_user_id,omitempty"`
}

const (
	ActionMessageEdited     = "message.edited"
	ActionMessageDeleted    = "message.deleted"
	ActionParticipantAdded  = "participant.added"
	ActionParticipantLeft   = "participant.left"
	ActionDuplicateResolved = "conversation.deduplicated"
)

type requestIDKey struct{}

// WithRequestID attaches the request id picked up by Emit.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

// Emit publishes one audit envelope. Failures are logged only.
func (e *AuditEmitter) Emit(ctx context.Context, actorID *int, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     RequestIDFrom(ctx),
		UserID:        actorID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(context.WithoutCancel(ctx), e.routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", zap.String("action", payload.Action), zap.Error(err))
	}
}
