package repositories

import "github.com/jmoiron/sqlx"

// NewPostgresStore wires every sqlx repository onto one connection pool.
func NewPostgresStore(db *sqlx.DB) Store {
	return Store{
		Users:         NewUserRepo(db),
		Conversations: NewConversationRepo(db),
		Participants:  NewParticipantRepo(db),
		Messages:      NewMessageRepo(db),
		Receipts:      NewReceiptRepo(db),
		Reactions:     NewReactionRepo(db),
	}
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}
