package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"conversation-service/internal/models"
)

const userColumns = `id, external_id, username, display_name, email, avatar_url, last_seen_at`

// UserRepo is a read-only sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by internal id.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return user, translate("get user", err, ErrUserNotFound)
}

// GetUserByExternalID maps an opaque identity onto the internal record.
func (r *UserRepo) GetUserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE external_id=$1`, externalID)
	return user, translate("get user by external id", err, ErrUserNotFound)
}

// GetUsers fetches many users in one round trip. Unknown ids are skipped.
func (r *UserRepo) GetUsers(ctx context.Context, userIDs []int) ([]models.User, error) {
	if len(userIDs) == 0 {
		return []models.User{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?) ORDER BY id`, userIDs)
	if err != nil {
		return nil, translate("build users query", err, nil)
	}
	var users []models.User
	err = r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...)
	return users, translate("get users", err, nil)
}
