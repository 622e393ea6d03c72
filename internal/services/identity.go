package services

import (
	"context"
	"errors"
	"strings"

	"conversation-service/internal/cache"
	"conversation-service/internal/errs"
	"conversation-service/internal/models"
)

// IdentityResolver maps the opaque caller subject onto an internal user.
type IdentityResolver struct {
	deps Deps
}

func NewIdentityResolver(deps Deps) *IdentityResolver {
	return &IdentityResolver{deps: deps}
}

// Resolve returns the user whose external id is subject.
func (r *IdentityResolver) Resolve(ctx context.Context, subject string) (models.User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return models.User{}, errs.Authentication("missing caller identity")
	}
	entry := cache.Entry{Key: cache.SubjectKey(subject), TTL: r.deps.Options.UsersTTL}
	user, err := cache.ReadThrough(ctx, r.deps.Cache, r.deps.Log, entry, func(ctx context.Context) (models.User, error) {
		return retryValue(ctx, r.deps.retrier(), "get_user_by_subject", func(ctx context.Context) (models.User, error) {
			return r.deps.Store.Users.GetUserByExternalID(ctx, subject)
		})
	})
	if errors.Is(err, errs.ErrNotFound) {
		return models.User{}, errs.Authentication("unknown caller identity")
	}
	return user, err
}

// Users loads the listed users keyed by id. Missing ids are absent.
func (r *IdentityResolver) Users(ctx context.Context, ids []int) (map[int]models.User, error) {
	return loadUsers(ctx, r.deps, ids)
}

func loadUsers(ctx context.Context, d Deps, ids []int) (map[int]models.User, error) {
	out := map[int]models.User{}
	if len(ids) == 0 {
		return out, nil
	}
	users, err := retryValue(ctx, d.retrier(), "get_users", func(ctx context.Context) ([]models.User, error) {
		return d.Store.Users.GetUsers(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
