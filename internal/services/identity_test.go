package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/errs"
	"conversation-service/internal/mocks"
	"conversation-service/internal/models"
)

func TestResolveSubject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := h.user("ana")

	u, err := h.identity.Resolve(ctx, " ext-ana ")
	require.NoError(t, err)
	assert.Equal(t, ana.ID, u.ID)

	_, err = h.identity.Resolve(ctx, "ext-nobody")
	assert.ErrorIs(t, err, errs.ErrAuthentication)

	_, err = h.identity.Resolve(ctx, "")
	assert.ErrorIs(t, err, errs.ErrAuthentication)
}

func TestResolveSubjectRetriesThenCaches(t *testing.T) {
	h := newHarness(t)
	users := new(mocks.UserRepositoryMock)
	users.On("GetUserByExternalID", mock.Anything, "ext-ana").
		Return(nil, errs.Store("get user", errors.New("connection reset"), true)).Once()
	users.On("GetUserByExternalID", mock.Anything, "ext-ana").
		Return(models.User{ID: 7, ExternalID: "ext-ana", Username: "ana"}, nil).Once()
	deps := h.deps
	deps.Store.Users = users
	h = newHarnessWith(h.store, h.cache, h.bus, h.clock, deps)
	ctx := context.Background()

	first, err := h.identity.Resolve(ctx, "ext-ana")
	require.NoError(t, err)
	second, err := h.identity.Resolve(ctx, "ext-ana")
	require.NoError(t, err)

	assert.Equal(t, 7, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ana", second.Username)
	users.AssertNumberOfCalls(t, "GetUserByExternalID", 2)
	users.AssertExpectations(t)
}

func TestResolveSubjectStoreFailureIsNotAuthentication(t *testing.T) {
	h := newHarness(t)
	users := new(mocks.UserRepositoryMock)
	users.On("GetUserByExternalID", mock.Anything, "ext-ana").
		Return(nil, errs.Store("get user", errors.New("syntax error"), false)).Once()
	deps := h.deps
	deps.Store.Users = users
	h = newHarnessWith(h.store, h.cache, h.bus, h.clock, deps)

	_, err := h.identity.Resolve(context.Background(), "ext-ana")
	assert.ErrorIs(t, err, errs.ErrStore)
	assert.NotErrorIs(t, err, errs.ErrAuthentication)
	users.AssertExpectations(t)
}

func TestUsersSkipsMissing(t *testing.T) {
	h := newHarness(t)
	ana, ben := h.user("ana"), h.user("ben")

	users, err := h.identity.Users(context.Background(), []int{ana.ID, 42, ben.ID})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "ben", users[ben.ID].Username)
	_, ok := users[42]
	assert.False(t, ok)
}
