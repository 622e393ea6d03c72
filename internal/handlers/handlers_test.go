package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conversation-service/internal/cache"
	"conversation-service/internal/errs"
	"conversation-service/internal/mocks"
	"conversation-service/internal/models"
	"conversation-service/internal/realtime"
	"conversation-service/internal/repositories"
	"conversation-service/internal/repositories/memory"
	"conversation-service/internal/services"
)

type testServer struct {
	router *gin.Engine
	store  *memory.Store
}

func newServer(t *testing.T, override func(*repositories.Store)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.New()
	repos := store.Repositories()
	if override != nil {
		override(&repos)
	}

	opts := services.DefaultOptions()
	opts.RetryInitialInterval = time.Millisecond
	opts.SendRatePerSecond = 0
	deps := services.Deps{
		Store:   repos,
		Cache:   cache.NewMemory(),
		Fanout:  realtime.NewFanout(realtime.NewBus(16, zap.NewNop()), nil, zap.NewNop()),
		Log:     zap.NewNop(),
		Now:     time.Now,
		Options: opts,
	}
	receipts := services.NewReceiptTracker(deps)
	conv := NewConversationHandler(
		services.NewConversationResolver(deps),
		services.NewMembershipManager(deps),
		services.NewFeedAssembler(deps, receipts),
		receipts,
		zap.NewNop(),
	)
	msg := NewMessageHandler(services.NewMessageService(deps, receipts, services.NewSenderLimiter(0, 1)), receipts, zap.NewNop())

	r := gin.New()
	auth := func(c *gin.Context) {
		id, err := strconv.Atoi(c.GetHeader("X-Test-User"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		c.Set("userID", id)
		c.Next()
	}
	RegisterRoutes(r, auth, conv, msg)
	RegisterDebugRoutes(r, services.NewReconciler(deps), zap.NewNop(), true)
	return &testServer{router: r, store: store}
}

func (s *testServer) user(name string) models.User {
	return s.store.PutUser(models.User{ExternalID: "ext-" + name, Username: name})
}

func (s *testServer) do(t *testing.T, method, path string, caller int, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != 0 {
		req.Header.Set("X-Test-User", strconv.Itoa(caller))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (s *testServer) direct(t *testing.T, a, b int) int {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/conversations/direct", a, gin.H{"user_id": b})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rec.Code)
	return int(decode(t, rec)["conversation_id"].(float64))
}

func TestStartDirect(t *testing.T) {
	s := newServer(t, nil)
	ana, ben := s.user("ana"), s.user("ben")

	rec := s.do(t, http.MethodPost, "/conversations/direct", ana.ID, gin.H{"user_id": ben.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode(t, rec)
	assert.Equal(t, true, first["created"])

	rec = s.do(t, http.MethodPost, "/conversations/direct", ben.ID, gin.H{"user_a": ben.ID, "user_b": ana.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode(t, rec)
	assert.Equal(t, first["conversation_id"], second["conversation_id"])
	assert.Equal(t, false, second["created"])
}

func TestStartDirectErrors(t *testing.T) {
	s := newServer(t, nil)
	ana, ben, cid := s.user("ana"), s.user("ben"), s.user("cid")

	rec := s.do(t, http.MethodPost, "/conversations/direct", ana.ID, gin.H{"user_id": ana.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversations/direct", ana.ID, gin.H{"user_id": 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversations/direct", ana.ID, gin.H{"user_a": ben.ID, "user_b": cid.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversations/direct", 0, gin.H{"user_id": ben.ID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMessageFlow(t *testing.T) {
	s := newServer(t, nil)
	ana, ben := s.user("ana"), s.user("ben")
	convID := s.direct(t, ana.ID, ben.ID)
	base := "/conversations/" + strconv.Itoa(convID)

	rec := s.do(t, http.MethodPost, base+"/messages", ana.ID, gin.H{"content": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, base+"/unread", ben.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["unread_count"])

	rec = s.do(t, http.MethodGet, "/conversations", ben.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decode(t, rec)
	list := feed["conversations"].([]any)
	require.Len(t, list, 1)
	summary := list[0].(map[string]any)
	assert.Equal(t, "ana", summary["title"])
	assert.Equal(t, false, feed["stale"])

	rec = s.do(t, http.MethodGet, base+"/messages?limit=10", ben.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["messages"].([]any), 1)

	rec = s.do(t, http.MethodGet, base+"/unread", ben.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["unread_count"])
}

func TestPostMessageErrors(t *testing.T) {
	s := newServer(t, nil)
	ana, ben, eve := s.user("ana"), s.user("ben"), s.user("eve")
	base := "/conversations/" + strconv.Itoa(s.direct(t, ana.ID, ben.ID))

	rec := s.do(t, http.MethodPost, base+"/messages", eve.ID, gin.H{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/messages", ana.ID, gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/messages", ana.ID, gin.H{"content": "hi", "sender_id": ben.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversations/abc/messages", ana.ID, gin.H{"content": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, base+"/messages?limit=ten", ana.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/conversations/404/messages", ana.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMessageShowsPlaceholder(t *testing.T) {
	s := newServer(t, nil)
	ana, ben := s.user("ana"), s.user("ben")
	base := "/conversations/" + strconv.Itoa(s.direct(t, ana.ID, ben.ID))

	rec := s.do(t, http.MethodPost, base+"/messages", ana.ID, gin.H{"content": "secret"})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode(t, rec)["message"].(map[string]any)
	msgPath := base + "/messages/" + strconv.Itoa(int(msg["id"].(float64)))

	rec = s.do(t, http.MethodDelete, msgPath, ben.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, msgPath, ana.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decode(t, rec)["message"].(map[string]any)
	assert.Equal(t, models.DeletedPlaceholder, deleted["content"])
}

func TestMarkReadRegressionConflicts(t *testing.T) {
	s := newServer(t, nil)
	ana, ben := s.user("ana"), s.user("ben")
	base := "/conversations/" + strconv.Itoa(s.direct(t, ana.ID, ben.ID))

	rec := s.do(t, http.MethodPost, base+"/read", ben.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/read", ben.ID, gin.H{"upto": time.Now().Add(-time.Hour)})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode(t, rec), "error")
}

func TestUpdateConversationFlags(t *testing.T) {
	s := newServer(t, nil)
	ana, ben := s.user("ana"), s.user("ben")
	base := "/conversations/" + strconv.Itoa(s.direct(t, ana.ID, ben.ID))

	rec := s.do(t, http.MethodPatch, base, ben.ID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, base, ben.ID, gin.H{"is_pinned": true})
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode(t, rec)["conversation"].(map[string]any)
	assert.Equal(t, true, conv["is_pinned"])

	rec = s.do(t, http.MethodPatch, base, ana.ID, gin.H{"is_pinned": false, "is_archived": true})
	require.Equal(t, http.StatusOK, rec.Code)
	conv = decode(t, rec)["conversation"].(map[string]any)
	assert.Equal(t, false, conv["is_pinned"])
	assert.Equal(t, true, conv["is_archived"])

	rec = s.do(t, http.MethodPatch, base+"/participants/"+strconv.Itoa(ana.ID), ben.ID, gin.H{"muted": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, base+"/participants/"+strconv.Itoa(ben.ID), ben.ID, gin.H{"muted": true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransientStoreFailureIsUnavailable(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	convs.On("ListForUser", mock.Anything, 1, false).
		Return(nil, errs.Store("list conversations", errors.New("connection refused"), true))
	s := newServer(t, func(repos *repositories.Store) { repos.Conversations = convs })

	rec := s.do(t, http.MethodGet, "/conversations", 1, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "temporarily unavailable", decode(t, rec)["error"])
}

func TestDebugReconcile(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodPost, "/debug/reconcile", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["pairs"])
}

func TestStatusFor(t *testing.T) {
	cases := map[int]error{
		http.StatusUnauthorized:        errs.Authentication("x"),
		http.StatusForbidden:           errs.Authorization("x"),
		http.StatusBadRequest:          errs.Validation("x"),
		http.StatusNotFound:            errs.NotFound("x"),
		http.StatusConflict:            errs.Conflict("x"),
		http.StatusTooManyRequests:     errs.RateLimit("x"),
		http.StatusServiceUnavailable:  errs.Store("x", assert.AnError, true),
		http.StatusInternalServerError: errs.Store("x", assert.AnError, false),
	}
	for want, err := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
