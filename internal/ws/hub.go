package ws

import (
	"sort"
	"sync"
)

// Hub tracks live socket connections by user.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]ConnInfo
	users map[int]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]ConnInfo),
		users: make(map[int]map[string]struct{}),
	}
}

func (h *Hub) Add(info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[info.ConnID] = info
	if _, ok := h.users[info.UserID]; !ok {
		h.users[info.UserID] = make(map[string]struct{})
	}
	h.users[info.UserID][info.ConnID] = struct{}{}
}

func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	if ids, ok := h.users[info.UserID]; ok {
		delete(ids, connID)
		if len(ids) == 0 {
			delete(h.users, info.UserID)
		}
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// UserConnections lists a user's live connections, oldest first.
func (h *Hub) UserConnections(userID int) []ConnInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ConnInfo, 0, len(h.users[userID]))
	for id := range h.users[userID] {
		out = append(out, h.conns[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}
