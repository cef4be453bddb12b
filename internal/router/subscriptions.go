package router

import (
	"maps"
	"slices"
	"sync"

	"studygroup-server/internal/apperr"
)

// Subscription binds a connection to the user it speaks for and the group it listens to.
// Live is false between Store and Activate, while the history replay is being queued.
type Subscription struct {
	ConnectionID string
	UserID       int
	GroupID      int
	Live         bool
}

type SubscriptionManager struct {
	mu     sync.RWMutex
	byConn map[string]Subscription     // connectionID -> Subscription
	live   map[int]map[string]struct{} // groupID -> live connection ids
}

func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{
		byConn: make(map[string]Subscription),
		live:   make(map[int]map[string]struct{}),
	}
}

// Store records sub as not yet live, replacing whatever the connection was bound to.
func (sm *SubscriptionManager) Store(sub Subscription) (previous Subscription, replaced bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	previous, replaced = sm.removeLocked(sub.ConnectionID)
	sub.Live = false
	sm.byConn[sub.ConnectionID] = sub
	return previous, replaced
}

// Activate marks the connection live on groupID. It is a no-op if the connection has been
// rebound or unbound in the meantime.
func (sm *SubscriptionManager) Activate(connectionID string, groupID int) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sub, ok := sm.byConn[connectionID]
	if !ok || sub.GroupID != groupID {
		return false
	}
	sub.Live = true
	sm.byConn[connectionID] = sub

	conns, ok := sm.live[groupID]
	if !ok {
		conns = make(map[string]struct{})
		sm.live[groupID] = conns
	}
	conns[connectionID] = struct{}{}
	return true
}

func (sm *SubscriptionManager) Get(connectionID string) (Subscription, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sub, ok := sm.byConn[connectionID]
	if !ok {
		return Subscription{}, apperr.NotFound(apperr.CodeNotBound, "connection %s is not bound to a group", connectionID)
	}
	return sub, nil
}

// Remove drops the connection's binding. Removing an unknown connection is fine.
func (sm *SubscriptionManager) Remove(connectionID string) (Subscription, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.removeLocked(connectionID)
}

func (sm *SubscriptionManager) removeLocked(connectionID string) (Subscription, bool) {
	sub, ok := sm.byConn[connectionID]
	if !ok {
		return Subscription{}, false
	}
	delete(sm.byConn, connectionID)
	if conns, ok := sm.live[sub.GroupID]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(sm.live, sub.GroupID)
		}
	}
	return sub, true
}

// Live returns the live connections of groupID in a stable order.
func (sm *SubscriptionManager) Live(groupID int) []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Sorted(maps.Keys(sm.live[groupID]))
}

func (sm *SubscriptionManager) All() []Subscription {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	subs := make([]Subscription, 0, len(sm.byConn))
	for _, sub := range sm.byConn {
		subs = append(subs, sub)
	}
	return subs
}
