// Package router maps websocket connections onto (user, group) bindings and turns their
// inbound events into registry and channel calls.
package router

import (
	"log"

	"studygroup-server/internal/chat"
	"studygroup-server/internal/directory"
	"studygroup-server/internal/groups"
)

type UserLookup interface {
	GetUser(id int) (directory.User, error)
}

type GroupLookup interface {
	Group(id int) (groups.Group, error)
}

// Channel is the part of the session channel the router drives.
type Channel interface {
	Join(groupID int, connectionID string, sender chat.Sender, attach func()) (chat.Message, error)
	Chat(groupID int, sender chat.Sender, body string) (chat.Message, error)
	Result(groupID int, sender chat.Sender, score, total int) (chat.Message, error)
}

type Router struct {
	users         UserLookup
	groups        GroupLookup
	channel       Channel
	subscriptions *SubscriptionManager
}

func New(users UserLookup, registry GroupLookup, channel Channel) *Router {
	return &Router{
		users:         users,
		groups:        registry,
		channel:       channel,
		subscriptions: NewSubscriptionManager(),
	}
}

// Bind attaches connectionID to groupID on behalf of userID, announces the user to the group
// and replays the group's history to this connection only. A previous binding of the same
// connection is dropped first.
func (r *Router) Bind(connectionID string, userID, groupID int) (Subscription, error) {
	user, err := r.users.GetUser(userID)
	if err != nil {
		return Subscription{}, err
	}
	if _, err := r.groups.Group(groupID); err != nil {
		return Subscription{}, err
	}

	sub := Subscription{ConnectionID: connectionID, UserID: userID, GroupID: groupID}
	if prev, replaced := r.subscriptions.Store(sub); replaced {
		log.Printf("Connection %s moved from group %d to group %d", connectionID, prev.GroupID, groupID)
	}

	attach := func() { r.subscriptions.Activate(connectionID, groupID) }
	if _, err := r.channel.Join(groupID, connectionID, senderOf(user), attach); err != nil {
		r.subscriptions.Remove(connectionID)
		return Subscription{}, err
	}

	sub.Live = true
	log.Printf("Connection %s bound: user %d (%s) in group %d", connectionID, userID, user.Username, groupID)
	return sub, nil
}

// RouteChat publishes body to the connection's group. Unbound connections get a NotBound error.
func (r *Router) RouteChat(connectionID, body string) (chat.Message, error) {
	sub, sender, err := r.resolve(connectionID)
	if err != nil {
		return chat.Message{}, err
	}
	return r.channel.Chat(sub.GroupID, sender, body)
}

// RouteResult announces a quiz result to the connection's group.
func (r *Router) RouteResult(connectionID string, score, total int) (chat.Message, error) {
	sub, sender, err := r.resolve(connectionID)
	if err != nil {
		return chat.Message{}, err
	}
	return r.channel.Result(sub.GroupID, sender, score, total)
}

// Unbind forgets the connection. Calling it for an unbound connection does nothing.
func (r *Router) Unbind(connectionID string) {
	if sub, ok := r.subscriptions.Remove(connectionID); ok {
		log.Printf("Connection %s left group %d", connectionID, sub.GroupID)
	}
}

func (r *Router) Binding(connectionID string) (Subscription, error) {
	return r.subscriptions.Get(connectionID)
}

// Subscribers lists connections that receive live messages for groupID.
func (r *Router) Subscribers(groupID int) []string {
	return r.subscriptions.Live(groupID)
}

func (r *Router) BoundCount() int {
	return len(r.subscriptions.All())
}

// resolve looks the user up again on every event so renamed or re-avatared users show current data.
func (r *Router) resolve(connectionID string) (Subscription, chat.Sender, error) {
	sub, err := r.subscriptions.Get(connectionID)
	if err != nil {
		return Subscription{}, chat.Sender{}, err
	}
	user, err := r.users.GetUser(sub.UserID)
	if err != nil {
		return Subscription{}, chat.Sender{}, err
	}
	return sub, senderOf(user), nil
}

func senderOf(u directory.User) chat.Sender {
	return chat.Sender{UserID: u.ID, Username: u.Username, Avatar: u.Avatar}
}
