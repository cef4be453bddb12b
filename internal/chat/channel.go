// Package chat keeps the ordered message log of every group and fans new entries out to
// the group's live connections.
package chat

import (
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"studygroup-server/internal/apperr"
)

// Subscribers reports which connections are currently live on a group.
type Subscribers interface {
	Subscribers(groupID int) []string
}

// Sink delivers an event to one connection. Send is called with the group log locked and
// must never block: implementations queue the event or fail fast. Per-group ordering holds
// only as long as Send hands events over in call order.
type Sink interface {
	Send(connectionID string, ev Event) error
}

type groupLog struct {
	mu       sync.Mutex
	messages []Message
	last     time.Time
}

type Channel struct {
	mu   sync.RWMutex
	logs map[int]*groupLog

	nextID      atomic.Uint64
	sink        Sink
	subscribers Subscribers
	now         func() time.Time
}

type Option func(*Channel)

func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

func New(sink Sink, opts ...Option) *Channel {
	c := &Channel{
		logs: make(map[int]*groupLog),
		sink: sink,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSubscribers wires the live subscriber index. It must be called before the first publish.
func (c *Channel) SetSubscribers(s Subscribers) {
	c.subscribers = s
}

// Open registers an empty log for groupID. Opening an existing log is a no-op.
func (c *Channel) Open(groupID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.logs[groupID]; !ok {
		c.logs[groupID] = &groupLog{messages: make([]Message, 0)}
	}
}

func (c *Channel) lookup(groupID int) (*groupLog, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.logs[groupID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeGroupNotFound, "no message log for group %d", groupID)
	}
	return l, nil
}

// Append stores msg at the end of the group's log without notifying anyone.
func (c *Channel) Append(groupID int, msg Message) (string, error) {
	l, err := c.lookup(groupID)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return c.appendLocked(l, groupID, msg).ID, nil
}

// Publish appends msg and sends it to every live subscriber of the group.
func (c *Channel) Publish(groupID int, msg Message) (Message, error) {
	l, err := c.lookup(groupID)
	if err != nil {
		return Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored := c.appendLocked(l, groupID, msg)
	c.fanOutLocked(groupID, stored, "")
	return stored, nil
}

// History returns a copy of the group's log in append order.
func (c *Channel) History(groupID int) ([]Message, error) {
	l, err := c.lookup(groupID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.messages), nil
}

// Join announces sender to the group and replays the history to connectionID. attach runs
// while the log is still locked, so the connection becomes live before the next publish and
// sees every message exactly once.
func (c *Channel) Join(groupID int, connectionID string, sender Sender, attach func()) (Message, error) {
	l, err := c.lookup(groupID)
	if err != nil {
		return Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	welcome := c.appendLocked(l, groupID, welcomeMessage(sender))
	c.fanOutLocked(groupID, welcome, connectionID)

	history := Event{Type: EventHistory, Messages: slices.Clone(l.messages)}
	if err := c.sink.Send(connectionID, history); err != nil {
		log.Printf("Failed to deliver history of group %d to %s: %v", groupID, connectionID, err)
	}
	if attach != nil {
		attach()
	}
	return welcome, nil
}

// Chat publishes a user message. Blank bodies are rejected and leave the log untouched.
func (c *Channel) Chat(groupID int, sender Sender, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, apperr.InvalidInput(apperr.CodeMessageEmpty, "message is empty")
	}
	return c.Publish(groupID, userMessage(sender, body))
}

// Result announces a finished quiz. Group scores are tracked by the registry, not here.
func (c *Channel) Result(groupID int, sender Sender, score, total int) (Message, error) {
	return c.Publish(groupID, resultMessage(sender, score, total))
}

func (c *Channel) appendLocked(l *groupLog, groupID int, msg Message) Message {
	ts := c.now().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts

	msg.ID = fmt.Sprintf("msg_%d", c.nextID.Add(1))
	msg.GroupID = groupID
	msg.Seq = len(l.messages) + 1
	msg.Timestamp = ts
	l.messages = append(l.messages, msg)
	return msg
}

func (c *Channel) fanOutLocked(groupID int, msg Message, exclude string) {
	if c.subscribers == nil {
		return
	}
	ev := Event{Type: EventMessage, Message: msg}
	for _, conn := range c.subscribers.Subscribers(groupID) {
		if conn == exclude {
			continue
		}
		if err := c.sink.Send(conn, ev); err != nil {
			log.Printf("Failed to deliver %s to %s: %v", msg.ID, conn, err)
		}
	}
}
