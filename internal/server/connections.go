package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"studygroup-server/internal/apperr"
	"studygroup-server/internal/chat"
)

// peer is one open connection. Everything written to the socket goes through outbox and is
// drained by a single writer goroutine, so messages leave in the order they were queued.
type peer struct {
	outbox chan ServerMessage
	write  func(ctx context.Context, data []byte) error
	close  func(status websocket.StatusCode, reason string)

	// overflowed is set once the outbox rejected a message. The connection is then closed
	// so the client rejoins and gets the gap back through history.
	overflowed atomic.Bool
}

type ConnectionManager struct {
	connections  map[string]*peer // connectionID -> peer
	outboxSize   int
	writeTimeout time.Duration
	mu           sync.RWMutex
}

func NewConnectionManager(outboxSize int, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*peer),
		outboxSize:   outboxSize,
		writeTimeout: writeTimeout,
	}
}

func (cm *ConnectionManager) AddConnection(id string, socket *websocket.Conn) {
	cm.addPeer(id,
		func(ctx context.Context, data []byte) error {
			return socket.Write(ctx, websocket.MessageText, data)
		},
		func(status websocket.StatusCode, reason string) {
			socket.Close(status, reason)
		},
	)
}

func (cm *ConnectionManager) addPeer(id string, write func(context.Context, []byte) error, closeFn func(websocket.StatusCode, string)) {
	p := &peer{
		outbox: make(chan ServerMessage, cm.outboxSize),
		write:  write,
		close:  closeFn,
	}

	cm.mu.Lock()
	if old, exists := cm.connections[id]; exists {
		close(old.outbox)
	}
	cm.connections[id] = p
	cm.mu.Unlock()

	go cm.writeLoop(id, p)
}

func (cm *ConnectionManager) writeLoop(id string, p *peer) {
	for msg := range p.outbox {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("Failed to marshal %s for %s: %v", msg.Type, id, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), cm.writeTimeout)
		err = p.write(ctx, data)
		cancel()
		if err != nil {
			log.Printf("Write to %s failed, closing: %v", id, err)
			if p.close != nil {
				p.close(websocket.StatusGoingAway, "write failed")
			}
			// Keep draining so producers never see a stuck outbox before removal.
			for range p.outbox {
			}
			return
		}
	}
}

// Enqueue queues msg for the connection without blocking. A full outbox means the client
// fell behind: the message is dropped and the connection is closed with a policy violation,
// since a live subscriber with a gap in its stream would never notice the loss.
func (cm *ConnectionManager) Enqueue(connectionID string, msg ServerMessage) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	p, exists := cm.connections[connectionID]
	if !exists {
		return apperr.NotFound(apperr.CodeUnknownConn, "connection %s is not open", connectionID)
	}

	select {
	case p.outbox <- msg:
		return nil
	default:
		if p.close != nil && p.overflowed.CompareAndSwap(false, true) {
			log.Printf("Outbox of %s is full, disconnecting", connectionID)
			// Closing performs the close handshake; callers may hold a group lock.
			go p.close(websocket.StatusPolicyViolation, "outbox full")
		}
		return apperr.Conflict(apperr.CodeOutboxFull, "outbox of %s is full, dropping %s", connectionID, msg.Type)
	}
}

// Send delivers a channel event. It is the chat.Sink the session channel fans out through.
func (cm *ConnectionManager) Send(connectionID string, ev chat.Event) error {
	return cm.Enqueue(connectionID, eventMessage(ev))
}

func eventMessage(ev chat.Event) ServerMessage {
	if ev.Type == chat.EventHistory {
		return ServerMessage{Type: TypeHistory, Payload: HistoryPayload{Messages: ev.Messages}}
	}
	return ServerMessage{Type: TypeMessage, Payload: ev.Message}
}

// RemoveConnection forgets the connection. Messages already queued are still flushed.
func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if p, exists := cm.connections[id]; exists {
		close(p.outbox)
		delete(cm.connections, id)
	}
}

// Disconnect closes the underlying socket. The connection's read loop notices and cleans up.
func (cm *ConnectionManager) Disconnect(id, reason string) bool {
	cm.mu.RLock()
	p, exists := cm.connections[id]
	cm.mu.RUnlock()

	if !exists || p.close == nil {
		return false
	}
	p.close(websocket.StatusGoingAway, reason)
	return true
}

// CloseAll disconnects every open connection, used on shutdown.
func (cm *ConnectionManager) CloseAll(reason string) int {
	cm.mu.RLock()
	peers := make([]*peer, 0, len(cm.connections))
	for _, p := range cm.connections {
		peers = append(peers, p)
	}
	cm.mu.RUnlock()

	for _, p := range peers {
		if p.close != nil {
			p.close(websocket.StatusGoingAway, reason)
		}
	}
	return len(peers)
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}
