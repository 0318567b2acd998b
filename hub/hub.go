// Package hub fans mutation events out to the clients connected to each
// board. It keeps a per-board registry of connections and guarantees that
// one slow or dead connection never delays delivery to the rest: sends are
// buffered per connection and a connection that cannot keep up is dropped.
package hub

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Soham-047/trello-mini/domain"
)

const defaultSendBuffer = 32

type publisher interface {
	publish(boardID string, env domain.Envelope)
}

// Hub is the per-board broadcast registry. Safe for concurrent use.
type Hub struct {
	logger  *log.Logger
	sendBuf int

	mu     sync.RWMutex
	boards map[string]map[*Conn]struct{}

	bridge publisher
}

// New creates a Hub. sendBuf is the per-connection outbound buffer; values
// below one fall back to the default.
func New(logger *log.Logger, sendBuf int) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if sendBuf < 1 {
		sendBuf = defaultSendBuffer
	}
	return &Hub{
		logger:  logger,
		sendBuf: sendBuf,
		boards:  make(map[string]map[*Conn]struct{}),
	}
}

// Conn is one client connection. It moves through connecting → joined →
// closed; once closed it never rejoins.
type Conn struct {
	id   string
	send chan domain.Envelope
	done chan struct{}

	closeOnce sync.Once

	// boardID is guarded by the owning hub's mutex.
	boardID string
}

// NewConn allocates a connection in the connecting state. It receives
// nothing until joined to a board.
func (h *Hub) NewConn() *Conn {
	return &Conn{
		id:   uuid.NewString(),
		send: make(chan domain.Envelope, h.sendBuf),
		done: make(chan struct{}),
	}
}

// ID returns the connection's identifier.
func (c *Conn) ID() string { return c.id }

// Events is the connection's outbound stream.
func (c *Conn) Events() <-chan domain.Envelope { return c.send }

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close marks the connection closed. Idempotent; the caller is still
// responsible for Leave.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Join adds the connection to a board's group. Joining the board it is
// already in is a no-op; a connection belongs to at most one board, so
// joining a different board leaves the current one first. Closed is
// terminal: a closed connection is never re-added.
func (h *Hub) Join(boardID string, c *Conn) {
	select {
	case <-c.done:
		return
	default:
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if c.boardID == boardID {
		if _, ok := h.boards[boardID][c]; ok {
			return
		}
	}
	if c.boardID != "" && c.boardID != boardID {
		h.removeLocked(c)
	}

	group := h.boards[boardID]
	if group == nil {
		group = make(map[*Conn]struct{})
		h.boards[boardID] = group
	}
	group[c] = struct{}{}
	c.boardID = boardID
}

// Leave removes the connection from its board group. Calling it for a
// connection that already left is a no-op, which absorbs double-disconnect
// races.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Conn) {
	if c.boardID == "" {
		return
	}
	if group, ok := h.boards[c.boardID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.boards, c.boardID)
		}
	}
	c.boardID = ""
}

// Broadcast delivers a pipeline-originated event to every connection in the
// board's group at call time. Connections joining afterwards do not receive
// it. Delivery is at-most-once per connection.
func (h *Hub) Broadcast(boardID string, env domain.Envelope) {
	h.deliver(boardID, env)
	if h.bridge != nil {
		h.bridge.publish(boardID, env)
	}
}

// Relay passes a client-originated ephemeral message to the board's group.
// It is tagged so receivers can tell it apart from committed state events;
// nothing is persisted or audited.
func (h *Hub) Relay(boardID string, env domain.Envelope) {
	env.Ephemeral = true
	h.deliver(boardID, env)
	if h.bridge != nil {
		h.bridge.publish(boardID, env)
	}
}

// deliver sends to the current group members without ever blocking on an
// individual connection. A connection whose buffer is full is disconnected
// rather than allowed to stall the hub.
func (h *Hub) deliver(boardID string, env domain.Envelope) {
	h.mu.RLock()
	group := h.boards[boardID]
	conns := make([]*Conn, 0, len(group))
	for c := range group {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.send <- env:
		default:
			h.logger.WithFields(log.Fields{
				"conn_id":  c.id,
				"board_id": boardID,
				"type":     env.Type,
			}).Warn("dropping connection that cannot keep up")
			h.Leave(c)
			c.Close()
		}
	}
}

// GroupSize reports how many connections are joined to the board.
func (h *Hub) GroupSize(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.boards[boardID])
}
