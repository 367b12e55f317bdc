package hub

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"potluck/internal/model"
)

var errConnClosed = errors.New("connection closed")

// Sink is the output side of one stream transport.
type Sink interface {
	WriteEvent(ev model.Event) error
	Close() error
}

// Conn is one registered stream of a user.
type Conn struct {
	ID     string
	UserID int64

	sink   Sink
	mu     sync.Mutex
	closed atomic.Bool
	once   sync.Once
	wake   chan struct{}
}

func newConn(userID int64, sink Sink) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		sink:   sink,
		wake:   make(chan struct{}, 1),
	}
}

// Write sends one event. Writes are serialized per connection.
func (c *Conn) Write(ev model.Event) error {
	if c.closed.Load() {
		return errConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink.WriteEvent(ev)
}

// Close closes the underlying transport once.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		c.sink.Close()
	})
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Wake requests an immediate poll. Pending requests coalesce.
func (c *Conn) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Wakeups delivers the requests made through Wake.
func (c *Conn) Wakeups() <-chan struct{} { return c.wake }

// Registry maps a user to its single active connection.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]*Conn)}
}

// Register makes sink the user's active connection. A previous connection
// of the same user is superseded and closed.
func (r *Registry) Register(userID int64, sink Sink) *Conn {
	c := newConn(userID, sink)

	r.mu.Lock()
	old := r.conns[userID]
	r.conns[userID] = c
	total := len(r.conns)
	r.mu.Unlock()

	if old != nil {
		log.Printf("[Hub] user=%d connection %s superseded by %s", userID, old.ID, c.ID)
		old.Close()
	}
	log.Printf("[Hub] user=%d registered %s. Total connections: %d", userID, c.ID, total)
	return c
}

// Unregister removes the user's entry if it is still connID. It reports
// whether an entry was removed, so a superseded connection never evicts its
// successor.
func (r *Registry) Unregister(userID int64, connID string) bool {
	r.mu.Lock()
	c, ok := r.conns[userID]
	if !ok || c.ID != connID {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	total := len(r.conns)
	r.mu.Unlock()

	log.Printf("[Hub] user=%d unregistered %s. Total connections: %d", userID, connID, total)
	return true
}

// Lookup returns the user's active connection.
func (r *Registry) Lookup(userID int64) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Send delivers ev to the user's active connection. A failed write is
// treated as a dead connection. It reports whether delivery occurred.
func (r *Registry) Send(userID int64, ev model.Event) bool {
	c, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	return r.SendConn(c, ev)
}

// SendConn delivers ev to a specific connection with the same failure
// policy as Send.
func (r *Registry) SendConn(c *Conn, ev model.Event) bool {
	if err := c.Write(ev); err != nil {
		if !errors.Is(err, errConnClosed) {
			log.Printf("[Hub] user=%d write to %s failed, dropping connection: %v", c.UserID, c.ID, err)
		}
		r.Unregister(c.UserID, c.ID)
		c.Close()
		return false
	}
	return true
}

// Wake asks the active connections of userIDs to poll now. It returns how
// many local connections were woken.
func (r *Registry) Wake(userIDs ...int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, id := range userIDs {
		if c, ok := r.conns[id]; ok {
			c.Wake()
			n++
		}
	}
	return n
}

// Online reports whether the user has an active connection in this process.
func (r *Registry) Online(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Len returns the number of active connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
