package redis

import (
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type connState int

const (
	connIdle connState = iota
	connInUse
	connClosed
)

func (s connState) String() string {
	switch s {
	case connIdle:
		return "IDLE"
	case connInUse:
		return "IN_USE"
	case connClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PooledConnection is an opaque handle to one dedicated backend connection.
// It is owned exclusively by the pool; callers borrow it for the duration of
// one logical operation and must return it with Release regardless of
// outcome. All state fields are guarded by the pool mutex.
type PooledConnection struct {
	id        string
	cc        *redis.Conn
	state     connState
	createdAt time.Time
	lastUsed  time.Time
	broken    bool
}

func newPooledConnection(cc *redis.Conn) *PooledConnection {
	now := time.Now()
	return &PooledConnection{
		id:        uuid.NewString(),
		cc:        cc,
		state:     connIdle,
		createdAt: now,
		lastUsed:  now,
	}
}

func (c *PooledConnection) ID() string {
	return c.id
}

func (c *PooledConnection) CreatedAt() time.Time {
	return c.createdAt
}

// Conn exposes the underlying dedicated connection for command execution.
func (c *PooledConnection) Conn() *redis.Conn {
	return c.cc
}

// MarkBroken flags the connection so the pool closes it on release instead
// of returning it to the idle set. Called when a transport error is seen
// mid-operation; a broken connection may have unread replies buffered and
// must not be reused.
func (c *PooledConnection) MarkBroken() {
	c.broken = true
}

func (c *PooledConnection) close() {
	if c.state == connClosed {
		return
	}
	c.state = connClosed
	_ = c.cc.Close()
}
