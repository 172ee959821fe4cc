package redis

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// dialRetries bounds the number of connect attempts made for one logical
// connection creation before the error propagates to the caller.
const dialRetries = 3

// Pool owns a bounded set of dedicated backend connections.
//
// Admission is a token semaphore sized to MaxSize: a caller first takes a
// capacity token (waiting, bounded by AcquireTimeout, when all tokens are
// out), then either reuses an idle connection or dials a new one. Release
// returns the token, which is what wakes a blocked Acquire. The invariant
// idle + inUse == size holds at every quiescent point and size never
// exceeds MaxSize.
type Pool struct {
	cfg  Config
	base *redis.Client

	// tokens is the capacity semaphore. Every live borrow holds exactly one
	// token.
	tokens chan struct{}

	mu     sync.Mutex
	idle   []*PooledConnection
	inUse  map[string]*PooledConnection
	size   int
	closed bool
}

// NewPool connects the base client and warms MinSize connections. A warmup
// connect failure is returned, not deferred; a pool that cannot reach the
// backend at construction is misconfigured.
func NewPool(cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	log := cfg.Log()

	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:    cfg,
		base:   redis.NewClient(opts),
		tokens: make(chan struct{}, cfg.MaxSize),
		inUse:  make(map[string]*PooledConnection),
	}
	for i := 0; i < cfg.MaxSize; i++ {
		p.tokens <- struct{}{}
	}

	log.Debugf("pool: connecting to %s min=%d max=%d", opts.Addr, cfg.MinSize, cfg.MaxSize)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout*time.Duration(cfg.MinSize+1))
	defer cancel()
	for i := 0; i < cfg.MinSize; i++ {
		conn, err := p.dial(ctx)
		if err != nil {
			_ = p.base.Close()
			return nil, err
		}
		p.mu.Lock()
		p.idle = append(p.idle, conn)
		p.size++
		p.mu.Unlock()
	}

	return p, nil
}

// Acquire borrows a connection, waiting up to AcquireTimeout when the pool
// is at capacity. The wait is also cut short by ctx cancellation so an
// abandoned request does not keep queueing.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-p.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ExhaustedError(p.cfg.URL)
	}

	conn, err := p.takeIdle()
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	if conn == nil {
		conn, err = p.dial(ctx)
		if err != nil {
			p.tokens <- struct{}{}
			return nil, err
		}
		p.mu.Lock()
		p.size++
		p.mu.Unlock()
	}

	p.mu.Lock()
	conn.state = connInUse
	p.inUse[conn.id] = conn
	p.mu.Unlock()
	return conn, nil
}

// takeIdle pops the most recently used idle connection, retiring any that
// have sat idle past IdleTimeout on the way. Returns nil when the caller
// should dial.
func (p *Pool) takeIdle() (*PooledConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if time.Since(conn.lastUsed) > p.cfg.IdleTimeout {
			conn.close()
			p.size--
			continue
		}
		return conn, nil
	}
	return nil, nil
}

// Release returns a borrowed connection. Broken connections are closed and
// the pool compensates lazily: the freed token lets the next Acquire dial a
// replacement on demand.
func (p *Pool) Release(conn *PooledConnection) {
	p.mu.Lock()
	delete(p.inUse, conn.id)
	switch {
	case conn.broken || p.closed:
		// Force closed on drain already; don't double count.
		if conn.state != connClosed {
			conn.close()
			p.size--
		}
	default:
		conn.state = connIdle
		conn.lastUsed = time.Now()
		p.idle = append(p.idle, conn)
	}
	p.mu.Unlock()

	p.tokens <- struct{}{}
}

// dial creates one connection with a bounded number of attempts, each
// performing a PING handshake under ConnectTimeout.
func (p *Pool) dial(ctx context.Context) (*PooledConnection, error) {
	log := p.cfg.Log()

	var err error
	for attempt := 0; attempt < dialRetries; attempt++ {
		cc := p.base.Conn(ctx)

		pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		err = cc.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return newPooledConnection(cc), nil
		}
		_ = cc.Close()
		log.Debugf("pool: handshake attempt %d failed: %v", attempt+1, err)
	}
	return nil, ConnectError(err, p.cfg.URL)
}

// Drain closes every connection and transitions the pool to a terminal,
// non-reusable state. In-use connections get DrainGrace to come back via
// Release; anything still out after that is force closed.
func (p *Pool) Drain() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true

	for _, conn := range p.idle {
		conn.close()
		p.size--
	}
	p.idle = nil
	remaining := len(p.inUse)
	p.mu.Unlock()

	if remaining > 0 {
		deadline := time.Now().Add(p.cfg.DrainGrace)
		for time.Now().Before(deadline) {
			p.mu.Lock()
			remaining = len(p.inUse)
			p.mu.Unlock()
			if remaining == 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		p.mu.Lock()
		for id, conn := range p.inUse {
			p.cfg.Log().Infof("pool: force closing in-use connection %s on drain", id)
			conn.close()
			p.size--
			delete(p.inUse, id)
		}
		p.mu.Unlock()
	}

	return p.base.Close()
}

// PoolStats is a point in time snapshot, polled by health endpoints.
type PoolStats struct {
	Size  int
	Idle  int
	InUse int
	Max   int
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Size:  p.size,
		Idle:  len(p.idle),
		InUse: len(p.inUse),
		Max:   p.cfg.MaxSize,
	}
}
