package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbplane/go-dbplane-common/logger"
)

// TestPoolWarmsMinSize ensures construction pre-dials MinSize connections.
func TestPoolWarmsMinSize(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	cfg, _ := NewTestConfig(t)
	cfg.MinSize = 3

	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Drain() }()

	stats := p.Stats()
	require.Equal(t, 3, stats.Size)
	require.Equal(t, 3, stats.Idle)
	require.Equal(t, 0, stats.InUse)
}

// TestPoolExhaustion ensures Acquire fails with the exhaustion error once
// MaxSize connections are out, and succeeds again after a Release.
func TestPoolExhaustion(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	cfg, _ := NewTestConfig(t)
	cfg.MaxSize = 2
	cfg.AcquireTimeout = 100 * time.Millisecond

	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Drain() }()

	ctx := context.TODO()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = p.Acquire(ctx)
	require.True(t, errors.Is(err, ErrPoolExhausted))

	p.Release(c1)

	c3, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Release(c2)
	p.Release(c3)
}

// TestPoolAcquireHonoursContext ensures a cancelled caller stops queueing.
func TestPoolAcquireHonoursContext(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	cfg, _ := NewTestConfig(t)
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 5 * time.Second

	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Drain() }()

	c1, err := p.Acquire(context.TODO())
	require.NoError(t, err)
	defer p.Release(c1)

	ctx, cancel := context.WithTimeout(context.TODO(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

// TestPoolAccounting ensures idle + inUse tracks size across a borrow
// cycle.
func TestPoolAccounting(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	cfg, _ := NewTestConfig(t)
	cfg.MinSize = 2

	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Drain() }()

	conn, err := p.Acquire(context.TODO())
	require.NoError(t, err)

	stats := p.Stats()
	require.Equal(t, stats.Size, stats.Idle+stats.InUse)
	require.Equal(t, 1, stats.InUse)

	p.Release(conn)

	stats = p.Stats()
	require.Equal(t, stats.Size, stats.Idle+stats.InUse)
	require.Equal(t, 0, stats.InUse)
}

// TestPoolReleaseBrokenDiscards ensures a connection marked broken is not
// returned to the idle set.
func TestPoolReleaseBrokenDiscards(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	cfg, _ := NewTestConfig(t)
	cfg.MinSize = 1

	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Drain() }()

	conn, err := p.Acquire(context.TODO())
	require.NoError(t, err)
	id := conn.ID()

	conn.MarkBroken()
	p.Release(conn)

	stats := p.Stats()
	require.Equal(t, 0, stats.InUse)
	require.Equal(t, 0, stats.Size)

	replacement, err := p.Acquire(context.TODO())
	require.NoError(t, err)
	require.NotEqual(t, id, replacement.ID())
	p.Release(replacement)
}

// TestPoolDrainTerminal ensures a drained pool rejects further use.
func TestPoolDrainTerminal(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	cfg, _ := NewTestConfig(t)

	p, err := NewPool(cfg)
	require.NoError(t, err)

	require.NoError(t, p.Drain())

	_, err = p.Acquire(context.TODO())
	require.True(t, errors.Is(err, ErrPoolClosed))

	require.True(t, errors.Is(p.Drain(), ErrPoolClosed))
}

// TestPoolConnectFailure ensures construction fails when the backend is
// unreachable.
func TestPoolConnectFailure(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	cfg := Config{
		URL:            "redis://127.0.0.1:1",
		MinSize:        1,
		MaxSize:        2,
		ConnectTimeout: 100 * time.Millisecond,
	}.WithLogger(logger.Sugar)

	_, err := NewPool(cfg)
	require.True(t, errors.Is(err, ErrConnect))
}
