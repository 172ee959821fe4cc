package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"

	"github.com/dbplane/go-dbplane-common/breaker"
)

// TTL results for keys without an expiry and keys that do not exist.
const (
	TTLNoExpiry = time.Duration(-1)
	TTLNotFound = time.Duration(-2)
)

// CacheClient issues typed operations over a pooled connection, through the
// circuit breaker. Every call reports to the hotkey detector and the
// observer; neither can fail the operation.
type CacheClient struct {
	cfg      Config
	log      Logger
	pool     *Pool
	breaker  *breaker.Breaker
	hotkeys  *HotkeyDetector
	observer Observer
}

type ClientOption func(*CacheClient)

func WithObserver(observer Observer) ClientOption {
	return func(c *CacheClient) {
		c.observer = observer
	}
}

func WithHotkeyDetector(detector *HotkeyDetector) ClientOption {
	return func(c *CacheClient) {
		c.hotkeys = detector
	}
}

func NewCacheClient(cfg Config, opts ...ClientOption) (*CacheClient, error) {
	cfg = cfg.withDefaults()

	c := &CacheClient{
		cfg:      cfg,
		log:      cfg.Log(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hotkeys == nil {
		c.hotkeys = NewHotkeyDetector(cfg.HotkeyThreshold, cfg.MaxTrackedKeys)
	}

	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	c.pool = pool

	c.breaker = breaker.New(cfg.Namespace, breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		ProbeTimeout:     cfg.BreakerProbeTimeout,
		OnStateChange: func(e breaker.Event) {
			c.observer.ObserveBreakerTransition(e)
		},
	}, breaker.WithLogger(c.log))

	return c, nil
}

// Pool exposes pool statistics for health polling.
func (c *CacheClient) Pool() *Pool {
	return c.pool
}

// Breaker exposes the breaker for health polling.
func (c *CacheClient) Breaker() *breaker.Breaker {
	return c.breaker
}

// Hotkeys exposes the detector for the alerting consumer.
func (c *CacheClient) Hotkeys() *HotkeyDetector {
	return c.hotkeys
}

func (c *CacheClient) key(k string) string {
	if c.cfg.Namespace == "" {
		return k
	}
	return c.cfg.Namespace + ":" + k
}

func (c *CacheClient) stripKey(k string) string {
	if c.cfg.Namespace == "" {
		return k
	}
	return strings.TrimPrefix(k, c.cfg.Namespace+":")
}

// do runs one logical operation: span, acquire, breaker guarded execution,
// guaranteed release, hotkey and observer reporting. fn sees the dedicated
// connection for exactly the duration of the call.
func (c *CacheClient) do(ctx context.Context, op, key string, fn func(context.Context, *redis.Conn) error) error {
	span, ctx := otrace.StartSpanFromContext(ctx, "redis.client."+op)
	defer span.Finish()

	start := time.Now()

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		c.observe(op, key, start, err)
		return err
	}
	defer c.pool.Release(conn)

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := fn(ctx, conn.Conn())
		if isTransportError(err) {
			conn.MarkBroken()
		}
		return err
	})
	err = c.wrap(err, op)

	if key != "" {
		c.hotkeys.Record(key)
	}
	c.observe(op, key, start, err)
	return err
}

func (c *CacheClient) observe(op, key string, start time.Time, err error) {
	c.observer.ObserveOperation(OperationEvent{
		Operation: op,
		Key:       key,
		Duration:  time.Since(start),
		Success:   err == nil,
		Err:       err,
	})
}

// wrap maps raw client errors onto the package taxonomy. Errors that are
// already typed pass through so callers can errors.Is against exactly one
// vocabulary.
func (c *CacheClient) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrPoolClosed) ||
		errors.Is(err, ErrConnect) ||
		errors.Is(err, ErrOperation) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var serverErr redis.Error
	if errors.As(err, &serverErr) {
		return OperationError(err, op)
	}
	return ConnectError(err, op)
}

// isTransportError reports whether the connection itself should be
// considered unusable. Server error replies leave the connection healthy.
func isTransportError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var serverErr redis.Error
	if errors.As(err, &serverErr) {
		return false
	}
	return true
}

// Get returns the value and whether the key exists. Absence is a value, not
// an error.
func (c *CacheClient) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := c.do(ctx, "GET", key, func(ctx context.Context, cc *redis.Conn) error {
		v, err := cc.Get(ctx, c.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

// Set upserts the key. A zero ttl means the key persists until deleted.
func (c *CacheClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.do(ctx, "SET", key, func(ctx context.Context, cc *redis.Conn) error {
		return cc.Set(ctx, c.key(key), value, ttl).Err()
	})
}

// Del removes keys and returns how many existed. Deleting an absent key is
// not an error.
func (c *CacheClient) Del(ctx context.Context, keys ...string) (int64, error) {
	var deleted int64
	if len(keys) == 0 {
		return 0, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.key(k)
	}
	err := c.do(ctx, "DEL", keys[0], func(ctx context.Context, cc *redis.Conn) error {
		n, err := cc.Del(ctx, namespaced...).Result()
		deleted = n
		return err
	})
	return deleted, err
}

func (c *CacheClient) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.do(ctx, "EXISTS", key, func(ctx context.Context, cc *redis.Conn) error {
		n, err := cc.Exists(ctx, c.key(key)).Result()
		exists = n > 0
		return err
	})
	return exists, err
}

// Expire sets a ttl on an existing key. Returns false if the key does not
// exist.
func (c *CacheClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := c.do(ctx, "EXPIRE", key, func(ctx context.Context, cc *redis.Conn) error {
		v, err := cc.Expire(ctx, c.key(key), ttl).Result()
		ok = v
		return err
	})
	return ok, err
}

// TTL returns the remaining lifetime, TTLNoExpiry for keys that persist, or
// TTLNotFound for absent keys.
func (c *CacheClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := c.do(ctx, "TTL", key, func(ctx context.Context, cc *redis.Conn) error {
		v, err := cc.TTL(ctx, c.key(key)).Result()
		if err != nil {
			return err
		}
		// The client reports the redis sentinels -1/-2 as negative
		// durations; pin them to our constants.
		switch {
		case v < 0 && v >= TTLNotFound*time.Second:
			if v == TTLNoExpiry || v == TTLNoExpiry*time.Second {
				ttl = TTLNoExpiry
			} else {
				ttl = TTLNotFound
			}
		default:
			ttl = v
		}
		return nil
	})
	return ttl, err
}

func (c *CacheClient) HSet(ctx context.Context, key, field, value string) error {
	return c.do(ctx, "HSET", key, func(ctx context.Context, cc *redis.Conn) error {
		return cc.HSet(ctx, c.key(key), field, value).Err()
	})
}

func (c *CacheClient) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var value string
	var found bool
	err := c.do(ctx, "HGET", key, func(ctx context.Context, cc *redis.Conn) error {
		v, err := cc.HGet(ctx, c.key(key), field).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

// HGetAll returns every field of the hash; an absent key yields an empty
// map.
func (c *CacheClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := c.do(ctx, "HGETALL", key, func(ctx context.Context, cc *redis.Conn) error {
		v, err := cc.HGetAll(ctx, c.key(key)).Result()
		fields = v
		return err
	})
	return fields, err
}

func (c *CacheClient) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	var deleted int64
	err := c.do(ctx, "HDEL", key, func(ctx context.Context, cc *redis.Conn) error {
		n, err := cc.HDel(ctx, c.key(key), fields...).Result()
		deleted = n
		return err
	})
	return deleted, err
}

// Scan iterates the namespaced keyspace without blocking the server. The
// caller loops until the returned cursor is zero. No snapshot isolation:
// keys added or removed during the scan may or may not appear.
func (c *CacheClient) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	var keys []string
	var next uint64
	if match == "" {
		match = "*"
	}
	err := c.do(ctx, "SCAN", "", func(ctx context.Context, cc *redis.Conn) error {
		found, n, err := cc.Scan(ctx, cursor, c.key(match), count).Result()
		if err != nil {
			return err
		}
		keys = make([]string, 0, len(found))
		for _, k := range found {
			keys = append(keys, c.stripKey(k))
		}
		next = n
		return nil
	})
	return keys, next, err
}

// ServerInfo is the parsed INFO report: section -> key -> value.
type ServerInfo map[string]map[string]string

// Info fetches and parses the server's line oriented key:value report. An
// empty section requests the default set.
func (c *CacheClient) Info(ctx context.Context, section string) (ServerInfo, error) {
	var info ServerInfo
	err := c.do(ctx, "INFO", "", func(ctx context.Context, cc *redis.Conn) error {
		var cmd *redis.StringCmd
		if section == "" {
			cmd = cc.Info(ctx)
		} else {
			cmd = cc.Info(ctx, section)
		}
		raw, err := cmd.Result()
		if err != nil {
			return err
		}
		info = parseInfo(raw)
		return nil
	})
	return info, err
}

func parseInfo(raw string) ServerInfo {
	info := ServerInfo{}
	section := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if _, ok := info[section]; !ok {
			info[section] = map[string]string{}
		}
		info[section][k] = v
	}
	return info
}

// ConfigGet returns the server configuration parameter, with found=false
// when the server does not know the parameter.
func (c *CacheClient) ConfigGet(ctx context.Context, parameter string) (string, bool, error) {
	var value string
	var found bool
	err := c.do(ctx, "CONFIG_GET", "", func(ctx context.Context, cc *redis.Conn) error {
		pairs, err := cc.ConfigGet(ctx, parameter).Result()
		if err != nil {
			return err
		}
		if len(pairs) < 2 {
			return nil
		}
		v, ok := pairs[1].(string)
		if !ok {
			return nil
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

func (c *CacheClient) Ping(ctx context.Context) error {
	return c.do(ctx, "PING", "", func(ctx context.Context, cc *redis.Conn) error {
		return cc.Ping(ctx).Err()
	})
}

// Close drains the pool. The client is not reusable afterwards.
func (c *CacheClient) Close() error {
	c.log.Debugf("CacheClient Close")
	return c.pool.Drain()
}
