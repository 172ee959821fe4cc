package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	otrace "github.com/opentracing/opentracing-go"
	"golang.org/x/sync/singleflight"
)

const (
	sessionKeyPrefix   = "session:"
	userIndexKeyPrefix = "usersessions:"

	defaultSessionTTL = 30 * time.Minute

	// purgeScanCount is the per-iteration batch size for the scan based
	// maintenance purge.
	purgeScanCount = 100
)

// Session is the cached shape of a validated session.
type Session struct {
	ID        string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Payload   map[string]string `json:"payload,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)
}

// SessionStore is the durable store collaborator consulted on cache miss.
// Returning (nil, nil) means the token is invalid everywhere.
type SessionStore interface {
	ValidateSession(ctx context.Context, token string) (*Session, error)
}

// SessionCacheMetrics is polled by the health endpoint.
type SessionCacheMetrics struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// SessionCache validates sessions cache-aside: the cache is consulted
// first, the durable store only on miss or cache failure, and a confirmed
// session is written back with a bounded TTL. Every cached session is also
// registered in a per-user index hash so InvalidateAllForUser never needs a
// keyspace scan.
//
// A cache layer error never fails validation; it degrades the call to the
// store. Concurrent validates for the same token are collapsed to a single
// store call.
type SessionCache struct {
	client *CacheClient
	store  SessionStore
	ttl    time.Duration
	log    Logger

	group singleflight.Group

	hits   uint64
	misses uint64
	errors uint64
}

type SessionCacheOption func(*SessionCache)

// WithSessionTTL bounds how long a confirmed session may live in the cache.
func WithSessionTTL(ttl time.Duration) SessionCacheOption {
	return func(sc *SessionCache) {
		sc.ttl = ttl
	}
}

func NewSessionCache(client *CacheClient, store SessionStore, opts ...SessionCacheOption) *SessionCache {
	sc := &SessionCache{
		client: client,
		store:  store,
		ttl:    defaultSessionTTL,
		log:    client.log,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

func userIndexKey(userID string) string {
	return userIndexKeyPrefix + userID
}

// Validate returns the session for the token, or nil if the token is
// invalid. The durable store is not consulted on a cache hit. Invalid
// sessions are never cached: caching a negative would mask a revocation
// and poison the cache for the TTL.
func (sc *SessionCache) Validate(ctx context.Context, token string) (*Session, error) {
	log := sc.log.FromContext(ctx)
	defer log.Close()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.sessions.Validate")
	defer span.Finish()

	value, found, err := sc.client.Get(ctx, sessionKey(token))
	switch {
	case err != nil:
		atomic.AddUint64(&sc.errors, 1)
		sc.client.observer.ObserveSessionOutcome(SessionError)
		log.Infof("session cache unavailable, degrading to store: %v", err)
	case found:
		session := &Session{}
		if uerr := json.Unmarshal([]byte(value), session); uerr == nil && !session.expired(time.Now()) {
			atomic.AddUint64(&sc.hits, 1)
			sc.client.observer.ObserveSessionOutcome(SessionHit)
			return session, nil
		}
		// Corrupt or stale entry; treat as a miss and repopulate below.
		atomic.AddUint64(&sc.misses, 1)
		sc.client.observer.ObserveSessionOutcome(SessionMiss)
	default:
		atomic.AddUint64(&sc.misses, 1)
		sc.client.observer.ObserveSessionOutcome(SessionMiss)
	}

	// Collapse concurrent fallbacks for the same token to one store call.
	v, err, _ := sc.group.Do(token, func() (any, error) {
		return sc.store.ValidateSession(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	session, _ := v.(*Session)
	if session == nil {
		return nil, nil
	}

	if cerr := sc.cache(ctx, token, session); cerr != nil {
		// Best effort: the session is valid regardless of whether we
		// managed to cache it.
		log.Infof("unable to cache session: %v", cerr)
	}
	return session, nil
}

// Warm populates the cache directly, for pre-authenticated flows such as a
// just-issued token.
func (sc *SessionCache) Warm(ctx context.Context, token string, session *Session) error {
	return sc.cache(ctx, token, session)
}

// cache writes the session and registers it in the per-user index. The
// cache TTL never outlives the session's own expiry.
func (sc *SessionCache) cache(ctx context.Context, token string, session *Session) error {
	b, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("unable to marshal session: %w", err)
	}

	ttl := sc.ttl
	if !session.ExpiresAt.IsZero() {
		if remaining := time.Until(session.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return nil
	}

	if err = sc.client.Set(ctx, sessionKey(token), string(b), ttl); err != nil {
		return err
	}

	if session.UserID != "" {
		indexKey := userIndexKey(session.UserID)
		if err = sc.client.HSet(ctx, indexKey, token, sessionKey(token)); err != nil {
			return err
		}
		// The index must outlive its newest member or bulk invalidation
		// misses live sessions.
		if _, err = sc.client.Expire(ctx, indexKey, sc.ttl*2); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate deletes the single cached entry for the token. Idempotent:
// invalidating an absent session succeeds. A cache layer failure here is a
// soft failure; the entry's TTL still bounds how long it can outlive the
// revocation.
func (sc *SessionCache) Invalidate(ctx context.Context, token string) error {
	log := sc.log.FromContext(ctx)
	defer log.Close()

	// Read the entry first so the user index can be tidied too.
	var userID string
	value, found, err := sc.client.Get(ctx, sessionKey(token))
	if err == nil && found {
		session := &Session{}
		if json.Unmarshal([]byte(value), session) == nil {
			userID = session.UserID
		}
	}

	if _, err = sc.client.Del(ctx, sessionKey(token)); err != nil {
		atomic.AddUint64(&sc.errors, 1)
		log.Infof("session invalidate did not reach the cache: %v", err)
		return err
	}
	if userID != "" {
		if _, err = sc.client.HDel(ctx, userIndexKey(userID), token); err != nil {
			log.Infof("unable to remove session from user index: %v", err)
		}
	}
	return nil
}

// InvalidateAllForUser removes every cached session for the user, driven
// from the per-user index. Used for password resets and forced logout.
func (sc *SessionCache) InvalidateAllForUser(ctx context.Context, userID string) error {
	log := sc.log.FromContext(ctx)
	defer log.Close()

	indexKey := userIndexKey(userID)
	fields, err := sc.client.HGetAll(ctx, indexKey)
	if err != nil {
		atomic.AddUint64(&sc.errors, 1)
		return err
	}

	keys := make([]string, 0, len(fields)+1)
	for _, key := range fields {
		keys = append(keys, key)
	}
	keys = append(keys, indexKey)

	deleted, err := sc.client.Del(ctx, keys...)
	if err != nil {
		atomic.AddUint64(&sc.errors, 1)
		return err
	}
	log.Debugf("invalidated %d cached sessions for user %s", deleted, userID)
	return nil
}

// PurgeSessions walks the session keyspace with SCAN and deletes every
// entry. Best effort maintenance only: the scan is not atomic and entries
// written concurrently may survive. Returns the number of keys deleted.
func (sc *SessionCache) PurgeSessions(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := sc.client.Scan(ctx, cursor, sessionKeyPrefix+"*", purgeScanCount)
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := sc.client.Del(ctx, keys...)
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Metrics reports hit/miss/error counts. hitRate considers only calls that
// reached a definitive cache answer.
func (sc *SessionCache) Metrics() SessionCacheMetrics {
	hits := atomic.LoadUint64(&sc.hits)
	misses := atomic.LoadUint64(&sc.misses)
	m := SessionCacheMetrics{
		Hits:   hits,
		Misses: misses,
		Errors: atomic.LoadUint64(&sc.errors),
	}
	if total := hits + misses; total > 0 {
		m.HitRate = float64(hits) / float64(total)
	}
	return m
}
