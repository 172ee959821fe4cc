package redis

// Pooled, breaker guarded access to the redis session store.
//
// There are four pieces in this package:
//
//	1. Pool - a bounded pool of dedicated backend connections.
//	2. CacheClient - typed redis operations issued over the pool, through
//	   the circuit breaker, with per operation metrics and hotkey
//	   accounting.
//	3. SessionCache - cache-aside session validation over the CacheClient,
//	   falling back to the durable store when the cache is unavailable.
//	4. HotkeyDetector - passive per-key access rate estimation used to spot
//	   keys that are hot enough to need sharding attention.
//
// 1. Pool
//
// Every CacheClient call borrows exactly one connection for the duration of
// one logical operation and returns it in a deferred release, so an
// abandoned request cannot leak a connection. The pool never exceeds its
// configured maximum; acquisition waits, bounded by a timeout, when the pool
// is exhausted.
//
// 2. CacheClient
//
// Absence of a key is a value, never an error. Server error replies surface
// as ErrOperation; transport failures flag the borrowed connection
// broken so the pool retires it on release.
//
// 3. SessionCache
//
// A cache failure never becomes an authentication failure: any cache layer
// error degrades the validate path to the durable store. Invalid sessions
// are never cached. Bulk invalidation for a user is driven from a per-user
// index hash so a password reset does not depend on a keyspace scan.
//
// 4. HotkeyDetector
//
// Fed on the hot path of every operation; recording never blocks on I/O and
// never fails the operation that reported it.

import (
	"github.com/dbplane/go-dbplane-common/logger"
)

type Logger = logger.Logger
