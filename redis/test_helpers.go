package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/dbplane/go-dbplane-common/logger"
)

// NewTestConfig returns a Config pointed at a miniredis instance started
// for, and torn down with, the test.
func NewTestConfig(t *testing.T) (Config, *miniredis.Miniredis) {
	logger.New("NOOP")
	mr := miniredis.RunT(t)
	cfg := Config{
		URL:            "redis://" + mr.Addr(),
		Namespace:      "test",
		MinSize:        1,
		MaxSize:        5,
		ConnectTimeout: time.Second,
		AcquireTimeout: time.Second,
		CallTimeout:    time.Second,
	}
	return cfg.WithLogger(logger.Sugar), mr
}

// NewTestClient returns a CacheClient backed by miniredis. Close is
// registered as test cleanup.
func NewTestClient(t *testing.T, opts ...ClientOption) (*CacheClient, *miniredis.Miniredis) {
	cfg, mr := NewTestConfig(t)
	client, err := NewCacheClient(cfg, opts...)
	if err != nil {
		t.Fatalf("unable to create cache client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, mr
}
