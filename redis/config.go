package redis

import (
	"crypto/tls"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	env "github.com/dbplane/go-dbplane-common/environment"
	"github.com/dbplane/go-dbplane-common/logger"
)

const (
	RedisURLEnv       = "REDIS_STORE_URL"
	RedisNamespaceEnv = "REDIS_KEY_NAMESPACE"
	//nolint:gosec
	RedisPasswordFileEnv = "REDIS_STORE_PASSWORD_FILENAME"
	RedisTierEnv         = "REDIS_POOL_TIER"

	RedisConnectTimeoutEnv = "REDIS_CONNECT_TIMEOUT"
	RedisAcquireTimeoutEnv = "REDIS_ACQUIRE_TIMEOUT"
	RedisCallTimeoutEnv    = "REDIS_CALL_TIMEOUT"
	RedisIdleTimeoutEnv    = "REDIS_IDLE_TIMEOUT"

	RedisBreakerThresholdEnv = "REDIS_BREAKER_FAILURE_THRESHOLD"
	RedisBreakerResetEnv     = "REDIS_BREAKER_RESET_TIMEOUT"
	RedisBreakerProbeEnv     = "REDIS_BREAKER_PROBE_TIMEOUT"

	RedisHotkeyThresholdEnv = "REDIS_HOTKEY_THRESHOLD"
	RedisHotkeyMaxKeysEnv   = "REDIS_HOTKEY_MAX_TRACKED_KEYS"

	defaultConnectTimeout = 5 * time.Second
	defaultAcquireTimeout = 3 * time.Second
	defaultCallTimeout    = 2 * time.Second
	defaultIdleTimeout    = 5 * time.Minute
	defaultDrainGrace     = 10 * time.Second

	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second

	defaultHotkeyThreshold = 600.0 // accesses per minute
	defaultHotkeyMaxKeys   = 1000
)

// Tier selects a pool sizing profile for a tenant class. The limits are
// resolved exactly once, at pool construction.
type Tier string

const (
	TierStarter     Tier = "starter"
	TierStandard    Tier = "standard"
	TierPerformance Tier = "performance"
)

type TierLimits struct {
	MinSize int
	MaxSize int
}

var tierLimits = map[Tier]TierLimits{
	TierStarter:     {MinSize: 1, MaxSize: 5},
	TierStandard:    {MinSize: 2, MaxSize: 20},
	TierPerformance: {MinSize: 5, MaxSize: 50},
}

// Limits resolves the pool bounds for the tier. Unknown tiers resolve to
// TierStandard.
func (t Tier) Limits() TierLimits {
	limits, ok := tierLimits[t]
	if !ok {
		return tierLimits[TierStandard]
	}
	return limits
}

// Config carries everything the pool, breaker, client and detector need. It
// is externally supplied and immutable after construction of the client.
type Config struct {
	// URL is a redis:// or rediss:// connection string carrying credentials,
	// host, port and the TLS flag. Parsed with redis.ParseURL.
	URL string
	// Password, if set, overrides any password embedded in URL. Usually read
	// indirectly from a mounted secret file.
	Password string
	// Namespace prefixes every key written through the CacheClient.
	Namespace string

	// Tier resolves MinSize/MaxSize unless both are set explicitly.
	Tier    Tier
	MinSize int
	MaxSize int

	ConnectTimeout time.Duration
	AcquireTimeout time.Duration
	// CallTimeout bounds each backend call at the transport level.
	CallTimeout time.Duration
	IdleTimeout time.Duration
	DrainGrace  time.Duration

	FailureThreshold    int
	ResetTimeout        time.Duration
	BreakerProbeTimeout time.Duration

	HotkeyThreshold float64
	MaxTrackedKeys  int

	log Logger
}

// FromEnvOrFatal assumes conventional service env vars and populates a
// Config or panics out. The password is read indirectly from the file named
// by RedisPasswordFileEnv when that variable is present.
func FromEnvOrFatal(log Logger) Config {
	cfg := Config{
		URL:       env.GetOrFatal(RedisURLEnv),
		Namespace: env.GetOrFatal(RedisNamespaceEnv),
		Password:  env.ReadWithDefault(RedisPasswordFileEnv, ""),
		Tier:      Tier(env.GetWithDefault(RedisTierEnv, string(TierStandard))),

		ConnectTimeout: env.GetDurationWithDefault(RedisConnectTimeoutEnv, defaultConnectTimeout),
		AcquireTimeout: env.GetDurationWithDefault(RedisAcquireTimeoutEnv, defaultAcquireTimeout),
		CallTimeout:    env.GetDurationWithDefault(RedisCallTimeoutEnv, defaultCallTimeout),
		IdleTimeout:    env.GetDurationWithDefault(RedisIdleTimeoutEnv, defaultIdleTimeout),

		FailureThreshold:    env.GetIntWithDefault(RedisBreakerThresholdEnv, defaultBreakerThreshold),
		ResetTimeout:        env.GetDurationWithDefault(RedisBreakerResetEnv, defaultBreakerReset),
		BreakerProbeTimeout: env.GetDurationWithDefault(RedisBreakerProbeEnv, 0),

		MaxTrackedKeys: env.GetIntWithDefault(RedisHotkeyMaxKeysEnv, defaultHotkeyMaxKeys),

		log: log,
	}

	if value := env.GetWithDefault(RedisHotkeyThresholdEnv, ""); value != "" {
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil {
			logger.Sugar.Panicf("unable to convert %s value to float: %v", RedisHotkeyThresholdEnv, err)
		}
		cfg.HotkeyThreshold = threshold
	}

	return cfg.withDefaults()
}

// withDefaults fills in zero fields. Called by the constructors so an
// explicitly built Config behaves the same as an env derived one.
func (cfg Config) withDefaults() Config {
	if cfg.MinSize == 0 && cfg.MaxSize == 0 {
		limits := cfg.Tier.Limits()
		cfg.MinSize = limits.MinSize
		cfg.MaxSize = limits.MaxSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = tierLimits[TierStandard].MaxSize
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = defaultDrainGrace
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultBreakerThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultBreakerReset
	}
	if cfg.HotkeyThreshold <= 0 {
		cfg.HotkeyThreshold = defaultHotkeyThreshold
	}
	if cfg.MaxTrackedKeys <= 0 {
		cfg.MaxTrackedKeys = defaultHotkeyMaxKeys
	}
	if cfg.log == nil {
		cfg.log = logger.Sugar
	}
	return cfg
}

// WithLogger returns a copy of the config carrying the supplied logger.
func (cfg Config) WithLogger(log Logger) Config {
	cfg.log = log
	return cfg
}

func (cfg Config) Log() Logger {
	if cfg.log == nil {
		return logger.Sugar
	}
	return cfg.log
}

// options parses the connection string into client options. rediss URLs get
// TLS 1.2 as the floor; the transport level call timeout applies to every
// read and write.
func (cfg Config) options() (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, ConnectError(err, cfg.URL)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if opts.TLSConfig != nil {
		opts.TLSConfig.MinVersion = tls.VersionTLS12
	}
	opts.DialTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.CallTimeout
	opts.WriteTimeout = cfg.CallTimeout
	// The pool below owns connection lifecycle; the client side pool only
	// needs to be big enough to hand out MaxSize dedicated connections.
	opts.PoolSize = cfg.MaxSize
	opts.MinIdleConns = 0
	return opts, nil
}
