package sessionstore

import (
	"fmt"
	"time"
)

// Config carries construction-time settings shared by every backend.
//
// Config instances are intended to be filled once during initialization and
// then treated as immutable.
type Config struct {
	// DefaultSessionTTL is applied when a create payload carries no
	// explicit expiry. Either a bare millisecond count ("900000") or a
	// shorthand ("15m", "7d"). Empty means sessions without an explicit
	// expiry never expire.
	DefaultSessionTTL string

	// RedisKeyPrefix namespaces the cache backend's keys. Defaults to "ss".
	RedisKeyPrefix string

	// SweepInterval is the cadence of the optional background [Sweeper].
	SweepInterval time.Duration
}

func defaultConfig() Config {
	return Config{
		DefaultSessionTTL: "7d",
		RedisKeyPrefix:    "ss",
		SweepInterval:     5 * time.Minute,
	}
}

// DefaultConfig returns the baseline configuration: seven-day sessions,
// "ss" key namespace, five-minute sweep cadence.
func DefaultConfig() Config {
	return defaultConfig()
}

// Validate resolves and checks the configuration, returning the parsed
// default TTL. A malformed DefaultSessionTTL fails here, at construction,
// rather than on a later create path.
func (c Config) Validate() (time.Duration, error) {
	if c.DefaultSessionTTL == "" {
		return 0, nil
	}
	ttl, err := ParseTTL(c.DefaultSessionTTL)
	if err != nil {
		return 0, fmt.Errorf("sessionstore config: default session ttl: %w", err)
	}
	return ttl, nil
}
