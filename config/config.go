// Package config reads the server configuration from the environment and
// optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cvhariharan/sailboat/inbox"
)

type Config struct {
	Addr     string
	Domain   string
	DBPath   string
	APIToken string

	RequestTimeout      time.Duration
	DeliveryTimeout     time.Duration
	DeliveryConcurrency int

	Signatures inbox.VerifyMode
	ClockSkew  time.Duration

	OutboxPageSize int

	MemcacheServers []string
	ActorCacheTTL   time.Duration
}

// Load reads the given .env files (or ./.env when none are given) into the
// process environment, then builds the configuration from it. Variables
// already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:     getEnv("SAILBOAT_ADDR", ":3000"),
		Domain:   strings.ToLower(getEnv("SAILBOAT_DOMAIN", "")),
		DBPath:   getEnv("DB_PATH", "./sailboat.db"),
		APIToken: getEnv("SAILBOAT_API_TOKEN", ""),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("SAILBOAT_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryTimeout, err = getDuration("SAILBOAT_DELIVERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryConcurrency, err = getInt("SAILBOAT_DELIVERY_CONCURRENCY", 32); err != nil {
		return nil, err
	}
	if cfg.Signatures, err = inbox.ParseVerifyMode(getEnv("SAILBOAT_SIGNATURES", string(inbox.VerifyEnforce))); err != nil {
		return nil, err
	}
	if cfg.ClockSkew, err = getDuration("SAILBOAT_CLOCK_SKEW", inbox.DefaultClockSkew); err != nil {
		return nil, err
	}
	if cfg.OutboxPageSize, err = getInt("SAILBOAT_OUTBOX_PAGE_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.ActorCacheTTL, err = getDuration("SAILBOAT_ACTOR_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if servers := os.Getenv("MEMCACHE_SERVERS"); servers != "" {
		for _, s := range strings.Split(servers, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.MemcacheServers = append(cfg.MemcacheServers, s)
			}
		}
	}
	return cfg, nil
}

// memcached reads relative expirations above 30 days as timestamps.
const maxActorCacheTTL = 30 * 24 * time.Hour

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Domain == "":
		return errors.New("SAILBOAT_DOMAIN is required")
	case strings.ContainsAny(c.Domain, "/: "):
		return fmt.Errorf("SAILBOAT_DOMAIN must be a bare host name, got %q", c.Domain)
	case c.DeliveryConcurrency < 1:
		return errors.New("SAILBOAT_DELIVERY_CONCURRENCY must be positive")
	case c.OutboxPageSize < 1:
		return errors.New("SAILBOAT_OUTBOX_PAGE_SIZE must be positive")
	case c.ActorCacheTTL > maxActorCacheTTL:
		return fmt.Errorf("SAILBOAT_ACTOR_CACHE_TTL must be at most %s", maxActorCacheTTL)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, value)
	}
	return n, nil
}
