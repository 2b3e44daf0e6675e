package config

import "time"

// RateLimitConfig configures one Redis token bucket.  The service keeps
// two: one for guest writes (holds and confirmations) and a looser one
// for provider webhooks.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string // ip, route, ip_route or operator
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables for guest writes.
func LoadRateLimitConfig() RateLimitConfig {
	return loadRateLimit("RATE_LIMIT", RateLimitConfig{
		Capacity:       20,
		RefillTokens:   1,
		RefillInterval: 3 * time.Second,
		KeyStrategy:    "ip_route",
		Prefix:         "rl:guest",
	})
}

// LoadWebhookRateLimitConfig reads WEBHOOK_RATE_LIMIT_* variables.
func LoadWebhookRateLimitConfig() RateLimitConfig {
	return loadRateLimit("WEBHOOK_RATE_LIMIT", RateLimitConfig{
		Capacity:       120,
		RefillTokens:   10,
		RefillInterval: time.Second,
		KeyStrategy:    "ip",
		Prefix:         "rl:webhook",
	})
}

func loadRateLimit(prefix string, def RateLimitConfig) RateLimitConfig {
	c := RateLimitConfig{
		Enabled:        envBool(prefix+"_ENABLED", envBool("RATE_LIMIT_ENABLED", true)),
		Capacity:       envInt(prefix+"_CAPACITY", def.Capacity),
		RefillTokens:   envInt(prefix+"_REFILL_TOKENS", def.RefillTokens),
		RefillInterval: envDur(prefix+"_REFILL_INTERVAL", def.RefillInterval),
		TTL:            envDur(prefix+"_TTL", 10*time.Minute),
		KeyStrategy:    envStr(prefix+"_KEY_STRATEGY", def.KeyStrategy),
		Prefix:         envStr(prefix+"_PREFIX", def.Prefix),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	// a bucket must outlive several refills or it resets to full
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}
