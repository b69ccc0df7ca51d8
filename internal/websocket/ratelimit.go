package websocket

import "golang.org/x/time/rate"

// RateLimitConfig is a token bucket over the inbound frames of each socket.
// A socket that runs out of tokens is closed with 1008 (policy violation).
type RateLimitConfig struct {
	MessagesPerSecond rate.Limit // refill rate
	Burst             int        // bucket size
	Enabled           bool
}

// DefaultRateLimitConfig allows 100 frames per second in bursts of up to 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit turns the bucket off.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{}
}

// limiter returns nil when c limits nothing.
func (c *RateLimitConfig) limiter() *rate.Limiter {
	if c == nil || !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.MessagesPerSecond, c.Burst)
}

// allow takes one token for an inbound frame.
func (s *Socket) allow() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}
