// Package ratelimit enforces a per-client query budget. Limiters live in a
// bounded LRU so a scan over many sources cannot grow memory without end.
package ratelimit

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/time/rate"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
)

const limiterCacheSize = 4096

// RateLimit type
type RateLimit struct {
	cache *lru.Cache[string, *rate.Limiter]
	rate  int
}

// New return new ratelimit. A rate of zero disables the middleware.
func New(cfg *config.Config) *RateLimit {
	r := &RateLimit{rate: cfg.RateLimit}

	if r.rate > 0 {
		r.cache, _ = lru.New[string, *rate.Limiter](limiterCacheSize)
	}

	return r
}

// (*RateLimit).Name return middleware name
func (r *RateLimit) Name() string { return name }

// (*RateLimit).ServeDNS implements the Handler interface.
func (r *RateLimit) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if r.rate == 0 || ch.Writer.Internal() {
		ch.Next(ctx)
		return
	}

	if !r.limiter(ch.Writer.RemoteIP().String()).Allow() {
		zlog.Debug("Query rate limited", "client", ch.Writer.RemoteIP().String())

		// drop without a reply, answering amplifies
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

func (r *RateLimit) limiter(client string) *rate.Limiter {
	if rl, ok := r.cache.Get(client); ok {
		return rl
	}

	rl := rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.rate)), r.rate)
	r.cache.Add(client, rl)

	return rl
}

const name = "ratelimit"
