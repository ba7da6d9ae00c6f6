package modeladapter

import (
	"context"
	"fmt"
	"time"

	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/modeladapter/usage"
	"golang.org/x/time/rate"
)

var _ Streamer = (*RateLimited)(nil)

// RateLimitOpts configures a RateLimited streamer.
type RateLimitOpts struct {
	RPM   int // Stream opens per minute (0 = no limit).
	Burst int // Opens allowed back to back (default 1).
}

// RateLimited gates Open on a token bucket shared by every session using the
// same Streamer. It never retries; a failed Open is returned as is.
type RateLimited struct {
	inner   Streamer
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a request-rate limit.
func NewRateLimited(inner Streamer, opts RateLimitOpts) *RateLimited {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	limit := rate.Inf
	if opts.RPM > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RPM))
	}

	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(limit, opts.Burst),
	}
}

// Open waits for capacity, then opens a stream on the inner Streamer.
// Cancelling ctx while waiting returns the context error. A wait that would
// outlast ctx's deadline fails at once with ErrServiceUnavailable.
func (r *RateLimited) Open(ctx context.Context, c *chat.Chat, p Params) (Stream, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, Unavailable(fmt.Errorf("modeladapter: rate limit: %w", err))
	}

	return r.inner.Open(ctx, c, p)
}

// UsageTracker returns the inner streamer's tracker, or nil if it keeps none.
func (r *RateLimited) UsageTracker() *usage.Tracker {
	if ur, ok := r.inner.(UsageReporter); ok {
		return ur.UsageTracker()
	}
	return nil
}
