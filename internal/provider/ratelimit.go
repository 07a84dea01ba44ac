package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ashureev/backroom/internal/domain"
)

// RateLimited waits on a shared limiter before each call to the wrapped adapter.
type RateLimited struct {
	next    Adapter
	limiter *rate.Limiter
	backend string
}

// NewRateLimited wraps next. A non-positive perMinute disables limiting.
func NewRateLimited(next Adapter, backend string, perMinute float64, burst int) Adapter {
	if perMinute <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perMinute/60.0), burst),
		backend: backend,
	}
}

// Generate implements Adapter.
func (r *RateLimited) Generate(ctx context.Context, history []domain.Message, systemPrompt string, params domain.GenerationParams) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", &Error{Kind: KindRateLimit, Backend: r.backend, Err: fmt.Errorf("local limiter: %w", err)}
	}
	return r.next.Generate(ctx, history, systemPrompt, params)
}
