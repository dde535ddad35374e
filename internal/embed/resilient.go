package embed

import (
	"context"
	"time"

	"ecm/internal/config"
	"ecm/internal/errs"
	"ecm/internal/logging"
)

// Resilient wraps an Embedder with a cache, a rate limiter, a circuit
// breaker, and retry with backoff — the resilience stack placed around
// the external embedder boundary, since in production it is a network
// call subject to rate limits and transient failures.
type Resilient struct {
	inner   Embedder
	cache   *Cache
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   RetryConfig
	timeout time.Duration
	log     logging.Logger
}

// NewResilient builds the resilience stack around inner from cfg.
func NewResilient(inner Embedder, cfg config.EmbeddingConfig, log logging.Logger) *Resilient {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Resilient{
		inner:   inner,
		cache:   NewCache(cfg.CacheSize, 24*time.Hour),
		limiter: NewRateLimiter(cfg.RateLimitRPS, time.Second),
		breaker: NewCircuitBreaker(cfg.CircuitFailures, 2, 20*time.Second, func(from, to State) {
			log.Warn("embed circuit breaker state change", "from", from.String(), "to", to.String())
		}),
		retry:   DefaultRetryConfig(cfg.MaxRetries),
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		log:     log.WithComponent("embed"),
	}
}

func (r *Resilient) Dimensions() int { return r.inner.Dimensions() }

func (r *Resilient) HealthCheck(ctx context.Context) error {
	return r.inner.HealthCheck(ctx)
}

// Embed returns a cached embedding if present, otherwise calls the
// wrapped embedder through the rate limiter, circuit breaker and retry,
// caching the result.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(text)
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, errs.CancelledError(err)
	}

	var result []float32
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return Retry(ctx, r.retry, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			v, embedErr := r.inner.Embed(callCtx, text)
			if embedErr != nil {
				retryable := callCtx.Err() != nil
				return errs.EmbedError(embedErr, retryable, "embedding request failed")
			}
			result = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	r.cache.Put(key, result)
	return result, nil
}

// EmbedBatch embeds each text independently through Embed, so cache hits
// and circuit state are shared across the batch.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := r.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
