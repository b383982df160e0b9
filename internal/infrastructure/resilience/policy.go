package resilience

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how many times an operation is attempted and how long
// the executor sleeps between attempts.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
}

// BreakerPolicy configures the per-operation circuit breaker.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy

	// OnRetry is called before each backoff wait.
	OnRetry func(operation string, attempt int, err error)
}

// DefaultConfig suits short collaborator calls: embeddings, vector search,
// queue publishes.
func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2,
			Jitter:         0.2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

// JobConfig is used for rerunning whole job attempts; it has no breaker.
func JobConfig(maxAttempts int) Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    maxAttempts,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2,
		},
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultConfig().Retry
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxBackoff) {
			d = float64(p.MaxBackoff)
			break
		}
	}
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

func (p BreakerPolicy) withDefaults() BreakerPolicy {
	def := DefaultConfig().Breaker
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.HalfOpenMaxCalls == 0 {
		p.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return p
}
