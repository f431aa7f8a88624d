package queue

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"drover/internal/config"
)

// RetryPolicy computes how long a failed job waits before its next attempt.
type RetryPolicy interface {
	// Delay returns the wait before retry n (1 is the first retry).
	Delay(retry int) time.Duration
}

// ExponentialJitter applies full jitter to an exponential base:
// a random value in [0, min(Initial * 2^(n-1), Max)].
type ExponentialJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func (e ExponentialJitter) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(retry-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
}

// Polynomial waits (n+2)^4 seconds plus up to 30s of jitter per retry,
// capped at Max.
type Polynomial struct {
	Max time.Duration
}

func (p Polynomial) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	seconds := math.Pow(float64(retry+2), 4) + float64((rand.IntN(30)+1)*retry) //nolint:gosec // jitter does not need crypto rand
	d := time.Duration(seconds * float64(time.Second))
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// NewRetryPolicy builds the policy named in cfg.
func NewRetryPolicy(cfg config.Retry) (RetryPolicy, error) {
	maxDelay := time.Duration(cfg.MaxDelay) * time.Second
	switch cfg.Policy {
	case "", "exponential":
		return ExponentialJitter{Initial: time.Duration(cfg.InitialDelay) * time.Second, Max: maxDelay}, nil
	case "polynomial":
		return Polynomial{Max: maxDelay}, nil
	default:
		return nil, fmt.Errorf("retry policy: unsupported value %q", cfg.Policy)
	}
}
