package nats

import (
	"math"
	"sync"
	"time"
)

// ReconnectDelayStrategy decides how long the reconnect loop waits before
// each attempt after the first.
type ReconnectDelayStrategy interface {
	// NextDelay returns the wait before the next attempt to reach uri.
	NextDelay(uri string) time.Duration
	// Reset is called after a successful reconnect.
	Reset()
}

// FixedDelayStrategy waits the same delay between every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a FixedDelayStrategy; negative delays are
// treated as zero.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

func (strategy *FixedDelayStrategy) NextDelay(string) time.Duration {
	if strategy == nil {
		return 0
	}
	return strategy.Delay
}

func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy multiplies the delay by Factor after every
// attempt to the same URI, capped at MaxDelay.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	attempts  map[string]int
}

// NewExponentialDelayStrategy returns an ExponentialDelayStrategy. A
// non-positive maxDelay defaults to 30s and a factor below 1 defaults to 2.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		attempts:  make(map[string]int),
	}
}

func (strategy *ExponentialDelayStrategy) NextDelay(uri string) time.Duration {
	if strategy == nil {
		return 0
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if strategy.attempts == nil {
		strategy.attempts = make(map[string]int)
	}
	attempt := strategy.attempts[uri]
	strategy.attempts[uri] = attempt + 1

	delay := float64(strategy.BaseDelay) * math.Pow(strategy.Factor, float64(attempt))
	if delay > float64(strategy.MaxDelay) {
		return strategy.MaxDelay
	}
	return time.Duration(delay)
}

func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = make(map[string]int)
	strategy.lock.Unlock()
}
