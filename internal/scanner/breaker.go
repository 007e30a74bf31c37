package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"rigscout/internal/listing"
)

// platformBreakers trips a marketplace after consecutive extraction failures so a
// blocked or broken site stops consuming scan slots for a cooldown.
type platformBreakers struct {
	threshold uint32
	cooldown  time.Duration
	logger    zerolog.Logger

	mu       sync.Mutex
	breakers map[listing.Platform]*gobreaker.CircuitBreaker
}

func newPlatformBreakers(threshold uint32, cooldown time.Duration, logger zerolog.Logger) *platformBreakers {
	return &platformBreakers{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		breakers:  make(map[listing.Platform]*gobreaker.CircuitBreaker),
	}
}

func (b *platformBreakers) get(p listing.Platform) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[p]; ok {
		return cb
	}
	threshold := b.threshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(p),
		MaxRequests: 1,
		Timeout:     b.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn().Str("platform", name).Str("from", from.String()).Str("to", to.String()).Msg("platform breaker state changed")
		},
	})
	b.breakers[p] = cb
	return cb
}

// state reports the breaker state for p. Disabled breakers are always closed.
func (b *platformBreakers) state(p listing.Platform) gobreaker.State {
	if b == nil {
		return gobreaker.StateClosed
	}
	return b.get(p).State()
}

// do runs fn through the platform breaker. A nil set runs fn directly.
func (b *platformBreakers) do(p listing.Platform, fn func() ([]listing.Draft, error)) ([]listing.Draft, error) {
	if b == nil {
		return fn()
	}
	out, err := b.get(p).Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrPlatformUnavailable
		}
		return nil, err
	}
	drafts, _ := out.([]listing.Draft)
	return drafts, nil
}
