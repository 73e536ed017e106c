package router

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrAbandoned is returned by a strategy that gave up on its transport and
// wants the next strategy in the chain to take over.
var ErrAbandoned = errors.New("strategy abandoned")

// Strategy is one attempt in an ordered fallback chain.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Policy runs strategies in order. Each strategy runs at most once, so a
// chain of two strategies falls back at most once.
type Policy[T any] struct {
	Strategies []Strategy[T]
	// ShouldFallback classifies a strategy failure; nil uses DefaultFallback.
	ShouldFallback func(error) bool
}

// DefaultFallback moves on for abandoned strategies and for transport
// failures, and stops for cancellation.
func DefaultFallback(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrAbandoned) ||
		errors.Is(err, ErrTransportLost) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProtocol)
}

// Execute returns the first successful result and the name of the strategy
// that produced it. When every strategy fails it returns the last error.
func (p Policy[T]) Execute(ctx context.Context, logger zerolog.Logger) (T, string, error) {
	classify := p.ShouldFallback
	if classify == nil {
		classify = DefaultFallback
	}

	var zero T
	var lastErr error
	for i, s := range p.Strategies {
		if err := ctx.Err(); err != nil {
			return zero, s.Name, err
		}
		result, err := s.Run(ctx)
		if err == nil {
			return result, s.Name, nil
		}
		lastErr = err
		last := i == len(p.Strategies)-1
		if last || !classify(err) {
			return result, s.Name, err
		}
		logger.Warn().Err(err).Str("strategy", s.Name).Str("next", p.Strategies[i+1].Name).Msg("Strategy failed, falling back")
	}
	if lastErr == nil {
		lastErr = errors.New("no strategies configured")
	}
	return zero, "", lastErr
}
