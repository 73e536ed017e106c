package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Keepalive periodically checks a long-lived link. A failed check reports
// once through onDead and ends the loop; it never retries.
type Keepalive struct {
	Interval time.Duration
	Logger   zerolog.Logger

	check  func(ctx context.Context) error
	onDead func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewKeepalive creates a keepalive that calls check every interval.
func NewKeepalive(interval time.Duration, check func(ctx context.Context) error, onDead func(error), logger zerolog.Logger) *Keepalive {
	return &Keepalive{
		Interval: interval,
		Logger:   logger,
		check:    check,
		onDead:   onDead,
	}
}

// Start launches the check loop in a separate goroutine.
func (k *Keepalive) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.ctx != nil {
		return errors.New("keepalive is already running")
	}
	if k.Interval <= 0 {
		return errors.New("keepalive interval must be positive")
	}

	k.ctx, k.cancel = context.WithCancel(context.Background())

	k.wg.Add(1)
	go func(ctx context.Context) {
		defer k.wg.Done()
		k.run(ctx)
	}(k.ctx)

	k.Logger.Debug().Dur("interval", k.Interval).Msg("Keepalive started")
	return nil
}

// Stop ends the loop and waits for an in-flight check to return.
func (k *Keepalive) Stop() error {
	k.mu.Lock()
	if k.ctx == nil {
		k.mu.Unlock()
		return errors.New("keepalive is not running")
	}
	k.cancel()
	k.ctx = nil
	k.cancel = nil
	k.mu.Unlock()

	k.wg.Wait()
	k.Logger.Debug().Msg("Keepalive stopped")
	return nil
}

func (k *Keepalive) run(ctx context.Context) {
	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := k.check(ctx)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			k.Logger.Error().Err(err).Msg("Keepalive failed, marking link dead")
			if k.onDead != nil {
				k.onDead(err)
			}
			return

		case <-ctx.Done():
			return
		}
	}
}
