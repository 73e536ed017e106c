package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Detector finds out which backend a host speaks and opens a Session.
type Detector struct {
	connectors []Connector
	timeouts   Timeouts
	observer   Observer
	logger     zerolog.Logger
}

// NewDetector creates a detector that tries connectors in the given order.
func NewDetector(timeouts Timeouts, observer Observer, logger zerolog.Logger, connectors ...Connector) *Detector {
	return &Detector{
		connectors: connectors,
		timeouts:   timeouts.WithDefaults(),
		observer:   observerOrNop(observer),
		logger:     logger,
	}
}

// Connect opens a session to host. With KindAuto every connector is tried
// in priority order and the first completed handshake wins; connector failures
// are only counted. A forced kind skips probing and fails with a diagnostic
// naming the port that did not answer.
func (d *Detector) Connect(ctx context.Context, host string, kind Kind) (*Session, error) {
	if host == "" {
		return nil, NewError(ErrHandshake, kind, "connect", errors.New("empty host"))
	}
	if kind != KindAuto {
		return d.connectForced(ctx, host, kind)
	}

	failed := 0
	for _, c := range d.connectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		backend, err := d.attempt(ctx, c, host)
		if err != nil {
			failed++
			d.logger.Debug().Err(err).Str("host", host).Stringer("backend", c.Kind()).Int("port", c.Port()).Msg("Connector got no handshake")
			continue
		}
		return d.newSession(host, c, backend), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, NewError(ErrHandshake, KindAuto, "detect",
		fmt.Errorf("no supported router answered at %s (%d of %d attempts failed)", host, failed, len(d.connectors)))
}

func (d *Detector) connectForced(ctx context.Context, host string, kind Kind) (*Session, error) {
	for _, c := range d.connectors {
		if c.Kind() != kind {
			continue
		}
		backend, err := d.attempt(ctx, c, host)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, NewError(ErrHandshake, kind, "connect",
				fmt.Errorf("no response on port %d of %s: %w", c.Port(), host, err))
		}
		return d.newSession(host, c, backend), nil
	}
	return nil, NewError(ErrHandshake, kind, "connect", errors.New("backend not registered"))
}

// attempt runs one connector's handshake bounded by the handshake timeout.
func (d *Detector) attempt(ctx context.Context, c Connector, host string) (Backend, error) {
	backend, err := c.Connect(ctx, host, d.timeouts.Handshake)
	d.observer.AttemptFinished(c.Kind(), err == nil)
	return backend, err
}

func (d *Detector) newSession(host string, c Connector, backend Backend) *Session {
	info := backend.Info()
	d.logger.Info().
		Str("host", host).
		Stringer("backend", info.Kind).
		Str("model", info.Model).
		Str("name", info.Name).
		Int("inputs", info.Inputs).
		Int("outputs", info.Outputs).
		Msg("Router connected")
	return NewSession(backend, SessionConfig{
		Host:      host,
		Connector: c,
		Timeouts:  d.timeouts,
		Observer:  d.observer,
		Logger:    d.logger,
	})
}
