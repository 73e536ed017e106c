package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionConfig carries the collaborators of a Session.
type SessionConfig struct {
	Host      string
	Connector Connector // used by Reconnect; may be nil
	Timeouts  Timeouts
	Observer  Observer
	Logger    zerolog.Logger
}

// Session is the caller-facing handle for one connected device. All protocol
// I/O for the device runs under one mutex, so two callers sharing a Session
// are served one after the other. Sessions for different devices share
// nothing and may run concurrently.
type Session struct {
	id        string
	host      string
	connector Connector
	timeouts  Timeouts
	observer  Observer
	logger    zerolog.Logger

	mu      sync.Mutex // serialises protocol I/O and guards backend
	backend Backend
	info    DeviceInfo

	alive        atomic.Bool
	lastActivity atomic.Int64

	stateMu   sync.Mutex
	dead      chan struct{}
	closed    bool
	keepalive *Keepalive
}

// NewSession wraps an already-connected backend. Backends that implement
// Pinger get an idle keepalive.
func NewSession(backend Backend, cfg SessionConfig) *Session {
	id := uuid.New().String()
	s := &Session{
		id:        id,
		host:      cfg.Host,
		connector: cfg.Connector,
		timeouts:  cfg.Timeouts.WithDefaults(),
		observer:  observerOrNop(cfg.Observer),
		backend:   backend,
		info:      backend.Info(),
		dead:      make(chan struct{}),
	}
	s.logger = cfg.Logger.With().
		Str("session", id).
		Str("host", cfg.Host).
		Stringer("backend", backend.Kind()).
		Logger()
	s.alive.Store(true)
	s.touch()
	s.observer.SessionAlive(s.info.Kind, true)
	s.startKeepalive()
	return s
}

func (s *Session) ID() string { return s.id }
func (s *Session) Host() string { return s.host }
func (s *Session) Info() DeviceInfo { return s.info }
func (s *Session) Kind() Kind { return s.info.Kind }
func (s *Session) Alive() bool { return s.alive.Load() }
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Dead returns a channel that is closed when the session loses its
// transport. After a successful Reconnect a new channel is handed out.
func (s *Session) Dead() <-chan struct{} {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.dead
}

// Download returns every port label. Completed records are returned even
// when the call is cut short.
func (s *Session) Download(ctx context.Context) ([]PortLabel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAlive("download"); err != nil {
		return nil, err
	}

	labels, err := s.backend.Download(ctx)
	s.afterIO(err)
	if err != nil {
		s.logger.Warn().Err(err).Int("completed", len(labels)).Msg("Download ended early")
		return labels, err
	}
	s.logger.Info().Int("labels", len(labels)).Msg("Labels downloaded")
	return labels, nil
}

// Upload submits every record whose Desired differs from Current. Records
// with an empty or unchanged Desired are never sent.
func (s *Session) Upload(ctx context.Context, labels []PortLabel) (UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAlive("upload"); err != nil {
		return UploadResult{Failed: failAll(PendingChanges(labels), err)}, err
	}

	x := labelExchange{backend: s.backend, info: s.info, logger: s.logger}
	result, err := x.run(ctx, labels)
	s.afterIO(err)
	s.observer.LabelsUploaded(s.info.Kind, result.SucceededCount(), result.FailedCount())
	return result, err
}

// GetCrosspoints returns the routed input for every output, sized to the
// device's output count.
func (s *Session) GetCrosspoints(ctx context.Context) (CrosspointMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAlive("crosspoints"); err != nil {
		return nil, err
	}

	raw, err := s.backend.Crosspoints(ctx)
	s.afterIO(err)
	if err != nil {
		return nil, err
	}
	return NormalizeCrosspoints(raw, s.info.Inputs, s.info.Outputs), nil
}

// Switch routes 0-based input to 0-based output.
func (s *Session) Switch(ctx context.Context, output, input int) (bool, error) {
	if err := validateCrosspoint(s.info, output, input); err != nil {
		return false, NewError(ErrPortOperation, s.info.Kind, "switch", err, PortRef{Port: output + 1, Direction: Output})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAlive("switch"); err != nil {
		return false, err
	}

	err := s.backend.Switch(ctx, output, input)
	s.afterIO(err)
	s.observer.CrosspointSwitched(s.info.Kind, err == nil)
	if err != nil {
		return false, err
	}
	s.logger.Info().Int("output", output).Int("input", input).Msg("Crosspoint switched")
	return true, nil
}

// Reconnect replaces the transport. The old handle is fully closed before
// the new one is installed; the device must keep its kind and geometry.
func (s *Session) Reconnect(ctx context.Context) error {
	s.stateMu.Lock()
	closed := s.closed
	s.stateMu.Unlock()
	if closed {
		return NewError(ErrTransportLost, s.info.Kind, "reconnect", errors.New("session closed"))
	}
	if s.connector == nil {
		return NewError(ErrHandshake, s.info.Kind, "reconnect", errors.New("session has no connector"))
	}

	s.stopKeepalive()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.markDeadLocked(nil)

	backend, err := s.connector.Connect(ctx, s.host, s.timeouts.Handshake)
	if err != nil {
		return NewError(ErrHandshake, s.info.Kind, "reconnect", err)
	}
	next := backend.Info()
	if next.Kind != s.info.Kind || next.Inputs != s.info.Inputs || next.Outputs != s.info.Outputs {
		_ = backend.Close()
		return NewError(ErrHandshake, s.info.Kind, "reconnect",
			fmt.Errorf("device changed from %s %dx%d to %s %dx%d",
				s.info.Kind, s.info.Inputs, s.info.Outputs, next.Kind, next.Inputs, next.Outputs))
	}

	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		_ = backend.Close()
		return NewError(ErrTransportLost, s.info.Kind, "reconnect", errors.New("session closed"))
	}
	s.backend = backend
	s.dead = make(chan struct{})
	s.stateMu.Unlock()

	s.alive.Store(true)
	s.touch()
	s.observer.SessionAlive(s.info.Kind, true)
	s.startKeepalive()
	s.logger.Info().Msg("Session reconnected")
	return nil
}

// Close stops the keepalive and closes the transport. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	s.stateMu.Unlock()

	s.stopKeepalive()

	s.mu.Lock()
	defer s.mu.Unlock()
	wasAlive := s.alive.Swap(false)
	err := s.backend.Close()
	if wasAlive {
		s.observer.SessionAlive(s.info.Kind, false)
		s.closeDeadChan()
	}
	s.logger.Info().Msg("Session closed")
	return err
}

func (s *Session) checkAlive(op string) error {
	if !s.alive.Load() {
		return NewError(ErrTransportLost, s.info.Kind, op, errors.New("session is not connected"))
	}
	return nil
}

// afterIO records activity and kills the session on transport loss.
// Callers hold s.mu.
func (s *Session) afterIO(err error) {
	s.touch()
	if errors.Is(err, ErrTransportLost) {
		s.markDeadLocked(err)
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// markDeadLocked closes the transport and flips the session to dead.
// Callers hold s.mu.
func (s *Session) markDeadLocked(cause error) {
	if !s.alive.Swap(false) {
		return
	}
	if cause != nil {
		s.logger.Error().Err(cause).Msg("Session lost its transport")
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Closing dead transport")
	}
	s.observer.SessionAlive(s.info.Kind, false)
	s.closeDeadChan()
}

func (s *Session) closeDeadChan() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	select {
	case <-s.dead:
	default:
		close(s.dead)
	}
}

func (s *Session) startKeepalive() {
	if _, ok := s.backend.(Pinger); !ok {
		return
	}
	// Check five times per interval so an idle link is pinged close to the
	// configured idle time.
	tick := s.timeouts.Keepalive / 5
	k := NewKeepalive(tick, s.pingIfIdle, s.onKeepaliveFailure, s.logger)
	if err := k.Start(); err != nil {
		s.logger.Warn().Err(err).Msg("Keepalive not started")
		return
	}
	s.stateMu.Lock()
	s.keepalive = k
	s.stateMu.Unlock()
}

func (s *Session) stopKeepalive() {
	s.stateMu.Lock()
	k := s.keepalive
	s.keepalive = nil
	s.stateMu.Unlock()
	if k != nil {
		_ = k.Stop()
	}
}

// pingIfIdle sends a liveness check when no I/O happened for a full
// keepalive interval.
func (s *Session) pingIfIdle(ctx context.Context) error {
	if time.Since(s.LastActivity()) < s.timeouts.Keepalive {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return nil
	}
	pinger, ok := s.backend.(Pinger)
	if !ok {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeouts.ReplyWait)
	defer cancel()
	err := pinger.Ping(pingCtx)
	s.touch()
	if err != nil && ctx.Err() == nil && errors.Is(err, ErrTransportLost) {
		s.markDeadLocked(err)
		return err
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Keepalive check got no reply")
	}
	return nil
}

func (s *Session) onKeepaliveFailure(err error) {
	s.logger.Warn().Err(err).Msg("Keepalive stopped after failure")
}
