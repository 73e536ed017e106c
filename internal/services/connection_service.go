package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/benmeehan/router-agent/internal/constants"
	"github.com/benmeehan/router-agent/internal/models"
	"github.com/benmeehan/router-agent/internal/state_managers"
	"github.com/benmeehan/router-agent/internal/utils"
	"github.com/benmeehan/router-agent/pkg/mqtt"
	"github.com/benmeehan/router-agent/pkg/router"
)

// SessionOpener opens a router session; *router.Detector implements it.
type SessionOpener interface {
	Connect(ctx context.Context, host string, kind router.Kind) (*router.Session, error)
}

// defaultReconnectAttempts is used when max_retries is 0 (retry forever):
// after this many failed reconnects the router is detected from scratch.
const defaultReconnectAttempts = 3

// ConnectionService keeps one session per configured router. It connects
// every router at start, retries failed routers with exponential backoff
// and reconnects sessions that lose their transport.
type ConnectionService struct {
	// Configuration fields
	pubTopic   string
	qos        int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// Dependencies
	opener     SessionOpener
	store      *state_managers.SessionStore
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	// Internal state for managing service lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewConnectionService initializes a new ConnectionService.
func NewConnectionService(
	pubTopic string,
	qos int,
	maxRetries int,
	baseDelay time.Duration,
	maxDelay time.Duration,
	opener SessionOpener,
	store *state_managers.SessionStore,
	mqttClient mqtt.MQTTClient,
	logger zerolog.Logger,
) *ConnectionService {
	return &ConnectionService{
		pubTopic:   pubTopic,
		qos:        qos,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		opener:     opener,
		store:      store,
		mqttClient: mqttClient,
		logger:     logger,
	}
}

// Start makes one connection attempt per router, concurrently, then
// leaves a supervisor per router running in the background. Routers that
// did not answer do not fail the start.
func (cs *ConnectionService) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ctx != nil {
		cs.logger.Warn().Msg("Connection service is already running")
		return errors.New("connection service is already running")
	}
	cs.ctx, cs.cancel = context.WithCancel(context.Background())

	entries := cs.store.Entries()
	g, gctx := errgroup.WithContext(cs.ctx)
	for _, e := range entries {
		rc := e.Config
		g.Go(func() error {
			if err := cs.connect(gctx, rc); err != nil {
				cs.logger.Warn().Err(err).Str("router", rc.Name).Msg("Initial connection failed, retrying in background")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range entries {
		rc := e.Config
		cs.wg.Add(1)
		go func() {
			defer cs.wg.Done()
			cs.supervise(cs.ctx, rc)
		}()
	}

	cs.logger.Info().
		Int("routers", len(entries)).
		Int("connected", cs.store.ConnectedCount()).
		Msg("Connection service started successfully")
	return nil
}

// Stop ends every supervisor and closes all sessions.
func (cs *ConnectionService) Stop() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ctx == nil {
		return errors.New("connection service is not running")
	}

	cs.cancel()
	cs.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for _, e := range cs.store.Entries() {
		if e.Session == nil {
			continue
		}
		cs.store.ClearSession(e.Config.Name)
		if err := e.Session.Close(); err != nil {
			cs.logger.Warn().Err(err).Str("router", e.Config.Name).Msg("Failed to close session")
		}
		cs.publishEvent(ctx, e.Config, constants.EventDisconnected, nil, nil)
	}

	cs.ctx = nil
	cs.cancel = nil

	cs.logger.Info().Msg("Connection service stopped successfully")
	return nil
}

// connect runs one detection round for rc and installs the session.
func (cs *ConnectionService) connect(ctx context.Context, rc utils.RouterConfig) error {
	kind, err := rc.Kind()
	if err != nil {
		return err
	}
	session, err := cs.opener.Connect(ctx, rc.Address, kind)
	if err != nil {
		return err
	}

	if previous := cs.store.SetSession(rc.Name, session); previous != nil && previous != session {
		_ = previous.Close()
	}
	cs.checkFirmware(rc, session.Info())

	info := session.Info()
	cs.publishEvent(ctx, rc, constants.EventConnected, &info, nil)
	return nil
}

// supervise owns the session of one router until ctx ends.
func (cs *ConnectionService) supervise(ctx context.Context, rc utils.RouterConfig) {
	for ctx.Err() == nil {
		entry, ok := cs.store.Get(rc.Name)
		if !ok {
			return
		}
		if entry.Session == nil {
			cs.connectWithRetry(ctx, rc)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-entry.Session.Dead():
		}
		if ctx.Err() != nil {
			return
		}

		info := entry.Session.Info()
		cs.logger.Warn().Str("router", rc.Name).Msg("Router session lost")
		cs.publishEvent(ctx, rc, constants.EventLost, &info, nil)

		if err := cs.reconnect(ctx, rc, entry.Session); err != nil && ctx.Err() == nil {
			cs.logger.Warn().Err(err).Str("router", rc.Name).Msg("Reconnect gave up, detecting router again")
			cs.store.ClearSession(rc.Name)
			_ = entry.Session.Close()
		}
	}
}

// connectWithRetry detects rc until it answers or ctx ends. A failed
// event is published after every max_retries attempts.
func (cs *ConnectionService) connectWithRetry(ctx context.Context, rc utils.RouterConfig) {
	for attempt := 0; ; attempt++ {
		if !sleepCtx(ctx, backoffDelay(attempt, cs.baseDelay, cs.maxDelay)) {
			return
		}
		err := cs.connect(ctx, rc)
		if err == nil || ctx.Err() != nil {
			return
		}
		cs.logger.Debug().Err(err).Str("router", rc.Name).Int("attempt", attempt+1).Msg("Connection attempt failed")
		if cs.maxRetries > 0 && (attempt+1)%cs.maxRetries == 0 {
			cs.logger.Error().Err(err).Str("router", rc.Name).Int("attempts", attempt+1).Msg("Router unreachable")
			cs.publishEvent(ctx, rc, constants.EventFailed, nil, err)
		}
	}
}

// reconnect re-dials a dead session in place. It returns an error when
// the attempts are exhausted or the device changed.
func (cs *ConnectionService) reconnect(ctx context.Context, rc utils.RouterConfig, session *router.Session) error {
	attempts := cs.maxRetries
	if attempts <= 0 {
		attempts = defaultReconnectAttempts
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if !sleepCtx(ctx, backoffDelay(attempt, cs.baseDelay, cs.maxDelay)) {
			return ctx.Err()
		}
		if err = session.Reconnect(ctx); err == nil {
			info := session.Info()
			cs.logger.Info().Str("router", rc.Name).Int("attempt", attempt+1).Msg("Router reconnected")
			cs.publishEvent(ctx, rc, constants.EventReconnected, &info, nil)
			return nil
		}
		cs.logger.Debug().Err(err).Str("router", rc.Name).Int("attempt", attempt+1).Msg("Reconnect attempt failed")
	}
	return fmt.Errorf("reconnect failed after %d attempts: %w", attempts, err)
}

func (cs *ConnectionService) checkFirmware(rc utils.RouterConfig, info router.DeviceInfo) {
	if rc.FirmwareConstraint == "" {
		return
	}
	ok, err := firmwareSatisfies(rc.FirmwareConstraint, info)
	if err != nil {
		cs.logger.Warn().Err(err).Str("router", rc.Name).Msg("Cannot check firmware version")
		return
	}
	if !ok {
		cs.logger.Warn().
			Str("router", rc.Name).
			Str("firmware", info.Firmware).
			Str("constraint", rc.FirmwareConstraint).
			Msg("Router firmware is outside the supported range")
	}
}

// firmwareSatisfies checks the reported firmware against a semver range.
func firmwareSatisfies(constraint string, info router.DeviceInfo) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	v, err := info.FirmwareVersion()
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

func (cs *ConnectionService) publishEvent(ctx context.Context, rc utils.RouterConfig, event string, info *router.DeviceInfo, cause error) {
	msg := models.ConnectionEvent{
		Router:    rc.Name,
		Address:   rc.Address,
		Event:     event,
		Info:      info,
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}

	topic := cs.pubTopic + "/" + rc.Name
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
	}
	if err := publishJSON(ctx, cs.mqttClient, topic, cs.qos, msg); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Str("event", event).Msg("Failed to publish connection event")
	}
}
