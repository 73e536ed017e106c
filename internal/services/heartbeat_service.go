package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/internal/constants"
	"github.com/benmeehan/router-agent/internal/metrics_collectors"
	"github.com/benmeehan/router-agent/internal/models"
	"github.com/benmeehan/router-agent/internal/state_managers"
	"github.com/benmeehan/router-agent/pkg/mqtt"
)

// HeartbeatService periodically publishes the agent status together with
// the state of every configured router. When Host is set, every heartbeat
// also carries a sample of its collectors.
type HeartbeatService struct {
	PubTopic   string
	Interval   time.Duration
	QOS        int
	AgentID    string
	Store      *state_managers.SessionStore
	Host       *metrics_collectors.MetricsRegistry
	MqttClient mqtt.MQTTClient
	Logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(pubTopic string, interval time.Duration, qos int, agentID string,
	store *state_managers.SessionStore, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *HeartbeatService {

	return &HeartbeatService{
		PubTopic:   pubTopic,
		Interval:   interval,
		QOS:        qos,
		AgentID:    agentID,
		Store:      store,
		MqttClient: mqttClient,
		Logger:     logger,
	}
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatService) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}
	if h.Interval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func(ctx context.Context) {
		defer h.wg.Done()
		h.runHeartbeatLoop(ctx)
	}(h.ctx)

	h.Logger.Info().Str("topic", h.PubTopic).Msg("HeartbeatService started successfully")
	return nil
}

// Stop gracefully stops the heartbeat service.
func (h *HeartbeatService) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

// Snapshot builds the heartbeat message from the session store.
func (h *HeartbeatService) Snapshot(ctx context.Context) models.Heartbeat {
	entries := h.Store.Entries()
	msg := models.Heartbeat{
		AgentID:   h.AgentID,
		Timestamp: time.Now().UTC(),
		Status:    constants.StatusAlive,
		Routers:   make([]models.RouterStatus, 0, len(entries)),
	}
	for _, e := range entries {
		status := models.RouterStatus{
			Name:    e.Config.Name,
			Address: e.Config.Address,
			Status:  constants.StatusDisconnected,
		}
		if e.Connected() {
			info := e.Session.Info()
			last := e.Session.LastActivity().UTC()
			status.Status = constants.StatusConnected
			status.SessionID = e.Session.ID()
			status.Info = &info
			status.LastActivity = &last
		}
		msg.Routers = append(msg.Routers, status)
	}
	if h.Host != nil {
		msg.Host = h.Host.Collect(ctx)
	}
	return msg
}

// runHeartbeatLoop continuously sends heartbeat messages at the specified interval.
func (h *HeartbeatService) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := publishJSON(ctx, h.MqttClient, h.PubTopic, h.QOS, h.Snapshot(ctx)); err != nil {
				if ctx.Err() != nil {
					return
				}
				h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
				continue
			}
			h.Logger.Debug().Msg("Heartbeat published successfully")

		case <-ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}
