package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/internal/metrics_collectors"
	"github.com/benmeehan/router-agent/internal/services"
	"github.com/benmeehan/router-agent/internal/state_managers"
	"github.com/benmeehan/router-agent/internal/utils"
	"github.com/benmeehan/router-agent/pkg/mqtt"
)

// Service is implemented by every long-running agent component.
type Service interface {
	Start() error
	Stop() error
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string           // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	opener      services.SessionOpener
	store       *state_managers.SessionStore
	agentID     string
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, opener services.SessionOpener, store *state_managers.SessionStore,
	agentID string, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]Service),
		mqttClient: mqttClient,
		opener:     opener,
		store:      store,
		agentID:    agentID,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Names returns the registered services in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices creates the enabled services in start order: sessions
// first, so that heartbeats and commands see connected routers.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config) error {
	conn := config.Services.Connection
	hb := config.Services.Heartbeat
	cmd := config.Services.Command

	eventTopic := ""
	if conn.Enabled {
		eventTopic = conn.Topic
	}

	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    "connection",
			enabled: conn.Enabled,
			constructor: func() (Service, error) {
				if sr.opener == nil {
					return nil, errors.New("connection service needs a session opener")
				}
				return services.NewConnectionService(
					conn.Topic,
					conn.QOS,
					conn.MaxRetries,
					conn.BaseDelay,
					conn.MaxBackoff,
					sr.opener,
					sr.store,
					sr.mqttClient,
					sr.Logger.With().Str("service", "connection").Logger(),
				), nil
			},
		},
		{
			name:    "heartbeat",
			enabled: hb.Enabled,
			constructor: func() (Service, error) {
				logger := sr.Logger.With().Str("service", "heartbeat").Logger()
				hbs := services.NewHeartbeatService(
					hb.Topic,
					hb.Interval,
					hb.QOS,
					sr.agentID,
					sr.store,
					sr.mqttClient,
					logger,
				)
				if hb.Host {
					hbs.Host = metrics_collectors.NewDefaultRegistry(logger)
				}
				return hbs, nil
			},
		},
		{
			name:    "command",
			enabled: cmd.Enabled,
			constructor: func() (Service, error) {
				return services.NewCommandService(
					cmd.Topic,
					eventTopic,
					cmd.QOS,
					cmd.Workers,
					cmd.MaxExecutionTime,
					sr.store,
					sr.mqttClient,
					sr.Logger.With().Str("service", "command").Logger(),
				), nil
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if !svc.enabled {
			continue
		}
		serviceInstance, err := svc.constructor()
		if err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
			return err
		}
		sr.RegisterService(svc.name, serviceInstance)
		registeredServices = append(registeredServices, svc.name)
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
