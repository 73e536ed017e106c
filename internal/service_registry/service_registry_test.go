package service_registry_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/internal/mocks"
	"github.com/benmeehan/router-agent/internal/service_registry"
	"github.com/benmeehan/router-agent/internal/state_managers"
	"github.com/benmeehan/router-agent/internal/utils"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	trace    *[]string
}

func (f *fakeService) Start() error {
	*f.trace = append(*f.trace, "start "+f.name)
	return f.startErr
}

func (f *fakeService) Stop() error {
	*f.trace = append(*f.trace, "stop "+f.name)
	return f.stopErr
}

func newRegistry() *service_registry.ServiceRegistry {
	store := state_managers.NewSessionStore(nil, zerolog.Nop())
	return service_registry.NewServiceRegistry(new(mocks.MockMQTTClient), new(mocks.MockSessionOpener), store, "agent-1", zerolog.Nop())
}

// TestRegisterServices_Order tests that only enabled services are registered, sessions first.
func TestRegisterServices_Order(t *testing.T) {
	// Setup
	config := &utils.Config{}
	config.Services.Connection.Enabled = true
	config.Services.Command.Enabled = true
	config.ApplyDefaults()
	sr := newRegistry()

	// Execute
	err := sr.RegisterServices(config)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"connection", "command"}, sr.Names())
}

// TestStartServices_RollsBack tests that a failed start stops the services already running.
func TestStartServices_RollsBack(t *testing.T) {
	// Setup
	var trace []string
	sr := newRegistry()
	sr.RegisterService("a", &fakeService{name: "a", trace: &trace})
	sr.RegisterService("b", &fakeService{name: "b", trace: &trace})
	sr.RegisterService("c", &fakeService{name: "c", startErr: errors.New("boom"), trace: &trace})

	// Execute
	err := sr.StartServices()

	// Assert
	assert.EqualError(t, err, "failed to start c: boom")
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, trace)
}

// TestStopServices_JoinsErrors tests reverse stop order and combined errors.
func TestStopServices_JoinsErrors(t *testing.T) {
	// Setup
	var trace []string
	errA, errC := errors.New("a failed"), errors.New("c failed")
	sr := newRegistry()
	sr.RegisterService("a", &fakeService{name: "a", stopErr: errA, trace: &trace})
	sr.RegisterService("b", &fakeService{name: "b", trace: &trace})
	sr.RegisterService("c", &fakeService{name: "c", stopErr: errC, trace: &trace})
	sr.RegisterService("a", &fakeService{name: "dup", trace: &trace})

	// Execute
	err := sr.StopServices()

	// Assert
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Equal(t, []string{"stop c", "stop b", "stop a"}, trace)
}
