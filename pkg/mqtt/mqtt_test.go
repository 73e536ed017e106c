package mqtt_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/benmeehan/router-agent/internal/mocks"
	"github.com/benmeehan/router-agent/pkg/mqtt"
)

// TestInitialize_EmptyBroker tests that a missing broker address is rejected before dialing.
func TestInitialize_EmptyBroker(t *testing.T) {
	// Setup
	fileClient := new(mocks.MockFileOperations)
	s := mqtt.NewMqttService(fileClient, zerolog.Nop())

	// Execute
	err := s.Initialize(mqtt.Options{ClientID: "agent"})

	// Assert
	assert.EqualError(t, err, "mqtt broker address is empty")
	fileClient.AssertNotCalled(t, "ReadFileRaw")
}

// TestInitialize_CACertificateMissing tests that an unreadable CA bundle fails initialization.
func TestInitialize_CACertificateMissing(t *testing.T) {
	// Setup
	fileClient := new(mocks.MockFileOperations)
	fileClient.On("ReadFileRaw", "/etc/agent/ca.pem").Return(nil, errors.New("no such file"))
	s := mqtt.NewMqttService(fileClient, zerolog.Nop())

	// Execute
	err := s.Initialize(mqtt.Options{Broker: "ssl://broker:8883", ClientID: "agent", CACertificate: "/etc/agent/ca.pem"})

	// Assert
	assert.ErrorContains(t, err, "failed to read CA certificate")
	fileClient.AssertExpectations(t)
}

// TestInitialize_CACertificateInvalid tests that a bundle without PEM blocks is rejected.
func TestInitialize_CACertificateInvalid(t *testing.T) {
	// Setup
	fileClient := new(mocks.MockFileOperations)
	fileClient.On("ReadFileRaw", "ca.pem").Return([]byte("not a certificate"), nil)
	s := mqtt.NewMqttService(fileClient, zerolog.Nop())

	// Execute
	err := s.Initialize(mqtt.Options{Broker: "ssl://broker:8883", ClientID: "agent", CACertificate: "ca.pem"})

	// Assert
	assert.EqualError(t, err, "failed to append CA certificate")
}

// TestDisconnect_BeforeInitialize tests that Disconnect is safe on an unused service.
func TestDisconnect_BeforeInitialize(t *testing.T) {
	s := mqtt.NewMqttService(new(mocks.MockFileOperations), zerolog.Nop())

	assert.NotPanics(t, func() { s.Disconnect(100) })
}
