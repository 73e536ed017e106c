package utils_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/benmeehan/router-agent/internal/mocks"
	"github.com/benmeehan/router-agent/internal/utils"
	"github.com/benmeehan/router-agent/pkg/file"
	"github.com/benmeehan/router-agent/pkg/router"
)

const sampleConfig = `
log:
  level: debug
mqtt:
  broker: tcp://broker:1883
timeouts:
  handshake: 1500ms
  keepalive: 10s
ports:
  videohub: 19990
kumo_request_rate: 5
routers:
  - name: studio-a
    address: 10.0.0.10
    backend: kumo
    firmware_constraint: ">= 5.0"
  - address: 10.0.0.11
services:
  connection:
    enabled: true
    max_retries: 3
  heartbeat:
    enabled: true
    interval: 15s
  command:
    enabled: true
    workers: 2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestLoadConfig_Success tests decoding, defaults and durations from a real file.
func TestLoadConfig_Success(t *testing.T) {
	// Setup
	path := writeConfig(t, sampleConfig)

	// Execute
	cfg, err := utils.LoadConfig(path, file.NewFileService())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, utils.DefaultLogFormat, cfg.Log.Format)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, utils.DefaultClientID, cfg.MQTT.ClientID)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeouts.Handshake)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Keepalive)
	assert.Equal(t, router.DefaultTimeouts().ReplyWait, cfg.Timeouts.ReplyWait)
	assert.Equal(t, 19990, cfg.Ports.Videohub)

	require.Len(t, cfg.Routers, 2)
	assert.Equal(t, "studio-a", cfg.Routers[0].Name)
	kind, err := cfg.Routers[0].Kind()
	assert.NoError(t, err)
	assert.Equal(t, router.KindKumo, kind)
	assert.Equal(t, "10.0.0.11", cfg.Routers[1].Name, "name defaults to the address")
	kind, _ = cfg.Routers[1].Kind()
	assert.Equal(t, router.KindAuto, kind)

	assert.Equal(t, 3, cfg.Services.Connection.MaxRetries)
	assert.Equal(t, utils.DefaultConnectionTopic, cfg.Services.Connection.Topic)
	assert.Equal(t, 15*time.Second, cfg.Services.Heartbeat.Interval)
	assert.Equal(t, 2, cfg.Services.Command.Workers)
	assert.Equal(t, utils.DefaultMaxExecutionTime, cfg.Services.Command.MaxExecutionTime)

	opts := cfg.BackendOptions()
	assert.Equal(t, rate.Limit(5), opts.KumoRequestRate)
	assert.Equal(t, 19990, opts.Ports.Videohub)
}

// TestLoadConfig_ReadFailure tests that file errors are returned unchanged.
func TestLoadConfig_ReadFailure(t *testing.T) {
	// Setup
	fileClient := new(mocks.MockFileOperations)
	fileClient.On("ReadYamlFile", "missing.yaml", mock.Anything).Return(nil, errors.New("open missing.yaml: no such file"))

	// Execute
	cfg, err := utils.LoadConfig("missing.yaml", fileClient)

	// Assert
	assert.Nil(t, cfg)
	assert.EqualError(t, err, "open missing.yaml: no such file")
	fileClient.AssertExpectations(t)
}

// TestLoadConfig_Invalid tests that every validation problem is reported together.
func TestLoadConfig_Invalid(t *testing.T) {
	// Setup
	fileClient := new(mocks.MockFileOperations)
	fill := func(v any) {
		cfg := v.(*utils.Config)
		cfg.Log.Format = "xml"
		cfg.Services.Command.QOS = 3
		cfg.Routers = []utils.RouterConfig{
			{Name: "a", Address: "10.0.0.1", Backend: "sony"},
			{Name: "a", Address: "10.0.0.2"},
			{Name: "b/c"},
			{Name: "d", Address: "10.0.0.4", FirmwareConstraint: "not-a-range"},
		}
	}
	fileClient.On("ReadYamlFile", "bad.yaml", mock.Anything).Return(fill, nil)

	// Execute
	_, err := utils.LoadConfig("bad.yaml", fileClient)

	// Assert
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `log.format must be json or console, got "xml"`)
	assert.Contains(t, msg, "qos 3 outside 0..2")
	assert.Contains(t, msg, `unknown router backend "sony"`)
	assert.Contains(t, msg, `routers[1]: duplicate name "a"`)
	assert.Contains(t, msg, "routers[2]: address is required")
	assert.Contains(t, msg, "MQTT topic characters")
	assert.Contains(t, msg, "routers[3]: firmware_constraint")
}

// TestApplyDefaults_KeepsExplicitValues tests that configured values win over defaults.
func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	// Setup
	var cfg utils.Config
	cfg.Services.Command.Workers = 9
	cfg.Timeouts.AckWait = time.Second

	// Execute
	cfg.ApplyDefaults()

	// Assert
	assert.Equal(t, 9, cfg.Services.Command.Workers)
	assert.Equal(t, time.Second, cfg.Timeouts.AckWait)
	assert.Equal(t, router.DefaultTimeouts().Handshake, cfg.Timeouts.Handshake)
	assert.Equal(t, utils.DefaultHeartbeatTopic, cfg.Services.Heartbeat.Topic)
	assert.NoError(t, cfg.Validate())
}
