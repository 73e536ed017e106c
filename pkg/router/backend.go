package router

import (
	"context"
	"time"
)

// Backend is one vendor protocol bound to one live device. Implementations
// are not safe for concurrent use; Session serialises every call.
//
// Ports crossing this interface are 1-based and crosspoint indices are
// 0-based regardless of the wire numbering the vendor uses.
type Backend interface {
	Kind() Kind
	Info() DeviceInfo
	// Download returns every input then every output label. On cancellation
	// it returns the labels completed so far together with the error.
	Download(ctx context.Context) ([]PortLabel, error)
	// UploadLabel writes the Desired value of a single record.
	UploadLabel(ctx context.Context, label PortLabel) error
	// Crosspoints returns the routed 0-based input for every 0-based output.
	Crosspoints(ctx context.Context) ([]int, error)
	// Switch routes a 0-based input to a 0-based output.
	Switch(ctx context.Context, output, input int) error
	Close() error
}

// Pinger is implemented by backends that keep a long-lived connection and
// need a periodic liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BulkUploader is implemented by backends whose wire protocol groups label
// writes. Records in Unconfirmed were written but never acknowledged.
type BulkUploader interface {
	UploadLabels(ctx context.Context, labels []PortLabel) (UploadResult, error)
}

// BatchRetrier is implemented by backends that have a second transport for
// records the primary path rejected. It returns the records that landed.
type BatchRetrier interface {
	RetryLabels(ctx context.Context, labels []PortLabel) ([]PortLabel, error)
}

// Connector opens a Backend against a host. handshakeTimeout bounds the
// connect and identity query; later exchanges use the backend's own
// operation deadlines.
type Connector interface {
	Kind() Kind
	Port() int
	Connect(ctx context.Context, host string, handshakeTimeout time.Duration) (Backend, error)
}

// Timeouts groups the per-operation deadlines shared by the backends.
type Timeouts struct {
	Handshake     time.Duration `yaml:"handshake"`
	HTTPRequest   time.Duration `yaml:"http_request"`
	TelnetConnect time.Duration `yaml:"telnet_connect"`
	TelnetCommand time.Duration `yaml:"telnet_command"`
	AckWait       time.Duration `yaml:"ack_wait"`
	ReplyWait     time.Duration `yaml:"reply_wait"`
	DumpIdle      time.Duration `yaml:"dump_idle"`
	Keepalive     time.Duration `yaml:"keepalive"`
}

// DefaultTimeouts returns the deadlines used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Handshake:     2 * time.Second,
		HTTPRequest:   5 * time.Second,
		TelnetConnect: 5 * time.Second,
		TelnetCommand: 2 * time.Second,
		AckWait:       5 * time.Second,
		ReplyWait:     5 * time.Second,
		DumpIdle:      300 * time.Millisecond,
		Keepalive:     25 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Handshake <= 0 {
		t.Handshake = d.Handshake
	}
	if t.HTTPRequest <= 0 {
		t.HTTPRequest = d.HTTPRequest
	}
	if t.TelnetConnect <= 0 {
		t.TelnetConnect = d.TelnetConnect
	}
	if t.TelnetCommand <= 0 {
		t.TelnetCommand = d.TelnetCommand
	}
	if t.AckWait <= 0 {
		t.AckWait = d.AckWait
	}
	if t.ReplyWait <= 0 {
		t.ReplyWait = d.ReplyWait
	}
	if t.DumpIdle <= 0 {
		t.DumpIdle = d.DumpIdle
	}
	if t.Keepalive <= 0 {
		t.Keepalive = d.Keepalive
	}
	return t
}
