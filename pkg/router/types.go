package router

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind identifies one vendor protocol implementation.
type Kind int

const (
	// KindAuto asks the detector to try every backend in priority order.
	KindAuto Kind = iota
	KindKumo
	KindVideohub
	KindLightware
)

// String returns the lowercase name used in config files and log fields.
func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindKumo:
		return "kumo"
	case KindVideohub:
		return "videohub"
	case KindLightware:
		return "lightware"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a config string onto a Kind. Unknown names are rejected
// instead of falling through to a default backend.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return KindAuto, nil
	case "kumo", "aja":
		return KindKumo, nil
	case "videohub", "blackmagic":
		return KindVideohub, nil
	case "lightware", "lw3":
		return KindLightware, nil
	default:
		return KindAuto, fmt.Errorf("unknown router backend %q", s)
	}
}

// Direction tells inputs (sources) from outputs (destinations).
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "OUTPUT"
	}
	return "INPUT"
}

// ParseDirection accepts INPUT/OUTPUT in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INPUT", "SOURCE":
		return Input, nil
	case "OUTPUT", "DESTINATION":
		return Output, nil
	default:
		return Input, fmt.Errorf("unknown port direction %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NoInput marks an output that has nothing routed to it.
const NoInput = -1

// Label sources recorded in PortLabel.SourceNote.
const (
	SourceHTTP    = "http"
	SourceTelnet  = "telnet"
	SourceDefault = "default"
	SourceDump    = "dump"
	SourceLW3     = "lw3"
)

// DeviceInfo is read once during the handshake and never changes for the
// lifetime of a session.
type DeviceInfo struct {
	Kind           Kind   `json:"backend"`
	Name           string `json:"name"`
	Model          string `json:"model"`
	Firmware       string `json:"firmware,omitempty"`
	Inputs         int    `json:"inputs"`
	Outputs        int    `json:"outputs"`
	MaxLabelLength int    `json:"max_label_length"`
}

// PortCount returns the number of ports for the given direction.
func (d DeviceInfo) PortCount(dir Direction) int {
	if dir == Output {
		return d.Outputs
	}
	return d.Inputs
}

// FirmwareVersion parses Firmware as a semantic version. Vendor versions
// with more than three numeric components ("5.2.0.1") keep the first three.
func (d DeviceInfo) FirmwareVersion() (*semver.Version, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d.Firmware), "v"))
	if raw == "" {
		return nil, fmt.Errorf("%s: no firmware version reported", d.Kind)
	}
	if parts := strings.Split(raw, "."); len(parts) > 3 {
		raw = strings.Join(parts[:3], ".")
	}
	return semver.NewVersion(raw)
}

// PortLabel is one input or output name. Port is always 1-based.
type PortLabel struct {
	Port       int       `json:"port"`
	Direction  Direction `json:"direction"`
	Current    string    `json:"current_label"`
	Desired    string    `json:"desired_label,omitempty"`
	SourceNote string    `json:"source,omitempty"`
}

// HasChange reports whether the record should be submitted.
func (p PortLabel) HasChange() bool {
	return p.Desired != "" && p.Desired != p.Current
}

// Ref returns the port reference used in errors.
func (p PortLabel) Ref() PortRef {
	return PortRef{Port: p.Port, Direction: p.Direction}
}

func (p PortLabel) String() string {
	return fmt.Sprintf("%s %d", p.Direction, p.Port)
}

// PortRef names a single port in errors and results.
type PortRef struct {
	Port      int       `json:"port"`
	Direction Direction `json:"direction"`
}

func (r PortRef) String() string {
	return fmt.Sprintf("%s %d", r.Direction, r.Port)
}

// DefaultLabel is the placeholder used when a port name cannot be read.
func DefaultLabel(dir Direction, port int) string {
	if dir == Output {
		return fmt.Sprintf("Dest %d", port)
	}
	return fmt.Sprintf("Source %d", port)
}
