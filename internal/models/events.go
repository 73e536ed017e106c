package models

import (
	"time"

	"github.com/benmeehan/router-agent/pkg/router"
)

// ConnectionEvent reports a change of a router session.
type ConnectionEvent struct {
	Router    string             `json:"router"`
	Address   string             `json:"address"`
	Event     string             `json:"event"`
	Info      *router.DeviceInfo `json:"info,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// LabelsEvent reports labels read from or written to a router.
type LabelsEvent struct {
	Router    string             `json:"router"`
	Action    string             `json:"action"`
	Labels    []router.PortLabel `json:"labels"`
	Timestamp time.Time          `json:"timestamp"`
}
