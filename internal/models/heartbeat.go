package models

import (
	"time"

	"github.com/benmeehan/router-agent/pkg/router"
)

// RouterStatus is the state of one configured router.
type RouterStatus struct {
	Name         string             `json:"name"`
	Address      string             `json:"address"`
	Status       string             `json:"status"`
	SessionID    string             `json:"session_id,omitempty"`
	Info         *router.DeviceInfo `json:"info,omitempty"`
	LastActivity *time.Time         `json:"last_activity,omitempty"`
}

// HostMetric is one sampled gauge of the machine running the agent.
type HostMetric struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Heartbeat represents the periodic agent status message.
type Heartbeat struct {
	AgentID   string                `json:"agent_id"`
	Timestamp time.Time             `json:"timestamp"`
	Status    string                `json:"status"`
	Routers   []RouterStatus        `json:"routers"`
	Host      map[string]HostMetric `json:"host,omitempty"`
}
