package models

import (
	"time"

	"github.com/benmeehan/router-agent/pkg/router"
)

// CommandRequest is a router operation received on the command topic.
type CommandRequest struct {
	RequestID string             `json:"request_id"`       // Echoed in the response; generated when empty
	Action    string             `json:"action"`           // download, upload, crosspoints, switch or info
	Labels    []router.PortLabel `json:"labels,omitempty"` // Upload only
	Output    *int               `json:"output,omitempty"` // Switch target; crosspoints filter. 0-based
	Input     *int               `json:"input,omitempty"`  // Switch source; crosspoints filter. 0-based
}

// UploadSummary reports the per-record outcome of an upload.
type UploadSummary struct {
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Unconfirmed int              `json:"unconfirmed"`
	FailedPorts []router.PortRef `json:"failed_ports,omitempty"`
}

// CommandResponse is published to <command topic>/<router>/response.
type CommandResponse struct {
	RequestID   string             `json:"request_id"`
	Router      string             `json:"router"`
	Action      string             `json:"action"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	ErrorKind   string             `json:"error_kind,omitempty"`
	Info        *router.DeviceInfo `json:"info,omitempty"`
	Labels      []router.PortLabel `json:"labels,omitempty"`
	Upload      *UploadSummary     `json:"upload,omitempty"`
	Crosspoints []int              `json:"crosspoints,omitempty"`
	RoutedInput *int               `json:"routed_input,omitempty"` // Input feeding the requested output, -1 when unrouted
	FedOutputs  []int              `json:"fed_outputs,omitempty"`  // Outputs fed by the requested input
	Timestamp   time.Time          `json:"timestamp"`
}
