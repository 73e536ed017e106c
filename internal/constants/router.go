package constants

// Command actions accepted on the command topic.
const (
	ActionDownload    = "download"
	ActionUpload      = "upload"
	ActionCrosspoints = "crosspoints"
	ActionSwitch      = "switch"
	ActionInfo        = "info"
)

// Command statuses
const (
	// CommandStatusSuccess means every part of the command completed
	CommandStatusSuccess = "success"
	// CommandStatusPartial means an upload landed some labels but not all
	CommandStatusPartial = "partial"
	// CommandStatusFailed means the command did not complete
	CommandStatusFailed = "failed"
)

// Connection events published by the connection service.
const (
	EventConnected    = "connected"
	EventLost         = "lost"
	EventReconnected  = "reconnected"
	EventFailed       = "failed"
	EventDisconnected = "disconnected"
)

// Agent and router states reported in heartbeats.
const (
	StatusAlive        = "alive"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// ResponseSuffix is appended to a command topic for replies.
const ResponseSuffix = "response"

// LabelsSuffix is appended to the event topic for label events.
const LabelsSuffix = "labels"

// CommandQueueSize is the number of commands waiting for a worker.
const CommandQueueSize = 64

// MaxCommandPayload is the largest command message accepted, in bytes.
const MaxCommandPayload = 1 << 20
