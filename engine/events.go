package engine

const (
	EventTelemetryReceived EventType = iota + 1
	EventHeartbeatReceived
	EventSessionStateChanged
	EventCommandIssued
	EventBinResponded
	EventBinUnresponsive
	EventBinsMarkedOffline
	EventAlertRaised
	EventOTAStatusChanged
	EventMessagingConnected
	EventMessagingDisconnected
)

// --- Event payloads ---

type TelemetryReceivedEvent struct {
	BinID   string
	ZoneID  string
	FillPct float64
	Emptied bool
}

type HeartbeatReceivedEvent struct {
	BinID           string
	FirmwareVersion string
}

type SessionStateChangedEvent struct {
	ZoneID    string
	SessionID int64
	OldState  string
	NewState  string
}

type CommandIssuedEvent struct {
	ZoneID      string
	BinID       string
	CommandID   string
	CommandType string
	Retry       int
}

type BinRespondedEvent struct {
	ZoneID string
	BinID  string
}

type BinUnresponsiveEvent struct {
	ZoneID string
	BinID  string
}

type BinsMarkedOfflineEvent struct {
	BinIDs []string
}

type AlertRaisedEvent struct {
	BinID     string
	AlertType string
	Severity  string
	Message   string
}

type OTAStatusChangedEvent struct {
	BinID       string
	UpdateID    string
	Status      string
	ProgressPct float64
	Detail      string
}

type ConnectionEvent struct {
	Detail string
}
