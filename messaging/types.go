package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Inbound message kinds, taken from the last topic segment.
const (
	KindTelemetry  = "telemetry"
	KindHeartbeat  = "heartbeat"
	KindAck        = "ack"
	KindDiagnostic = "diagnostic"
	KindOTAStatus  = "ota_status"
)

// Command types sent to devices.
const (
	CmdWakeUp             = "wake_up"
	CmdSleep              = "sleep"
	CmdConfigure          = "configure"
	CmdReboot             = "reboot"
	CmdRequestDiagnostics = "request_diagnostics"
	CmdOTAUpdate          = "ota_update"
)

// Flag accepts both JSON booleans and 0/1 integers; device firmware is not
// consistent about which it sends.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch s {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %q", s)
	}
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

// TelemetryMsg is the device uplink reading.
type TelemetryMsg struct {
	BinID   string   `json:"bin_id"`
	TS      string   `json:"ts"`
	FillPct float64  `json:"fill_pct"`
	BattV   *float64 `json:"batt_v,omitempty"`
	TempC   *float64 `json:"temp_c,omitempty"`
	Emptied Flag     `json:"emptied"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}

// Time parses the reading timestamp, falling back to now for devices with
// a bad clock.
func (t *TelemetryMsg) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, t.TS); err == nil {
			return ts
		}
	}
	return time.Now()
}

// AckMsg confirms or rejects a command.
type AckMsg struct {
	CommandID string `json:"command_id"`
	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OK treats a missing success field as success, matching device behavior.
func (a *AckMsg) OK() bool {
	return a.Success == nil || *a.Success
}

type HeartbeatMsg struct {
	RSSI            *int   `json:"rssi,omitempty"`
	UptimeSeconds   *int64 `json:"uptime_seconds,omitempty"`
	FreeMemoryKB    *int   `json:"free_memory_kb,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

type OTAStatusMsg struct {
	UpdateID    string  `json:"update_id,omitempty"`
	Status      string  `json:"status"`
	ProgressPct float64 `json:"progress_pct"`
	Error       string  `json:"error,omitempty"`
}

// CommandMsg is the downlink command envelope. CommandID is echoed back in
// the device's ack.
type CommandMsg struct {
	Command   string         `json:"command"`
	CommandID string         `json:"command_id"`
	Timestamp string         `json:"timestamp"`
	Params    map[string]any `json:"params"`
}

func NewCommandMsg(commandType, commandID string, params map[string]any) *CommandMsg {
	if params == nil {
		params = map[string]any{}
	}
	return &CommandMsg{
		Command:   commandType,
		CommandID: commandID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Params:    params,
	}
}

func (c *CommandMsg) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Topic layout: {prefix}/bins/{binID}/{kind} uplink, {prefix}/bins/{binID}/command
// and {prefix}/zones/{zoneID}/command downlink.

func BinCommandTopic(prefix, binID string) string {
	return fmt.Sprintf("%s/bins/%s/command", prefix, binID)
}

func ZoneCommandTopic(prefix, zoneID string) string {
	return fmt.Sprintf("%s/zones/%s/command", prefix, zoneID)
}

func UplinkWildcard(prefix string) string {
	return fmt.Sprintf("%s/bins/+/+", prefix)
}

// ParseUplinkTopic extracts the bin ID and message kind from an uplink
// topic. The command suffix is downlink and is rejected so a client
// subscribed too broadly does not loop its own messages back.
func ParseUplinkTopic(prefix, topic string) (binID, kind string, err error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/bins/")
	if !ok {
		return "", "", fmt.Errorf("not an uplink topic: %s", topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed uplink topic: %s", topic)
	}
	if parts[1] == "command" {
		return "", "", fmt.Errorf("downlink topic: %s", topic)
	}
	return parts[0], parts[1], nil
}
