package messaging

import (
	"testing"
)

type mockSink struct {
	telemetry  []*TelemetryMsg
	acks       []*AckMsg
	heartbeats []*HeartbeatMsg
	diags      [][]byte
	otas       []*OTAStatusMsg
	binIDs     []string
}

func (m *mockSink) HandleTelemetry(binID string, msg *TelemetryMsg) {
	m.binIDs = append(m.binIDs, binID)
	m.telemetry = append(m.telemetry, msg)
}
func (m *mockSink) HandleAck(binID string, msg *AckMsg) {
	m.binIDs = append(m.binIDs, binID)
	m.acks = append(m.acks, msg)
}
func (m *mockSink) HandleHeartbeat(binID string, msg *HeartbeatMsg) {
	m.binIDs = append(m.binIDs, binID)
	m.heartbeats = append(m.heartbeats, msg)
}
func (m *mockSink) HandleDiagnostic(binID string, payload []byte) {
	m.binIDs = append(m.binIDs, binID)
	m.diags = append(m.diags, payload)
}
func (m *mockSink) HandleOTAStatus(binID string, msg *OTAStatusMsg) {
	m.binIDs = append(m.binIDs, binID)
	m.otas = append(m.otas, msg)
}

func testConsumer(sink Sink) *Consumer {
	return &Consumer{prefix: "cleanroute", sink: sink}
}

func TestDispatchTelemetry(t *testing.T) {
	sink := &mockSink{}
	c := testConsumer(sink)

	c.dispatch("cleanroute/bins/B001/telemetry", []byte(`{"ts":"2026-01-15T10:00:00Z","fill_pct":72.5,"emptied":0}`))
	if len(sink.telemetry) != 1 {
		t.Fatalf("telemetry = %d, want 1", len(sink.telemetry))
	}
	if sink.telemetry[0].BinID != "B001" {
		t.Errorf("missing bin_id should be filled from topic, got %q", sink.telemetry[0].BinID)
	}
}

func TestDispatchDropsOutOfRangeFill(t *testing.T) {
	sink := &mockSink{}
	c := testConsumer(sink)

	c.dispatch("cleanroute/bins/B001/telemetry", []byte(`{"fill_pct":140,"emptied":0}`))
	c.dispatch("cleanroute/bins/B001/telemetry", []byte(`{"fill_pct":-5,"emptied":0}`))
	if len(sink.telemetry) != 0 {
		t.Errorf("out-of-range readings should be dropped, got %d", len(sink.telemetry))
	}
}

func TestDispatchAck(t *testing.T) {
	sink := &mockSink{}
	c := testConsumer(sink)

	c.dispatch("cleanroute/bins/B002/ack", []byte(`{"command_id":"cmd-1","success":true}`))
	if len(sink.acks) != 1 || sink.acks[0].CommandID != "cmd-1" {
		t.Fatalf("acks = %+v", sink.acks)
	}

	// Missing command_id is logged and dropped.
	c.dispatch("cleanroute/bins/B002/ack", []byte(`{"success":true}`))
	if len(sink.acks) != 1 {
		t.Errorf("ack without command_id should be dropped")
	}
}

func TestDispatchMalformedPayload(t *testing.T) {
	sink := &mockSink{}
	c := testConsumer(sink)

	c.dispatch("cleanroute/bins/B001/telemetry", []byte(`{not json`))
	c.dispatch("cleanroute/bins/B001/heartbeat", []byte(`]`))
	c.dispatch("cleanroute/bins/B001/ota_status", []byte(`42`))
	if len(sink.telemetry)+len(sink.heartbeats)+len(sink.otas) != 0 {
		t.Error("malformed payloads should all be dropped")
	}
}

func TestDispatchIgnoresDownlink(t *testing.T) {
	sink := &mockSink{}
	c := testConsumer(sink)

	c.dispatch("cleanroute/bins/B001/command", []byte(`{"command":"wake_up"}`))
	if len(sink.binIDs) != 0 {
		t.Error("own downlink must not be dispatched")
	}
}

func TestDispatchKinds(t *testing.T) {
	sink := &mockSink{}
	c := testConsumer(sink)

	c.dispatch("cleanroute/bins/B003/heartbeat", []byte(`{"rssi":-67,"uptime_seconds":3600,"firmware_version":"2.0.3"}`))
	c.dispatch("cleanroute/bins/B003/diagnostic", []byte(`{"diagnostic_id":"d1","sensor_ok":true}`))
	c.dispatch("cleanroute/bins/B003/ota_status", []byte(`{"update_id":"ota-1","status":"downloading","progress_pct":40}`))

	if len(sink.heartbeats) != 1 || sink.heartbeats[0].FirmwareVersion != "2.0.3" {
		t.Errorf("heartbeats = %+v", sink.heartbeats)
	}
	if len(sink.diags) != 1 {
		t.Errorf("diags = %d, want 1", len(sink.diags))
	}
	if len(sink.otas) != 1 || sink.otas[0].Status != "downloading" {
		t.Errorf("otas = %+v", sink.otas)
	}
}
