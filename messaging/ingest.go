package messaging

import (
	"encoding/json"
	"log"

	"cleanroute/metrics"
)

// Sink receives decoded uplink messages. Implementations must be safe for
// concurrent calls; the transport delivers from its own goroutines.
type Sink interface {
	HandleTelemetry(binID string, msg *TelemetryMsg)
	HandleAck(binID string, msg *AckMsg)
	HandleHeartbeat(binID string, msg *HeartbeatMsg)
	HandleDiagnostic(binID string, payload []byte)
	HandleOTAStatus(binID string, msg *OTAStatusMsg)
}

// Consumer subscribes to the device uplink topics and dispatches decoded
// messages to the sink. Malformed payloads are logged and dropped; one bad
// device must not stall the stream.
type Consumer struct {
	client *Client
	prefix string
	sink   Sink
}

func NewConsumer(client *Client, prefix string, sink Sink) *Consumer {
	return &Consumer{client: client, prefix: prefix, sink: sink}
}

func (c *Consumer) Start() error {
	return c.client.Subscribe(UplinkWildcard(c.prefix), c.dispatch)
}

func (c *Consumer) dispatch(topic string, payload []byte) {
	binID, kind, err := ParseUplinkTopic(c.prefix, topic)
	if err != nil {
		log.Printf("ingest: %v", err)
		metrics.IncUplinkDropped("bad_topic")
		return
	}

	switch kind {
	case KindTelemetry:
		var msg TelemetryMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("ingest: bad telemetry from %s: %v", binID, err)
			metrics.IncUplinkDropped("bad_payload")
			return
		}
		if msg.BinID == "" {
			msg.BinID = binID
		}
		if msg.FillPct < 0 || msg.FillPct > 100 {
			log.Printf("ingest: telemetry from %s with fill_pct %v out of range, dropped", binID, msg.FillPct)
			metrics.IncUplinkDropped("fill_out_of_range")
			return
		}
		c.sink.HandleTelemetry(binID, &msg)
	case KindAck:
		var msg AckMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("ingest: bad ack from %s: %v", binID, err)
			metrics.IncUplinkDropped("bad_payload")
			return
		}
		if msg.CommandID == "" {
			log.Printf("ingest: ack from %s missing command_id", binID)
			metrics.IncUplinkDropped("missing_command_id")
			return
		}
		c.sink.HandleAck(binID, &msg)
	case KindHeartbeat:
		var msg HeartbeatMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("ingest: bad heartbeat from %s: %v", binID, err)
			metrics.IncUplinkDropped("bad_payload")
			return
		}
		c.sink.HandleHeartbeat(binID, &msg)
	case KindDiagnostic:
		c.sink.HandleDiagnostic(binID, payload)
	case KindOTAStatus:
		var msg OTAStatusMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("ingest: bad ota status from %s: %v", binID, err)
			metrics.IncUplinkDropped("bad_payload")
			return
		}
		c.sink.HandleOTAStatus(binID, &msg)
	default:
		log.Printf("ingest: unknown message kind %q from %s", kind, binID)
		metrics.IncUplinkDropped("unknown_kind")
	}
}
