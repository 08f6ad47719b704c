package engine

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"cleanroute/messaging"
	"cleanroute/metrics"
	"cleanroute/store"
)

func (e *Engine) wireEventHandlers() {
	// Session transitions: audit, keep the active-session gauge honest,
	// and mirror wake/sleep onto the zone broadcast topic so devices that
	// missed their unicast command still hear about collection day.
	e.Events.On(func(evt Event) {
		ev := evt.Payload.(SessionStateChangedEvent)
		e.logFn("engine: zone %s session %d: %s -> %s", ev.ZoneID, ev.SessionID, ev.OldState, ev.NewState)
		if err := e.db.AppendAudit("session", strconv.FormatInt(ev.SessionID, 10), ev.NewState, ev.OldState, ev.ZoneID, "system"); err != nil {
			e.logFn("engine: audit session %d: %v", ev.SessionID, err)
		}
		switch ev.NewState {
		case store.SessionStarted:
			e.broadcastZoneCommand(ev.ZoneID, messaging.CmdWakeUp)
		case store.SessionEnded:
			e.broadcastZoneCommand(ev.ZoneID, messaging.CmdSleep)
		}
		e.updateSessionGauge()
	}, EventSessionStateChanged)

	// Commands: count them. Session-issued commands are audited here as
	// well; operator commands audit themselves with the actor attached.
	e.Events.On(func(evt Event) {
		ev := evt.Payload.(CommandIssuedEvent)
		metrics.IncCommandIssued(ev.CommandType)
		if ev.Retry > 0 {
			e.logFn("engine: retry %d of %s for bin %s", ev.Retry, ev.CommandType, ev.BinID)
		}
	}, EventCommandIssued)

	// A bin answering its wake command is alive. The lifecycle manager
	// already wrote the registry; refresh the cache and count the ack.
	e.Events.On(func(evt Event) {
		ev := evt.Payload.(BinRespondedEvent)
		metrics.IncCommandResult(store.CommandAcked)
		if err := e.devState.SetDeviceStatus(ev.BinID, "online"); err != nil {
			e.logFn("engine: mark %s online: %v", ev.BinID, err)
		}
	}, EventBinResponded)

	// Retry exhaustion: alert metrics and push the offline status through
	// the cache so dashboards see it without a registry read.
	e.Events.On(func(evt Event) {
		ev := evt.Payload.(BinUnresponsiveEvent)
		metrics.IncBinUnresponsive()
		metrics.IncCommandResult(store.CommandExpired)
		if err := e.devState.SetDeviceStatus(ev.BinID, "offline"); err != nil {
			e.logFn("engine: mark %s offline: %v", ev.BinID, err)
		}
	}, EventBinUnresponsive)

	// The offline sweep writes the registry itself; only the cache and
	// audit trail are left to update.
	e.Events.On(func(evt Event) {
		ev := evt.Payload.(BinsMarkedOfflineEvent)
		for _, id := range ev.BinIDs {
			if err := e.devState.SetDeviceStatus(id, "offline"); err != nil {
				e.logFn("engine: mark %s offline: %v", id, err)
			}
			if err := e.db.AppendAudit("bin", id, "offline", "", "missed heartbeat window", "system"); err != nil {
				e.logFn("engine: audit offline %s: %v", id, err)
			}
		}
	}, EventBinsMarkedOffline)

	e.Events.On(func(evt Event) {
		ev := evt.Payload.(TelemetryReceivedEvent)
		metrics.IncTelemetryReceived(ev.ZoneID)
	}, EventTelemetryReceived)

	e.Events.On(func(evt Event) {
		ev := evt.Payload.(AlertRaisedEvent)
		metrics.IncAlertRaised(ev.AlertType)
		e.logFn("engine: alert [%s] %s: %s", ev.Severity, ev.AlertType, ev.Message)
	}, EventAlertRaised)

	e.Events.On(func(evt Event) {
		ev := evt.Payload.(OTAStatusChangedEvent)
		detail := fmt.Sprintf("%.0f%%", ev.ProgressPct)
		if ev.Detail != "" {
			detail = ev.Detail
		}
		if err := e.db.AppendAudit("ota", ev.UpdateID, ev.Status, "", detail, "device"); err != nil {
			e.logFn("engine: audit ota %s: %v", ev.UpdateID, err)
		}
	}, EventOTAStatusChanged)

	e.Events.On(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.logFn("engine: %s", ev.Detail)
	}, EventMessagingConnected, EventMessagingDisconnected)
}

// broadcastZoneCommand is advisory and untracked; per-bin commands carry
// the acked command IDs.
func (e *Engine) broadcastZoneCommand(zoneID, cmdType string) {
	cmd := messaging.NewCommandMsg(cmdType, uuid.New().String(), nil)
	topic := messaging.ZoneCommandTopic(e.cfg.Messaging.TopicPrefix, zoneID)
	if err := e.msgClient.PublishEncoded(topic, cmd); err != nil {
		e.logFn("engine: zone broadcast %s to %s: %v", cmdType, zoneID, err)
	}
}

func (e *Engine) updateSessionGauge() {
	zs, err := e.db.ZonesWithActiveSessions()
	if err != nil {
		e.logFn("engine: count active sessions: %v", err)
		return
	}
	metrics.SetActiveSessions(len(zs))
}
