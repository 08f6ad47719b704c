package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"cleanroute/config"
	"cleanroute/devstate"
	"cleanroute/lifecycle"
	"cleanroute/messaging"
	"cleanroute/metrics"
	"cleanroute/routing"
	"cleanroute/store"
	"cleanroute/zones"
)

type LogFunc func(format string, args ...any)

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	DevState   *devstate.Manager
	MsgClient  *messaging.Client
	LogFunc    LogFunc
}

// Engine ties the transport, the device state cache and the collection
// lifecycle together. It is the messaging sink for all device uplinks and
// the publisher for all downlink commands.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	devState   *devstate.Manager
	msgClient  *messaging.Client
	lifecycle  *lifecycle.Manager
	zoneIndex  *zones.Index
	Events     *EventBus
	logFn      LogFunc
	stopChan   chan struct{}

	msgConnected bool
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		devState:   c.DevState,
		msgClient:  c.MsgClient,
		zoneIndex:  zones.NewIndex(zones.FromConfig(c.AppConfig.Zones)),
		Events:     NewEventBus(),
		logFn:      logFn,
		stopChan:   make(chan struct{}),
	}
	e.lifecycle = lifecycle.NewManager(c.DB, e, &lifecycleEmitter{bus: e.Events}, lifecycle.Params{
		AckTimeout:      c.AppConfig.Lifecycle.AckTimeout,
		MaxRetries:      c.AppConfig.Lifecycle.MaxRetries,
		CollectionHours: c.AppConfig.Lifecycle.CollectionHours,
		CollectedBelow:  c.AppConfig.Lifecycle.CollectedBelow,
	})
	return e
}

func (e *Engine) Start() error {
	e.wireEventHandlers()

	if err := e.lifecycle.Start(); err != nil {
		return fmt.Errorf("resume collection sessions: %w", err)
	}

	e.checkConnectionStatus()
	go e.connectionHealthLoop()
	go e.offlineSweepLoop()

	e.logFn("engine: started")
	return nil
}

func (e *Engine) Stop() {
	close(e.stopChan)
	e.lifecycle.Stop()
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                 { return e.db }
func (e *Engine) AppConfig() *config.Config     { return e.cfg }
func (e *Engine) ConfigPath() string            { return e.configPath }
func (e *Engine) DevState() *devstate.Manager   { return e.devState }
func (e *Engine) Lifecycle() *lifecycle.Manager { return e.lifecycle }
func (e *Engine) Zones() *zones.Index           { return e.zoneIndex }
func (e *Engine) MsgClient() *messaging.Client  { return e.msgClient }

// PublishCommand sends a command to a single bin's command topic.
func (e *Engine) PublishCommand(binID string, cmd *messaging.CommandMsg) error {
	return e.msgClient.PublishEncoded(messaging.BinCommandTopic(e.cfg.Messaging.TopicPrefix, binID), cmd)
}

// IssueBinCommand creates, records and publishes an operator command for a
// bin outside of any collection session. For ota_update commands an update
// record is opened so the device's progress reports have somewhere to land.
func (e *Engine) IssueBinCommand(binID, cmdType string, params map[string]any, actor string) (*messaging.CommandMsg, error) {
	b, err := e.db.GetBin(binID)
	if err != nil {
		return nil, err
	}

	cmd := messaging.NewCommandMsg(cmdType, uuid.New().String(), params)
	rec := &store.Command{
		CommandID:   cmd.CommandID,
		BinID:       b.BinID,
		ZoneID:      b.ZoneID,
		CommandType: cmdType,
		Params:      mustJSON(params),
		AckDeadline: time.Now().Add(e.cfg.Lifecycle.AckTimeout),
	}
	if err := e.db.CreateCommand(rec); err != nil {
		return nil, err
	}

	if cmdType == messaging.CmdOTAUpdate {
		version, _ := params["version"].(string)
		upd := &store.OTAUpdate{
			UpdateID:      cmd.CommandID,
			BinID:         b.BinID,
			TargetVersion: version,
		}
		if err := e.db.CreateOTAUpdate(upd); err != nil {
			e.logFn("engine: record ota update for %s: %v", binID, err)
		}
	}

	if err := e.PublishCommand(binID, cmd); err != nil {
		if ferr := e.db.MarkCommandFailed(cmd.CommandID, err.Error()); ferr != nil {
			e.logFn("engine: mark command %s failed: %v", cmd.CommandID, ferr)
		}
		return nil, fmt.Errorf("publish %s to %s: %w", cmdType, binID, err)
	}

	if err := e.db.AppendAudit("bin", binID, "command_"+cmdType, "", cmd.CommandID, actor); err != nil {
		e.logFn("engine: audit command for %s: %v", binID, err)
	}
	e.Events.Emit(Event{Type: EventCommandIssued, Payload: CommandIssuedEvent{
		ZoneID:      b.ZoneID,
		BinID:       b.BinID,
		CommandID:   cmd.CommandID,
		CommandType: cmdType,
	}})
	return cmd, nil
}

// --- messaging.Sink ---

func (e *Engine) HandleTelemetry(binID string, msg *messaging.TelemetryMsg) {
	b, err := e.db.GetBin(binID)
	if err != nil {
		e.logFn("engine: telemetry from unknown bin %s, dropped", binID)
		metrics.IncUplinkDropped("unknown_bin")
		return
	}

	if msg.Lat != nil && msg.Lon != nil {
		e.updateBinPosition(b, *msg.Lat, *msg.Lon)
	}

	reading := &store.TelemetryReading{
		BinID:     binID,
		Timestamp: msg.Time(),
		FillPct:   msg.FillPct,
		BattV:     msg.BattV,
		TempC:     msg.TempC,
		Emptied:   bool(msg.Emptied),
	}
	if err := e.devState.RecordTelemetry(reading); err != nil {
		e.logFn("engine: record telemetry from %s: %v", binID, err)
		return
	}

	if msg.FillPct >= e.cfg.Forecast.Threshold {
		e.raiseAlert(binID, "bin_full", "warning",
			fmt.Sprintf("fill at %.0f%%", msg.FillPct))
	}
	if batteryLow(msg.BattV) {
		e.raiseAlert(binID, "battery_low", "warning",
			fmt.Sprintf("battery at %.2fV", *msg.BattV))
	}

	e.lifecycle.HandleTelemetry(binID)

	e.Events.Emit(Event{Type: EventTelemetryReceived, Payload: TelemetryReceivedEvent{
		BinID:   binID,
		ZoneID:  b.ZoneID,
		FillPct: msg.FillPct,
		Emptied: bool(msg.Emptied),
	}})
}

func (e *Engine) HandleAck(binID string, msg *messaging.AckMsg) {
	e.lifecycle.HandleAck(binID, msg)
}

func (e *Engine) HandleHeartbeat(binID string, msg *messaging.HeartbeatMsg) {
	if err := e.devState.Heartbeat(binID, time.Now()); err != nil {
		e.logFn("engine: heartbeat from %s: %v", binID, err)
		return
	}
	e.Events.Emit(Event{Type: EventHeartbeatReceived, Payload: HeartbeatReceivedEvent{
		BinID:           binID,
		FirmwareVersion: msg.FirmwareVersion,
	}})
}

func (e *Engine) HandleDiagnostic(binID string, payload []byte) {
	if err := e.db.AppendAudit("bin", binID, "diagnostic", "", string(payload), "device"); err != nil {
		e.logFn("engine: store diagnostic from %s: %v", binID, err)
	}
}

func (e *Engine) HandleOTAStatus(binID string, msg *messaging.OTAStatusMsg) {
	if msg.UpdateID == "" {
		e.logFn("engine: ota status from %s without update_id, dropped", binID)
		return
	}
	detail := fmt.Sprintf("%.0f%%", msg.ProgressPct)
	if msg.Error != "" {
		detail = msg.Error
	}
	if err := e.db.SetOTAStatus(msg.UpdateID, msg.Status, detail); err != nil {
		e.logFn("engine: ota status for %s: %v", msg.UpdateID, err)
		return
	}
	if msg.Status == store.OTAFailed {
		e.raiseAlert(binID, "ota_failed", "error",
			fmt.Sprintf("update %s failed: %s", msg.UpdateID, msg.Error))
	}
	e.Events.Emit(Event{Type: EventOTAStatusChanged, Payload: OTAStatusChangedEvent{
		BinID:       binID,
		UpdateID:    msg.UpdateID,
		Status:      msg.Status,
		ProgressPct: msg.ProgressPct,
		Detail:      msg.Error,
	}})
}

// --- internals ---

// updateBinPosition stores reported coordinates and reassigns the zone when
// the bin has moved across a boundary.
func (e *Engine) updateBinPosition(b *store.Bin, lat, lon float64) {
	if b.Lat != nil && b.Lon != nil && *b.Lat == lat && *b.Lon == lon {
		return
	}
	b.Lat, b.Lon = &lat, &lon
	if err := e.db.UpdateBin(b); err != nil {
		e.logFn("engine: update position of %s: %v", b.BinID, err)
		return
	}
	zoneID := e.zoneIndex.Assign(routing.Point{Lat: lat, Lon: lon})
	if zoneID != "" && zoneID != b.ZoneID {
		old := b.ZoneID
		if err := e.db.SetBinZone(b.BinID, zoneID); err != nil {
			e.logFn("engine: reassign zone of %s: %v", b.BinID, err)
			return
		}
		b.ZoneID = zoneID
		e.logFn("engine: bin %s moved from zone %q to %q", b.BinID, old, zoneID)
	}
}

// raiseAlert opens an alert unless one of the same type is already
// pending unacknowledged for the bin.
func (e *Engine) raiseAlert(binID, alertType, severity, message string) {
	open, err := e.db.HasUnackedAlert(binID, alertType)
	if err != nil {
		e.logFn("engine: check %s alert for %s: %v", alertType, binID, err)
		return
	}
	if open {
		return
	}
	a := &store.Alert{BinID: binID, AlertType: alertType, Severity: severity, Message: message}
	if err := e.db.CreateAlert(a); err != nil {
		e.logFn("engine: create %s alert for %s: %v", alertType, binID, err)
		return
	}
	e.Events.Emit(Event{Type: EventAlertRaised, Payload: AlertRaisedEvent{
		BinID:     binID,
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
	}})
}

func (e *Engine) offlineSweepLoop() {
	interval := e.cfg.Messaging.OfflineSweep
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.sweepOffline()
		}
	}
}

func (e *Engine) sweepOffline() {
	cutoff := time.Now().Add(-e.cfg.Messaging.OfflineAfter)
	ids, err := e.db.MarkStaleBinsOffline(cutoff)
	if err != nil {
		e.logFn("engine: offline sweep: %v", err)
		return
	}
	if online, err := e.db.CountOnlineBins(); err == nil {
		metrics.SetBinsOnline(online)
	}
	if len(ids) == 0 {
		return
	}
	e.logFn("engine: marked %d bins offline: %v", len(ids), ids)
	for _, id := range ids {
		e.raiseAlert(id, "bin_offline", "warning", "no telemetry or heartbeat received")
	}
	e.Events.Emit(Event{Type: EventBinsMarkedOffline, Payload: BinsMarkedOfflineEvent{BinIDs: ids}})
}

func (e *Engine) checkConnectionStatus() {
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else {
		if e.msgConnected {
			e.msgConnected = false
			e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
		}
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}

func batteryLow(v *float64) bool {
	return v != nil && *v > 0 && *v < 3.3
}

func mustJSON(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
