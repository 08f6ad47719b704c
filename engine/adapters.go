package engine

// lifecycleEmitter bridges the lifecycle package's emitter interface to
// the EventBus.
type lifecycleEmitter struct {
	bus *EventBus
}

func (e *lifecycleEmitter) EmitSessionStateChanged(zoneID string, sessionID int64, oldState, newState string) {
	e.bus.Emit(Event{Type: EventSessionStateChanged, Payload: SessionStateChangedEvent{
		ZoneID:    zoneID,
		SessionID: sessionID,
		OldState:  oldState,
		NewState:  newState,
	}})
}

func (e *lifecycleEmitter) EmitCommandIssued(zoneID, binID, commandID, commandType string, retry int) {
	e.bus.Emit(Event{Type: EventCommandIssued, Payload: CommandIssuedEvent{
		ZoneID:      zoneID,
		BinID:       binID,
		CommandID:   commandID,
		CommandType: commandType,
		Retry:       retry,
	}})
}

func (e *lifecycleEmitter) EmitBinResponded(zoneID, binID string) {
	e.bus.Emit(Event{Type: EventBinResponded, Payload: BinRespondedEvent{
		ZoneID: zoneID,
		BinID:  binID,
	}})
}

func (e *lifecycleEmitter) EmitBinUnresponsive(zoneID, binID string) {
	e.bus.Emit(Event{Type: EventBinUnresponsive, Payload: BinUnresponsiveEvent{
		ZoneID: zoneID,
		BinID:  binID,
	}})
}
