package lifecycle

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cleanroute/messaging"
	"cleanroute/store"
)

// Manager orchestrates collection sessions: one actor per zone, wake
// commands with ack tracking and retry, and sleep on session end.
// Forecast and routing stay outside; the manager only owns device state
// bookkeeping for the collection day.
type Manager struct {
	db      *store.DB
	pub     Publisher
	emitter EventEmitter
	params  Params

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewManager(db *store.DB, pub Publisher, emitter EventEmitter, params Params) *Manager {
	return &Manager{
		db:       db,
		pub:      pub,
		emitter:  emitter,
		params:   params,
		sessions: make(map[string]*session),
	}
}

// Start resumes any sessions left open by a previous run and re-arms
// retry timers for their pending commands.
func (m *Manager) Start() error {
	pending, err := m.db.ListPendingCommands()
	if err != nil {
		return fmt.Errorf("list pending commands: %w", err)
	}
	byZone := make(map[string][]*store.Command)
	for _, c := range pending {
		if c.ZoneID != "" {
			byZone[c.ZoneID] = append(byZone[c.ZoneID], c)
		}
	}

	zoneIDs, err := m.db.ZonesWithActiveSessions()
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	active := make(map[string]bool, len(zoneIDs))
	for _, zoneID := range zoneIDs {
		active[zoneID] = true
		if err := m.resumeZone(zoneID, byZone[zoneID]); err != nil {
			log.Printf("lifecycle: resume %s: %v", zoneID, err)
		}
	}

	// Commands from ended or lost sessions can't be retried anymore;
	// expire them once their deadline passes.
	for _, c := range pending {
		if !active[c.ZoneID] && time.Now().After(c.AckDeadline) {
			if err := m.db.ExpireCommand(c.CommandID); err != nil {
				log.Printf("lifecycle: expire stale %s: %v", c.CommandID, err)
			}
		}
	}
	return nil
}

// Stop shuts down all session actors without ending their sessions; they
// resume on the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for zoneID, s := range m.sessions {
		s.do(s.close)
		delete(m.sessions, zoneID)
	}
}

func (m *Manager) resumeZone(zoneID string, pending []*store.Command) error {
	rec, err := m.db.ActiveSession(zoneID)
	if err != nil {
		return err
	}
	sbs, err := m.db.ListSessionBins(rec.ID)
	if err != nil {
		return err
	}

	s := newSession(rec.ID, zoneID, rec.State, rec.CreatedAt)
	s.do(func() {
		for _, sb := range sbs {
			s.bins[sb.BinID] = &binState{
				binID:         sb.BinID,
				lastCommandID: sb.LastCommandID,
				acked:         sb.Acked,
				responded:     sb.Responded,
				unresponsive:  sb.Unresponsive,
				retry:         sb.RetryCount,
			}
		}
		for _, c := range pending {
			b, ok := s.bins[c.BinID]
			if !ok || b.lastCommandID != c.CommandID || b.responded || b.unresponsive {
				continue
			}
			remaining := time.Until(c.AckDeadline)
			if remaining < 0 {
				remaining = 0
			}
			cmdID := c.CommandID
			cmdType := c.CommandType
			s.armTimer(cmdID, remaining, func() { m.onDeadline(s, cmdID, cmdType) })
		}
	})

	m.mu.Lock()
	m.sessions[zoneID] = s
	m.mu.Unlock()
	log.Printf("lifecycle: resumed session %d for zone %s (%d bins)", rec.ID, zoneID, len(sbs))
	return nil
}

func (m *Manager) activeSession(zoneID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[zoneID]
}

// StartCollection opens a session for the zone and wakes every bin in it.
// The call returns as soon as commands are issued; progress is observed
// through CheckStatus. A zone with no bins yields an empty snapshot and
// no session.
func (m *Manager) StartCollection(zoneID string) (*Snapshot, error) {
	bins, err := m.db.ListBinsByZone(zoneID)
	if err != nil {
		return nil, fmt.Errorf("list bins for %s: %w", zoneID, err)
	}
	if len(bins) == 0 {
		return &Snapshot{ZoneID: zoneID, State: store.SessionNotStarted}, nil
	}

	// Claim the zone slot before touching the database so a concurrent
	// start cannot insert a second session row for the same zone.
	s := newSession(0, zoneID, store.SessionNotStarted, time.Now())
	m.mu.Lock()
	if m.sessions[zoneID] != nil {
		m.mu.Unlock()
		s.do(s.close)
		return nil, ErrSessionActive
	}
	m.sessions[zoneID] = s
	m.mu.Unlock()

	abort := func(rec *store.CollectionSession) {
		if rec != nil {
			if err := m.db.SetSessionState(rec.ID, store.SessionEnded, time.Now()); err != nil {
				log.Printf("lifecycle: abort session %d: %v", rec.ID, err)
			}
		}
		m.mu.Lock()
		delete(m.sessions, zoneID)
		m.mu.Unlock()
		s.do(s.close)
	}

	rec, err := m.db.CreateSession(zoneID)
	if err != nil {
		abort(nil)
		return nil, err
	}
	for _, b := range bins {
		if err := m.db.AddSessionBin(rec.ID, b.BinID); err != nil {
			abort(rec)
			return nil, err
		}
	}

	var snap *Snapshot
	ran := false
	s.do(func() {
		ran = true
		s.id = rec.ID
		s.state = rec.State
		s.created = rec.CreatedAt
		for _, b := range bins {
			s.bins[b.BinID] = &binState{binID: b.BinID}
		}
		m.setState(s, store.SessionStarted)
		wakeParams := map[string]any{
			"collection_hours":           m.params.CollectionHours,
			"telemetry_interval_minutes": 60,
		}
		for _, b := range sortedBins(s.bins) {
			m.issueCommand(s, b, messaging.CmdWakeUp, wakeParams)
		}
		snap = s.snapshot()
	})
	if !ran {
		// The session was torn down before the wake fan-out ran.
		abort(rec)
		return nil, ErrNoActiveSession
	}
	return snap, nil
}

// CheckStatus reports responded vs. total for the zone's session. The
// per-bin sub-records are never mutated here, so it is safe to call
// repeatedly; only the started-to-checked transition is recorded once.
func (m *Manager) CheckStatus(zoneID string) (*Snapshot, error) {
	s := m.activeSession(zoneID)
	if s == nil {
		return nil, ErrNoActiveSession
	}
	var snap *Snapshot
	s.do(func() {
		if s.state == store.SessionStarted {
			m.setState(s, store.SessionChecked)
		}
		snap = s.snapshot()
	})
	return snap, nil
}

// Finish re-evaluates current fill levels: bins whose last reading is
// still at or above the collected threshold are flagged as potentially
// missed. The transition is never blocked; the operator decides what to
// do with the missed list.
func (m *Manager) Finish(zoneID string) (*Snapshot, error) {
	s := m.activeSession(zoneID)
	if s == nil {
		return nil, ErrNoActiveSession
	}
	var snap *Snapshot
	s.do(func() {
		if s.state != store.SessionFinished {
			m.setState(s, store.SessionFinished)
		}
		snap = s.snapshot()
		for _, b := range sortedBins(s.bins) {
			latest, err := m.db.LatestTelemetry(b.binID)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					log.Printf("lifecycle: finish %s: latest telemetry %s: %v", zoneID, b.binID, err)
				}
				continue
			}
			if latest.FillPct >= m.params.CollectedBelow {
				snap.MissedBins = append(snap.MissedBins, b.binID)
			}
		}
	})
	return snap, nil
}

// End sleeps every bin in the zone regardless of responded or missed
// status, cancels all retry timers, marks the session ended and frees the
// zone for a new session. Sleep commands are fire-and-forget; their acks
// are still recorded against the command table when they arrive.
func (m *Manager) End(zoneID string) (*Snapshot, error) {
	s := m.activeSession(zoneID)
	if s == nil {
		return nil, ErrNoActiveSession
	}

	var snap *Snapshot
	s.do(func() {
		s.cancelAllTimers()
		for _, b := range sortedBins(s.bins) {
			if b.lastCommandID != "" && !b.acked {
				if err := m.db.ExpireCommand(b.lastCommandID); err != nil {
					log.Printf("lifecycle: expire %s: %v", b.lastCommandID, err)
				}
			}
			m.issueSleep(s, b.binID)
		}
		m.setState(s, store.SessionEnded)
		snap = s.snapshot()
		now := time.Now()
		snap.EndedAt = &now
		s.close()
	})

	m.mu.Lock()
	delete(m.sessions, zoneID)
	m.mu.Unlock()
	return snap, nil
}

// Snapshot returns the current view without any state transition.
func (m *Manager) Snapshot(zoneID string) (*Snapshot, error) {
	s := m.activeSession(zoneID)
	if s == nil {
		return nil, ErrNoActiveSession
	}
	var snap *Snapshot
	s.do(func() { snap = s.snapshot() })
	return snap, nil
}

// UnresponsiveBins lists bins excluded from routing for the zone's active
// session. No session means no exclusions.
func (m *Manager) UnresponsiveBins(zoneID string) []string {
	s := m.activeSession(zoneID)
	if s == nil {
		return nil
	}
	var out []string
	s.do(func() {
		for _, b := range sortedBins(s.bins) {
			if b.unresponsive {
				out = append(out, b.binID)
			}
		}
	})
	return out
}

// HandleAck processes a device acknowledgment. An ack whose command-id
// matches nothing pending, or a superseded command on a session bin, is
// logged and discarded.
func (m *Manager) HandleAck(binID string, msg *messaging.AckMsg) {
	cmd, err := m.db.GetCommand(msg.CommandID)
	if err != nil {
		log.Printf("lifecycle: ack from %s for unknown command %s, discarded", binID, msg.CommandID)
		return
	}

	now := time.Now()
	if msg.OK() {
		if err := m.db.MarkCommandAcked(msg.CommandID, now); err != nil {
			log.Printf("lifecycle: mark acked %s: %v", msg.CommandID, err)
		}
	} else {
		if err := m.db.MarkCommandFailed(msg.CommandID, msg.Error); err != nil {
			log.Printf("lifecycle: mark failed %s: %v", msg.CommandID, err)
		}
	}

	s := m.activeSession(cmd.ZoneID)
	if s == nil {
		return
	}
	s.do(func() {
		b, ok := s.bins[binID]
		if !ok {
			return
		}
		if b.lastCommandID != msg.CommandID {
			log.Printf("lifecycle: ack from %s for superseded command %s, ignored", binID, msg.CommandID)
			return
		}
		if b.unresponsive {
			return
		}
		s.cancelTimer(msg.CommandID)
		if b.acked && b.responded {
			return
		}
		b.acked = true
		b.responded = true
		if err := m.db.MarkSessionBinAcked(s.id, binID); err != nil {
			log.Printf("lifecycle: session bin ack %s: %v", binID, err)
		}
		if m.emitter != nil {
			m.emitter.EmitBinResponded(s.zoneID, binID)
		}
	})
}

// HandleTelemetry treats a reading from a bin with an active session as
// an implicit liveness signal: the first of ack or telemetry satisfies
// the pending command without re-requiring the other.
func (m *Manager) HandleTelemetry(binID string) {
	bin, err := m.db.GetBin(binID)
	if err != nil {
		return
	}
	s := m.activeSession(bin.ZoneID)
	if s == nil {
		return
	}
	s.do(func() {
		b, ok := s.bins[binID]
		if !ok || b.responded || b.unresponsive {
			return
		}
		b.responded = true
		if b.lastCommandID != "" {
			s.cancelTimer(b.lastCommandID)
			if err := m.db.MarkCommandSatisfied(b.lastCommandID, time.Now()); err != nil {
				log.Printf("lifecycle: satisfy %s: %v", b.lastCommandID, err)
			}
		}
		if err := m.db.MarkSessionBinResponded(s.id, binID); err != nil {
			log.Printf("lifecycle: session bin responded %s: %v", binID, err)
		}
		if m.emitter != nil {
			m.emitter.EmitBinResponded(s.zoneID, binID)
		}
	})
}

// issueCommand sends a command to one session bin and arms its retry
// timer. Must run on the actor goroutine. A publish failure counts as a
// transport outage: the bin becomes an immediate retry candidate instead
// of waiting out the full ack deadline.
func (m *Manager) issueCommand(s *session, b *binState, cmdType string, params map[string]any) {
	commandID := uuid.New().String()
	deadline := time.Now().Add(m.params.AckTimeout)

	cmd := &store.Command{
		CommandID:   commandID,
		BinID:       b.binID,
		ZoneID:      s.zoneID,
		CommandType: cmdType,
		AckDeadline: deadline,
		RetryCount:  b.retry,
	}
	if err := m.db.CreateCommand(cmd); err != nil {
		log.Printf("lifecycle: create command for %s: %v", b.binID, err)
		return
	}
	b.lastCommandID = commandID
	if err := m.db.SetSessionBinCommand(s.id, b.binID, commandID, b.retry); err != nil {
		log.Printf("lifecycle: session bin command %s: %v", b.binID, err)
	}
	if cmdType == messaging.CmdWakeUp {
		if err := m.db.SetBinLastWakeCommand(b.binID, commandID); err != nil {
			log.Printf("lifecycle: last wake %s: %v", b.binID, err)
		}
	}
	if m.emitter != nil {
		m.emitter.EmitCommandIssued(s.zoneID, b.binID, commandID, cmdType, b.retry)
	}

	retryDelay := m.params.AckTimeout
	if err := m.pub.PublishCommand(b.binID, messaging.NewCommandMsg(cmdType, commandID, params)); err != nil {
		log.Printf("lifecycle: publish %s to %s: %v", cmdType, b.binID, err)
		retryDelay = 0
	}
	s.armTimer(commandID, retryDelay, func() { m.onDeadline(s, commandID, cmdType) })
}

// issueSleep is fire-and-forget: no timer, no retry bookkeeping.
func (m *Manager) issueSleep(s *session, binID string) {
	commandID := uuid.New().String()
	cmd := &store.Command{
		CommandID:   commandID,
		BinID:       binID,
		ZoneID:      s.zoneID,
		CommandType: messaging.CmdSleep,
		AckDeadline: time.Now().Add(m.params.AckTimeout),
	}
	if err := m.db.CreateCommand(cmd); err != nil {
		log.Printf("lifecycle: create sleep command for %s: %v", binID, err)
		return
	}
	if err := m.pub.PublishCommand(binID, messaging.NewCommandMsg(messaging.CmdSleep, commandID, nil)); err != nil {
		log.Printf("lifecycle: publish sleep to %s: %v", binID, err)
	}
	if err := m.db.SetBinSleepMode(binID, true); err != nil {
		log.Printf("lifecycle: sleep mode %s: %v", binID, err)
	}
	if m.emitter != nil {
		m.emitter.EmitCommandIssued(s.zoneID, binID, commandID, messaging.CmdSleep, 0)
	}
}

// onDeadline fires when a command's ack deadline passes. Runs on the
// actor goroutine. Re-issues with a fresh command-id while retries
// remain; otherwise the bin is permanently unresponsive for this session.
func (m *Manager) onDeadline(s *session, commandID, cmdType string) {
	delete(s.timers, commandID)
	var b *binState
	for _, candidate := range s.bins {
		if candidate.lastCommandID == commandID {
			b = candidate
			break
		}
	}
	if b == nil || b.acked || b.responded || b.unresponsive {
		return
	}

	if err := m.db.ExpireCommand(commandID); err != nil {
		log.Printf("lifecycle: expire %s: %v", commandID, err)
	}

	if b.retry < m.params.MaxRetries {
		b.retry++
		log.Printf("lifecycle: retry %d/%d %s for %s", b.retry, m.params.MaxRetries, cmdType, b.binID)
		var params map[string]any
		if cmdType == messaging.CmdWakeUp {
			params = map[string]any{
				"collection_hours":           m.params.CollectionHours,
				"telemetry_interval_minutes": 60,
			}
		}
		m.issueCommand(s, b, cmdType, params)
		return
	}

	b.unresponsive = true
	log.Printf("lifecycle: bin %s unresponsive after %d retries", b.binID, b.retry)
	if err := m.db.MarkSessionBinUnresponsive(s.id, b.binID); err != nil {
		log.Printf("lifecycle: mark unresponsive %s: %v", b.binID, err)
	}
	if err := m.db.SetBinDeviceStatus(b.binID, "offline"); err != nil {
		log.Printf("lifecycle: device status %s: %v", b.binID, err)
	}
	if err := m.db.CreateAlert(&store.Alert{
		BinID:     b.binID,
		AlertType: "bin_unresponsive",
		Severity:  "warning",
		Message:   fmt.Sprintf("no response to %s after %d retries", cmdType, b.retry),
	}); err != nil {
		log.Printf("lifecycle: alert %s: %v", b.binID, err)
	}
	if m.emitter != nil {
		m.emitter.EmitBinUnresponsive(s.zoneID, b.binID)
	}
}

// setState persists a session state transition. Must run on the actor
// goroutine.
func (m *Manager) setState(s *session, state string) {
	old := s.state
	s.state = state
	if err := m.db.SetSessionState(s.id, state, time.Now()); err != nil {
		log.Printf("lifecycle: set state %s %s: %v", s.zoneID, state, err)
	}
	if m.emitter != nil {
		m.emitter.EmitSessionStateChanged(s.zoneID, s.id, old, state)
	}
}
