package lifecycle

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cleanroute/config"
	"cleanroute/messaging"
	"cleanroute/store"
)

type publishedCmd struct {
	binID string
	cmd   *messaging.CommandMsg
}

type mockPublisher struct {
	mu        sync.Mutex
	published []publishedCmd
	failBins  map[string]bool
}

func (p *mockPublisher) PublishCommand(binID string, cmd *messaging.CommandMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failBins[binID] {
		return errors.New("broker unreachable")
	}
	p.published = append(p.published, publishedCmd{binID: binID, cmd: cmd})
	return nil
}

func (p *mockPublisher) commands(binID, cmdType string) []*messaging.CommandMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*messaging.CommandMsg
	for _, pc := range p.published {
		if pc.binID == binID && pc.cmd.Command == cmdType {
			out = append(out, pc.cmd)
		}
	}
	return out
}

func (p *mockPublisher) countByType(cmdType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pc := range p.published {
		if pc.cmd.Command == cmdType {
			n++
		}
	}
	return n
}

type mockEmitter struct {
	mu           sync.Mutex
	stateChanges []string
	unresponsive []string
}

func (e *mockEmitter) EmitSessionStateChanged(zoneID string, sessionID int64, oldState, newState string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateChanges = append(e.stateChanges, fmt.Sprintf("%s:%s->%s", zoneID, oldState, newState))
}
func (e *mockEmitter) EmitCommandIssued(zoneID, binID, commandID, commandType string, retry int) {}
func (e *mockEmitter) EmitBinResponded(zoneID, binID string)                                    {}
func (e *mockEmitter) EmitBinUnresponsive(zoneID, binID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unresponsive = append(e.unresponsive, binID)
}

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBins(t *testing.T, db *store.DB, zoneID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("BIN-%03d", i)
		lat, lon := 6.92+float64(i)*0.001, 79.86+float64(i)*0.001
		b := &store.Bin{BinID: id, ZoneID: zoneID, CapacityLiters: 240, Lat: &lat, Lon: &lon}
		if err := db.CreateBin(b); err != nil {
			t.Fatalf("seed bin %s: %v", id, err)
		}
		ids = append(ids, id)
	}
	return ids
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartCollectionWakesAllBins(t *testing.T) {
	db := testStore(t)
	seedBins(t, db, "colombo_zone1", 8)
	pub := &mockPublisher{}
	m := NewManager(db, pub, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	snap, err := m.StartCollection("colombo_zone1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.State != store.SessionStarted {
		t.Errorf("State = %q, want started", snap.State)
	}
	if snap.BinsTotal != 8 || snap.BinsResponded != 0 {
		t.Errorf("total = %d responded = %d", snap.BinsTotal, snap.BinsResponded)
	}
	if got := pub.countByType(messaging.CmdWakeUp); got != 8 {
		t.Errorf("wake commands = %d, want 8", got)
	}
}

func TestStartTwiceFails(t *testing.T) {
	db := testStore(t)
	seedBins(t, db, "colombo_zone1", 2)
	m := NewManager(db, &mockPublisher{}, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.StartCollection("colombo_zone1"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second start = %v, want ErrSessionActive", err)
	}
}

func TestConcurrentStartsCreateOneSession(t *testing.T) {
	db := testStore(t)
	seedBins(t, db, "colombo_zone1", 4)
	m := NewManager(db, &mockPublisher{}, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	const starters = 8
	errs := make(chan error, starters)
	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.StartCollection("colombo_zone1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSessionActive):
			lost++
		default:
			t.Errorf("start: %v", err)
		}
	}
	if won != 1 || lost != starters-1 {
		t.Errorf("won = %d, lost = %d, want 1 and %d", won, lost, starters-1)
	}

	sessions, err := db.ListSessions("colombo_zone1", 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	active := 0
	for _, s := range sessions {
		if s.EndedAt == nil {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active sessions = %d, want 1", active)
	}
}

func TestStartEmptyZone(t *testing.T) {
	db := testStore(t)
	m := NewManager(db, &mockPublisher{}, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	snap, err := m.StartCollection("colombo_zone4")
	if err != nil {
		t.Fatalf("empty zone should not error: %v", err)
	}
	if snap.BinsTotal != 0 {
		t.Errorf("BinsTotal = %d, want 0", snap.BinsTotal)
	}
	if _, err := m.CheckStatus("colombo_zone4"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("no session should exist for empty zone, err = %v", err)
	}
}

func TestActionsWithoutSession(t *testing.T) {
	db := testStore(t)
	m := NewManager(db, &mockPublisher{}, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	for name, fn := range map[string]func(string) (*Snapshot, error){
		"check":  m.CheckStatus,
		"finish": m.Finish,
		"end":    m.End,
	} {
		if _, err := fn("colombo_zone1"); !errors.Is(err, ErrNoActiveSession) {
			t.Errorf("%s = %v, want ErrNoActiveSession", name, err)
		}
	}
}

func TestAckAndCheckStatus(t *testing.T) {
	db := testStore(t)
	bins := seedBins(t, db, "colombo_zone1", 8)
	pub := &mockPublisher{}
	m := NewManager(db, pub, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Five bins ack within the deadline.
	for _, binID := range bins[:5] {
		cmds := pub.commands(binID, messaging.CmdWakeUp)
		if len(cmds) != 1 {
			t.Fatalf("%s wake commands = %d", binID, len(cmds))
		}
		m.HandleAck(binID, &messaging.AckMsg{CommandID: cmds[0].CommandID})
	}

	snap, err := m.CheckStatus("colombo_zone1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if snap.BinsResponded != 5 || snap.BinsTotal != 8 {
		t.Errorf("responded = %d total = %d, want 5/8", snap.BinsResponded, snap.BinsTotal)
	}
	if snap.State != store.SessionChecked {
		t.Errorf("State = %q, want checked", snap.State)
	}
	if len(snap.PendingBins) != 3 {
		t.Errorf("pending = %v, want 3 bins", snap.PendingBins)
	}

	// Check is repeatable without mutating bin sub-state.
	snap2, err := m.CheckStatus("colombo_zone1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if snap2.BinsResponded != 5 || snap2.State != store.SessionChecked {
		t.Errorf("second check responded = %d state = %q", snap2.BinsResponded, snap2.State)
	}
}

func TestRetryExhaustionMarksUnresponsive(t *testing.T) {
	db := testStore(t)
	bins := seedBins(t, db, "colombo_zone1", 1)
	pub := &mockPublisher{}
	em := &mockEmitter{}
	params := DefaultParams()
	params.AckTimeout = 15 * time.Millisecond
	m := NewManager(db, pub, em, params)
	defer m.Stop()

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		snap, err := m.Snapshot("colombo_zone1")
		return err == nil && len(snap.UnresponsiveBins) == 1
	})

	// Initial issue plus three retries, each with a fresh command-id.
	cmds := pub.commands(bins[0], messaging.CmdWakeUp)
	if len(cmds) != 4 {
		t.Errorf("wake issues = %d, want 4", len(cmds))
	}
	seen := map[string]bool{}
	for _, c := range cmds {
		if seen[c.CommandID] {
			t.Errorf("command id %s reused on retry", c.CommandID)
		}
		seen[c.CommandID] = true
	}

	if got := m.UnresponsiveBins("colombo_zone1"); len(got) != 1 || got[0] != bins[0] {
		t.Errorf("UnresponsiveBins = %v", got)
	}
	b, _ := db.GetBin(bins[0])
	if b.DeviceStatus != "offline" {
		t.Errorf("DeviceStatus = %q, want offline", b.DeviceStatus)
	}
	alerts, _ := db.ListAlerts(true, 10)
	if len(alerts) != 1 || alerts[0].AlertType != "bin_unresponsive" {
		t.Errorf("alerts = %+v", alerts)
	}

	snap, _ := m.Finish("colombo_zone1")
	found := false
	for _, id := range snap.UnresponsiveBins {
		if id == bins[0] {
			found = true
		}
	}
	if !found {
		t.Error("unresponsive bin missing from finish report")
	}
}

func TestTelemetrySatisfiesPendingCommand(t *testing.T) {
	db := testStore(t)
	bins := seedBins(t, db, "colombo_zone1", 1)
	pub := &mockPublisher{}
	params := DefaultParams()
	params.AckTimeout = 25 * time.Millisecond
	m := NewManager(db, pub, &mockEmitter{}, params)
	defer m.Stop()

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.HandleTelemetry(bins[0])

	snap, err := m.Snapshot("colombo_zone1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.BinsResponded != 1 {
		t.Errorf("responded = %d, want 1", snap.BinsResponded)
	}

	// Telemetry cancels the retry timer; no further wakes fire.
	time.Sleep(4 * params.AckTimeout)
	if got := pub.commands(bins[0], messaging.CmdWakeUp); len(got) != 1 {
		t.Errorf("wake issues after telemetry = %d, want 1", len(got))
	}

	cmds := pub.commands(bins[0], messaging.CmdWakeUp)
	got, err := db.GetCommand(cmds[0].CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if got.Status != store.CommandSatisfied {
		t.Errorf("Status = %q, want satisfied", got.Status)
	}
}

func TestLateAckForSupersededCommandIgnored(t *testing.T) {
	db := testStore(t)
	bins := seedBins(t, db, "colombo_zone1", 1)
	pub := &mockPublisher{}
	params := DefaultParams()
	params.AckTimeout = 15 * time.Millisecond
	m := NewManager(db, pub, &mockEmitter{}, params)
	defer m.Stop()

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := pub.commands(bins[0], messaging.CmdWakeUp)[0]

	waitFor(t, time.Second, func() bool {
		return len(pub.commands(bins[0], messaging.CmdWakeUp)) >= 2
	})

	// The late ack for the first, already-retried command changes nothing.
	m.HandleAck(bins[0], &messaging.AckMsg{CommandID: first.CommandID})
	snap, _ := m.Snapshot("colombo_zone1")
	if snap.BinsResponded != 0 {
		t.Errorf("superseded ack should be ignored, responded = %d", snap.BinsResponded)
	}

	// The ack for the current command-id lands.
	cmds := pub.commands(bins[0], messaging.CmdWakeUp)
	m.HandleAck(bins[0], &messaging.AckMsg{CommandID: cmds[len(cmds)-1].CommandID})
	snap, _ = m.Snapshot("colombo_zone1")
	if snap.BinsResponded != 1 {
		t.Errorf("current ack should land, responded = %d", snap.BinsResponded)
	}
}

func TestUnknownAckDiscarded(t *testing.T) {
	db := testStore(t)
	seedBins(t, db, "colombo_zone1", 1)
	m := NewManager(db, &mockPublisher{}, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Must not panic or mutate anything.
	m.HandleAck("BIN-001", &messaging.AckMsg{CommandID: "never-issued"})
	snap, _ := m.Snapshot("colombo_zone1")
	if snap.BinsResponded != 0 {
		t.Errorf("responded = %d, want 0", snap.BinsResponded)
	}
}

func TestEndSleepsAllBinsEvenWithZeroResponded(t *testing.T) {
	db := testStore(t)
	bins := seedBins(t, db, "colombo_zone1", 3)
	pub := &mockPublisher{}
	m := NewManager(db, pub, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// End straight from STARTED, skipping check and finish.
	snap, err := m.End("colombo_zone1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if snap.State != store.SessionEnded {
		t.Errorf("State = %q, want ended", snap.State)
	}
	if snap.BinsResponded != 0 {
		t.Errorf("responded = %d, want 0", snap.BinsResponded)
	}
	if got := pub.countByType(messaging.CmdSleep); got != 3 {
		t.Errorf("sleep commands = %d, want 3", got)
	}
	for _, id := range bins {
		b, _ := db.GetBin(id)
		if !b.SleepMode {
			t.Errorf("bin %s should be sleeping", id)
		}
	}

	// The zone is free for a new session.
	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Errorf("restart after end: %v", err)
	}
}

func TestFinishFlagsMissedBins(t *testing.T) {
	db := testStore(t)
	bins := seedBins(t, db, "colombo_zone1", 2)
	pub := &mockPublisher{}
	m := NewManager(db, pub, &mockEmitter{}, DefaultParams())
	defer m.Stop()

	now := time.Now()
	if err := db.InsertTelemetry(&store.TelemetryReading{BinID: bins[0], Timestamp: now, FillPct: 72}); err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	if err := db.InsertTelemetry(&store.TelemetryReading{BinID: bins[1], Timestamp: now, FillPct: 8}); err != nil {
		t.Fatalf("telemetry: %v", err)
	}

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := m.Finish("colombo_zone1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if snap.State != store.SessionFinished {
		t.Errorf("State = %q, want finished", snap.State)
	}
	if len(snap.MissedBins) != 1 || snap.MissedBins[0] != bins[0] {
		t.Errorf("MissedBins = %v, want [%s]", snap.MissedBins, bins[0])
	}
}

func TestTransportFailureRetriesImmediately(t *testing.T) {
	db := testStore(t)
	bins := seedBins(t, db, "colombo_zone1", 1)
	// Long ack timeout: only the immediate-retry path can exhaust
	// retries quickly.
	pub := &mockPublisher{failBins: map[string]bool{bins[0]: true}}
	params := DefaultParams()
	params.AckTimeout = 10 * time.Second
	m := NewManager(db, pub, &mockEmitter{}, params)
	defer m.Stop()

	if _, err := m.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(m.UnresponsiveBins("colombo_zone1")) == 1
	})
}

func TestResumeAfterRestart(t *testing.T) {
	db := testStore(t)
	bins := seedBins(t, db, "colombo_zone1", 2)
	pub := &mockPublisher{}
	params := DefaultParams()
	params.AckTimeout = 20 * time.Millisecond

	m1 := NewManager(db, pub, &mockEmitter{}, params)
	if _, err := m1.StartCollection("colombo_zone1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	cmds := pub.commands(bins[0], messaging.CmdWakeUp)
	m1.HandleAck(bins[0], &messaging.AckMsg{CommandID: cmds[0].CommandID})
	m1.Stop()

	m2 := NewManager(db, pub, &mockEmitter{}, params)
	if err := m2.Start(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	defer m2.Stop()

	snap, err := m2.Snapshot("colombo_zone1")
	if err != nil {
		t.Fatalf("snapshot after resume: %v", err)
	}
	if snap.BinsTotal != 2 || snap.BinsResponded != 1 {
		t.Errorf("after resume total = %d responded = %d, want 2/1", snap.BinsTotal, snap.BinsResponded)
	}

	// The still-pending bin's timer was re-armed and keeps retrying.
	waitFor(t, 2*time.Second, func() bool {
		return len(pub.commands(bins[1], messaging.CmdWakeUp)) >= 2
	})
}
