package lifecycle

import (
	"sort"
	"time"
)

// binState is the live per-bin sub-record, owned exclusively by the
// session actor goroutine.
type binState struct {
	binID         string
	lastCommandID string
	acked         bool
	responded     bool
	unresponsive  bool
	retry         int
}

// session is a per-zone actor. All mutation happens on the run goroutine,
// so operator actions, inbound acks, telemetry and timer expirations form
// one totally ordered stream per zone. Independent zones run in parallel.
type session struct {
	id      int64
	zoneID  string
	state   string
	created time.Time

	ops    chan func()
	closed chan struct{}

	bins   map[string]*binState
	timers map[string]*time.Timer
}

func newSession(id int64, zoneID, state string, created time.Time) *session {
	s := &session{
		id:      id,
		zoneID:  zoneID,
		state:   state,
		created: created,
		ops:     make(chan func(), 64),
		closed:  make(chan struct{}),
		bins:    make(map[string]*binState),
		timers:  make(map[string]*time.Timer),
	}
	go s.run()
	return s
}

func (s *session) run() {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.closed:
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it to complete.
func (s *session) do(fn func()) {
	done := make(chan struct{})
	select {
	case s.ops <- func() {
		fn()
		close(done)
	}:
	case <-s.closed:
		return
	}
	select {
	case <-done:
	case <-s.closed:
	}
}

// enqueue posts fn without waiting. Used from timer callbacks; a closed
// session silently drops the work.
func (s *session) enqueue(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.closed:
	}
}

// close stops the actor and cancels every outstanding timer. Must be
// called from the actor goroutine.
func (s *session) close() {
	s.cancelAllTimers()
	close(s.closed)
}

func (s *session) armTimer(commandID string, d time.Duration, fire func()) {
	s.timers[commandID] = time.AfterFunc(d, func() {
		s.enqueue(fire)
	})
}

func (s *session) cancelTimer(commandID string) {
	if t, ok := s.timers[commandID]; ok {
		t.Stop()
		delete(s.timers, commandID)
	}
}

func (s *session) cancelAllTimers() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// snapshot builds the operator view. Must run on the actor goroutine.
func (s *session) snapshot() *Snapshot {
	snap := &Snapshot{
		ZoneID:    s.zoneID,
		SessionID: s.id,
		State:     s.state,
		BinsTotal: len(s.bins),
		CreatedAt: s.created,
	}
	for _, b := range sortedBins(s.bins) {
		if b.acked {
			snap.BinsAcked++
		}
		if b.responded {
			snap.BinsResponded++
		}
		switch {
		case b.unresponsive:
			snap.UnresponsiveBins = append(snap.UnresponsiveBins, b.binID)
		case !b.responded:
			snap.PendingBins = append(snap.PendingBins, b.binID)
		}
	}
	return snap
}

func sortedBins(bins map[string]*binState) []*binState {
	out := make([]*binState, 0, len(bins))
	for _, b := range bins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].binID < out[j].binID })
	return out
}
