package lifecycle

import (
	"errors"
	"time"

	"cleanroute/messaging"
)

// Publisher sends commands toward devices. Implementations must tolerate
// concurrent calls.
type Publisher interface {
	PublishCommand(binID string, cmd *messaging.CommandMsg) error
}

// EventEmitter is the interface the lifecycle package uses to emit events.
type EventEmitter interface {
	EmitSessionStateChanged(zoneID string, sessionID int64, oldState, newState string)
	EmitCommandIssued(zoneID, binID, commandID, commandType string, retry int)
	EmitBinResponded(zoneID, binID string)
	EmitBinUnresponsive(zoneID, binID string)
}

// ErrNoActiveSession is returned for check/finish/end on a zone with no
// open collection session.
var ErrNoActiveSession = errors.New("no active collection session for zone")

// ErrSessionActive is returned when starting a zone that already has one.
var ErrSessionActive = errors.New("collection session already active for zone")

// Snapshot is the operator-facing view of a session. Counts are always
// populated so the operator is never left without a tally.
type Snapshot struct {
	ZoneID           string     `json:"zone_id"`
	SessionID        int64      `json:"session_id,omitempty"`
	State            string     `json:"state"`
	BinsTotal        int        `json:"bins_total"`
	BinsAcked        int        `json:"bins_acked"`
	BinsResponded    int        `json:"bins_responded"`
	PendingBins      []string   `json:"pending_bins,omitempty"`
	UnresponsiveBins []string   `json:"unresponsive_bins,omitempty"`
	MissedBins       []string   `json:"missed_bins,omitempty"`
	CreatedAt        time.Time  `json:"created_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// Params holds the tunables for a manager instance.
type Params struct {
	AckTimeout      time.Duration
	MaxRetries      int
	CollectionHours int
	CollectedBelow  float64
}

func DefaultParams() Params {
	return Params{
		AckTimeout:      30 * time.Second,
		MaxRetries:      3,
		CollectionHours: 12,
		CollectedBelow:  40,
	}
}
