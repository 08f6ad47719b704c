package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Collection session states.
const (
	SessionNotStarted = "not_started"
	SessionStarted    = "started"
	SessionChecked    = "checked"
	SessionFinished   = "finished"
	SessionEnded      = "ended"
)

type CollectionSession struct {
	ID         int64      `json:"id"`
	ZoneID     string     `json:"zone_id"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

type SessionBin struct {
	ID            int64  `json:"id"`
	SessionID     int64  `json:"session_id"`
	BinID         string `json:"bin_id"`
	LastCommandID string `json:"last_command_id"`
	Acked         bool   `json:"acked"`
	Responded     bool   `json:"responded"`
	Unresponsive  bool   `json:"unresponsive"`
	RetryCount    int    `json:"retry_count"`
}

const sessionSelectCols = `id, zone_id, state, created_at, updated_at, started_at, checked_at, finished_at, ended_at`

func scanSession(row interface{ Scan(...any) error }) (*CollectionSession, error) {
	var s CollectionSession
	var createdAt, updatedAt, startedAt, checkedAt, finishedAt, endedAt any
	err := row.Scan(&s.ID, &s.ZoneID, &s.State, &createdAt, &updatedAt, &startedAt, &checkedAt, &finishedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	s.StartedAt = parseTimePtr(startedAt)
	s.CheckedAt = parseTimePtr(checkedAt)
	s.FinishedAt = parseTimePtr(finishedAt)
	s.EndedAt = parseTimePtr(endedAt)
	return &s, nil
}

func (db *DB) CreateSession(zoneID string) (*CollectionSession, error) {
	result, err := db.Exec(db.Q(`INSERT INTO collection_sessions (zone_id, state) VALUES (?, ?)`),
		zoneID, SessionNotStarted)
	if err != nil {
		return nil, fmt.Errorf("create session for zone %s: %w", zoneID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create session last id: %w", err)
	}
	return db.GetSession(id)
}

func (db *DB) GetSession(id int64) (*CollectionSession, error) {
	row := db.QueryRow(db.Q(fmt.Sprintf(`SELECT %s FROM collection_sessions WHERE id=?`, sessionSelectCols)), id)
	return scanSession(row)
}

// ActiveSession returns the open session for a zone, or sql.ErrNoRows.
func (db *DB) ActiveSession(zoneID string) (*CollectionSession, error) {
	row := db.QueryRow(db.Q(fmt.Sprintf(`SELECT %s FROM collection_sessions WHERE zone_id=? AND ended_at IS NULL ORDER BY id DESC LIMIT 1`, sessionSelectCols)), zoneID)
	return scanSession(row)
}

// ZonesWithActiveSessions lists zone IDs that have an open session.
func (db *DB) ZonesWithActiveSessions() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT zone_id FROM collection_sessions WHERE ended_at IS NULL ORDER BY zone_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) ListSessions(zoneID string, limit int) ([]*CollectionSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM collection_sessions WHERE zone_id=? ORDER BY id DESC LIMIT ?`, sessionSelectCols)), zoneID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []*CollectionSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (db *DB) SetSessionState(id int64, state string, at time.Time) error {
	var col string
	switch state {
	case SessionStarted:
		col = "started_at"
	case SessionChecked:
		col = "checked_at"
	case SessionFinished:
		col = "finished_at"
	case SessionEnded:
		col = "ended_at"
	default:
		return fmt.Errorf("unknown session state: %s", state)
	}
	_, err := db.Exec(db.Q(fmt.Sprintf(`UPDATE collection_sessions SET state=?, %s=?, updated_at=datetime('now','localtime') WHERE id=?`, col)),
		state, fmtTime(at), id)
	return err
}

func (db *DB) AddSessionBin(sessionID int64, binID string) error {
	_, err := db.Exec(db.Q(`INSERT INTO session_bins (session_id, bin_id) VALUES (?, ?)`),
		sessionID, binID)
	if err != nil {
		return fmt.Errorf("add session bin %s: %w", binID, err)
	}
	return nil
}

func (db *DB) ListSessionBins(sessionID int64) ([]*SessionBin, error) {
	rows, err := db.Query(db.Q(`SELECT id, session_id, bin_id, last_command_id, acked, responded, unresponsive, retry_count FROM session_bins WHERE session_id=? ORDER BY bin_id`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sbs []*SessionBin
	for rows.Next() {
		var sb SessionBin
		if err := rows.Scan(&sb.ID, &sb.SessionID, &sb.BinID, &sb.LastCommandID, &sb.Acked, &sb.Responded, &sb.Unresponsive, &sb.RetryCount); err != nil {
			return nil, err
		}
		sbs = append(sbs, &sb)
	}
	return sbs, rows.Err()
}

func (db *DB) SetSessionBinCommand(sessionID int64, binID, commandID string, retryCount int) error {
	_, err := db.Exec(db.Q(`UPDATE session_bins SET last_command_id=?, retry_count=? WHERE session_id=? AND bin_id=?`),
		commandID, retryCount, sessionID, binID)
	return err
}

func (db *DB) MarkSessionBinAcked(sessionID int64, binID string) error {
	_, err := db.Exec(db.Q(`UPDATE session_bins SET acked=?, responded=? WHERE session_id=? AND bin_id=?`),
		true, true, sessionID, binID)
	return err
}

func (db *DB) MarkSessionBinResponded(sessionID int64, binID string) error {
	_, err := db.Exec(db.Q(`UPDATE session_bins SET responded=? WHERE session_id=? AND bin_id=?`),
		true, sessionID, binID)
	return err
}

func (db *DB) MarkSessionBinUnresponsive(sessionID int64, binID string) error {
	_, err := db.Exec(db.Q(`UPDATE session_bins SET unresponsive=? WHERE session_id=? AND bin_id=?`),
		true, sessionID, binID)
	return err
}

func (db *DB) scanSessionBinRow(row *sql.Row) (*SessionBin, error) {
	var sb SessionBin
	err := row.Scan(&sb.ID, &sb.SessionID, &sb.BinID, &sb.LastCommandID, &sb.Acked, &sb.Responded, &sb.Unresponsive, &sb.RetryCount)
	if err != nil {
		return nil, err
	}
	return &sb, nil
}

func (db *DB) GetSessionBin(sessionID int64, binID string) (*SessionBin, error) {
	row := db.QueryRow(db.Q(`SELECT id, session_id, bin_id, last_command_id, acked, responded, unresponsive, retry_count FROM session_bins WHERE session_id=? AND bin_id=?`),
		sessionID, binID)
	return db.scanSessionBinRow(row)
}
