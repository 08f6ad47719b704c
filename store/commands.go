package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Command statuses.
const (
	CommandPending   = "pending"
	CommandAcked     = "acked"
	CommandSatisfied = "satisfied"
	CommandFailed    = "failed"
	CommandExpired   = "expired"
)

type Command struct {
	ID          int64      `json:"id"`
	CommandID   string     `json:"command_id"`
	BinID       string     `json:"bin_id"`
	ZoneID      string     `json:"zone_id"`
	CommandType string     `json:"command_type"`
	Params      string     `json:"params"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	IssuedAt    time.Time  `json:"issued_at"`
	AckDeadline time.Time  `json:"ack_deadline"`
	AckedAt     *time.Time `json:"acked_at,omitempty"`
	Detail      string     `json:"detail"`
}

const commandSelectCols = `id, command_id, bin_id, zone_id, command_type, params, status, retry_count, issued_at, ack_deadline, acked_at, detail`

func scanCommand(row interface{ Scan(...any) error }) (*Command, error) {
	var c Command
	var issuedAt, ackDeadline, ackedAt any
	err := row.Scan(&c.ID, &c.CommandID, &c.BinID, &c.ZoneID, &c.CommandType, &c.Params,
		&c.Status, &c.RetryCount, &issuedAt, &ackDeadline, &ackedAt, &c.Detail)
	if err != nil {
		return nil, err
	}
	c.IssuedAt = parseTime(issuedAt)
	c.AckDeadline = parseTime(ackDeadline)
	c.AckedAt = parseTimePtr(ackedAt)
	return &c, nil
}

func scanCommands(rows *sql.Rows) ([]*Command, error) {
	var cmds []*Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

func (db *DB) CreateCommand(c *Command) error {
	if c.Params == "" {
		c.Params = "{}"
	}
	if c.Status == "" {
		c.Status = CommandPending
	}
	result, err := db.Exec(db.Q(`INSERT INTO commands (command_id, bin_id, zone_id, command_type, params, status, retry_count, ack_deadline) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.CommandID, c.BinID, c.ZoneID, c.CommandType, c.Params, c.Status, c.RetryCount, fmtTime(c.AckDeadline))
	if err != nil {
		return fmt.Errorf("create command %s: %w", c.CommandID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

func (db *DB) GetCommand(commandID string) (*Command, error) {
	row := db.QueryRow(db.Q(fmt.Sprintf(`SELECT %s FROM commands WHERE command_id=?`, commandSelectCols)), commandID)
	return scanCommand(row)
}

func (db *DB) ListCommandsForBin(binID string, limit int) ([]*Command, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM commands WHERE bin_id=? ORDER BY issued_at DESC LIMIT ?`, commandSelectCols)), binID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

func (db *DB) ListPendingCommands() ([]*Command, error) {
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM commands WHERE status=? ORDER BY issued_at ASC`, commandSelectCols)), CommandPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

func (db *DB) MarkCommandAcked(commandID string, at time.Time) error {
	_, err := db.Exec(db.Q(`UPDATE commands SET status=?, acked_at=? WHERE command_id=? AND status=?`),
		CommandAcked, fmtTime(at), commandID, CommandPending)
	return err
}

func (db *DB) MarkCommandSatisfied(commandID string, at time.Time) error {
	_, err := db.Exec(db.Q(`UPDATE commands SET status=?, acked_at=COALESCE(acked_at, ?) WHERE command_id=?`),
		CommandSatisfied, fmtTime(at), commandID)
	return err
}

func (db *DB) MarkCommandFailed(commandID, detail string) error {
	_, err := db.Exec(db.Q(`UPDATE commands SET status=?, detail=? WHERE command_id=?`),
		CommandFailed, detail, commandID)
	return err
}

// ExpireCommand retires a superseded command so a late ack for it is ignored.
func (db *DB) ExpireCommand(commandID string) error {
	_, err := db.Exec(db.Q(`UPDATE commands SET status=? WHERE command_id=? AND status=?`),
		CommandExpired, commandID, CommandPending)
	return err
}
